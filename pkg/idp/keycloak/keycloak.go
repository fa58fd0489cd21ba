// Package keycloak binds the idp.Adapter contract to a Keycloak realm. User
// authentication goes through the realm's OpenID Connect endpoints;
// administration goes through the Admin REST API using a service-account
// (client credentials) token that is cached between calls.
package keycloak

import (
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const defaultTimeout = 10 * time.Second

// Config carries the per-realm settings for one adapter instance.
type Config struct {
	// BaseURL is the Keycloak root, e.g. "https://sso.example.com".
	BaseURL string

	// Realm is the realm all operations target.
	Realm string

	// ClientID and ClientSecret authenticate user-facing flows (login,
	// refresh, introspection, logout).
	ClientID     string
	ClientSecret string

	// AdminClientID and AdminClientSecret authenticate the service account
	// used for Admin REST calls. When empty, ClientID/ClientSecret are used
	// and must belong to a client with service accounts enabled.
	AdminClientID     string
	AdminClientSecret string

	// HTTPClient overrides the default client (10s timeout). Callers that
	// need finer control (proxies, TLS config) supply their own.
	HTTPClient *http.Client
}

// Adapter implements idp.Adapter against a Keycloak realm. It is stateless
// with respect to callers; the only cross-call state is the cached admin
// service-account token, which is the adapter's own credential.
type Adapter struct {
	cfg        Config
	httpClient *http.Client

	// adminTokens caches the service-account access token under a single
	// key, expiring shortly before Keycloak does.
	adminTokens *gocache.Cache
}

// New creates a Keycloak adapter for the configured realm.
func New(cfg Config) *Adapter {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.AdminClientID == "" {
		cfg.AdminClientID = cfg.ClientID
		cfg.AdminClientSecret = cfg.ClientSecret
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Adapter{
		cfg:         cfg,
		httpClient:  httpClient,
		adminTokens: gocache.New(gocache.NoExpiration, time.Minute),
	}
}

// Name implements idp.Adapter.
func (a *Adapter) Name() string { return "keycloak" }
