// Package local is a self-contained identity provider backed by sqlite. It
// implements the full adapter contract without an external backend, which
// makes it useful both as a lightweight deployment option and as the
// reference implementation the conformance suite runs against.
package local

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/idp/pkg/idp"
	"github.com/aussiebroadwan/idp/pkg/idp/local/store"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
	defaultChallengeTTL    = 5 * time.Minute
	defaultMinPasswordLen  = 8
)

// maxChallengeAttempts is how many wrong codes a single challenge tolerates
// before locking out.
const maxChallengeAttempts = 5

// Client is a registered OAuth2 client. A confidential client carries a
// secret; public clients leave it empty.
type Client struct {
	ID     string
	Secret string
}

// SendCodeFunc delivers an out-of-band MFA code. Implementations send email
// or SMS in production; tests capture the code.
type SendCodeFunc func(ctx context.Context, method idp.DeliveryMethod, destination, code string) error

// SendResetFunc delivers a password reset token to the user's email.
type SendResetFunc func(ctx context.Context, email, token string) error

// Config configures the local provider.
type Config struct {
	// Issuer is the iss claim stamped on minted access tokens.
	Issuer string

	// DSN is the sqlite data source, e.g. "file:idp.db". A plain ":memory:"
	// does not work here: the connection pool would give every connection
	// its own empty database. For an in-memory store use
	// "file::memory:?mode=memory&cache=shared".
	DSN string

	// Clients are the registered OAuth2 clients. Logins from unknown
	// clients are rejected.
	Clients []Client

	// AccessTokenTTL defaults to 15 minutes.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL defaults to 30 days.
	RefreshTokenTTL time.Duration

	// ChallengeTTL bounds MFA challenge validity. Defaults to 5 minutes.
	ChallengeTTL time.Duration

	// MinPasswordLength is the password policy floor. Defaults to 8.
	MinPasswordLength int

	// SendCode delivers MFA codes. Required if any user lacks a TOTP
	// enrollment; challenges fall back to email or SMS delivery.
	SendCode SendCodeFunc

	// SendReset delivers password reset tokens. Optional; when nil, reset
	// requests succeed without sending anything.
	SendReset SendResetFunc
}

// Adapter is the local provider.
type Adapter struct {
	cfg    Config
	store  *store.Store
	signer *tokenSigner

	// verifyLimiters throttles MFA verification per user on top of the
	// per-challenge attempt cap.
	mu             sync.Mutex
	verifyLimiters map[string]*rate.Limiter
}

// New opens the backing database, applies migrations and prepares a signing
// key. The signing key is ephemeral: tokens do not survive a restart, which
// is acceptable because the token records they reference live in the
// database and introspection treats unknown tokens as inactive.
func New(cfg Config) (*Adapter, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("local: issuer is required")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("local: dsn is required")
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = defaultAccessTokenTTL
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = defaultRefreshTokenTTL
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = defaultChallengeTTL
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = defaultMinPasswordLen
	}

	st, err := store.NewStore(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("local: open store: %w", err)
	}
	if err := st.ApplyMigrations(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("local: migrate: %w", err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("local: generate signing key: %w", err)
	}

	return &Adapter{
		cfg:            cfg,
		store:          st,
		signer:         &tokenSigner{issuer: cfg.Issuer, priv: priv, pub: pub},
		verifyLimiters: make(map[string]*rate.Limiter),
	}, nil
}

// Close releases the backing database.
func (a *Adapter) Close() error { return a.store.Close() }

func (a *Adapter) Name() string { return "local" }

// client returns the registered client matching id, or nil.
func (a *Adapter) client(id string) *Client {
	for i := range a.cfg.Clients {
		if a.cfg.Clients[i].ID == id {
			return &a.cfg.Clients[i]
		}
	}
	return nil
}

func (a *Adapter) checkClient(op, clientID, clientSecret string) error {
	c := a.client(clientID)
	if c == nil || c.Secret != clientSecret {
		return idp.E(idp.KindClientUnauthorized, op, "unknown client or bad client secret")
	}
	return nil
}

func (a *Adapter) verifyLimiter(userID string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.verifyLimiters[userID]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Second), 10)
		a.verifyLimiters[userID] = l
	}
	return l
}

// clientInfoKey carries request metadata for session records.
type clientInfoKey struct{}

type clientInfo struct {
	ip        string
	userAgent string
}

// WithClientInfo annotates ctx with the caller's IP and user agent so
// sessions created by Login record where they came from.
func WithClientInfo(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, clientInfo{ip: ip, userAgent: userAgent})
}

func clientInfoFrom(ctx context.Context) clientInfo {
	info, _ := ctx.Value(clientInfoKey{}).(clientInfo)
	return info
}
