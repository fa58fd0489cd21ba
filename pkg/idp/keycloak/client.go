package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/idp/pkg/idp"
)

const adminTokenKey = "admin_token"

// errorResponse covers both error shapes Keycloak produces: OAuth2 errors
// from the OIDC endpoints ("error"/"error_description") and Admin REST
// errors ("errorMessage").
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorMessage     string `json:"errorMessage"`
}

func (e errorResponse) message() string {
	switch {
	case e.ErrorDescription != "":
		return e.ErrorDescription
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		return e.Error
	}
}

func parseErrorBody(body []byte) errorResponse {
	var er errorResponse
	_ = json.Unmarshal(body, &er)
	return er
}

// realmURL builds a URL under /realms/{realm} (OIDC endpoints).
func (a *Adapter) realmURL(path string) string {
	return a.cfg.BaseURL + "/realms/" + url.PathEscape(a.cfg.Realm) + path
}

// adminURL builds a URL under /admin/realms/{realm} (Admin REST API).
func (a *Adapter) adminURL(path string) string {
	return a.cfg.BaseURL + "/admin/realms/" + url.PathEscape(a.cfg.Realm) + path
}

// unavailable wraps a transport-level failure (request construction, DNS,
// connect, caller timeout) as the retry-safe kind.
func unavailable(op string, err error) error {
	return idp.Wrap(idp.KindUnavailable, op, "request failed", err)
}

// postForm sends an application/x-www-form-urlencoded POST and returns the
// response with its body fully read. Transport failures come back already
// wrapped as KindUnavailable; status handling is the caller's.
func (a *Adapter) postForm(ctx context.Context, op, rawURL string, data url.Values) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, nil, unavailable(op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return a.send(op, req)
}

// doAdmin sends an Admin REST request with the cached service-account token.
// A nil body sends no payload; otherwise body is JSON-encoded.
func (a *Adapter) doAdmin(ctx context.Context, op, method, rawURL string, body any) (*http.Response, []byte, error) {
	token, err := a.adminToken(ctx, op)
	if err != nil {
		return nil, nil, err
	}

	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, nil, unavailable(op, fmt.Errorf("failed to encode request: %w", err))
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, payload)
	if err != nil {
		return nil, nil, unavailable(op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return a.send(op, req)
}

// doBearer sends a request authorized by a caller-supplied access token.
func (a *Adapter) doBearer(ctx context.Context, op, method, rawURL, accessToken string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, nil, unavailable(op, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	return a.send(op, req)
}

func (a *Adapter) send(op string, req *http.Request) (*http.Response, []byte, error) {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, nil, unavailable(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, unavailable(op, fmt.Errorf("failed to read response body: %w", err))
	}
	return resp, body, nil
}

// adminToken returns a valid service-account access token, fetching a new
// one via the client_credentials grant when the cached token has expired.
func (a *Adapter) adminToken(ctx context.Context, op string) (string, error) {
	if cached, ok := a.adminTokens.Get(adminTokenKey); ok {
		return cached.(string), nil
	}

	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {a.cfg.AdminClientID},
		"client_secret": {a.cfg.AdminClientSecret},
	}

	resp, body, err := a.postForm(ctx, op, a.realmURL("/protocol/openid-connect/token"), data)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		er := parseErrorBody(body)
		if resp.StatusCode == http.StatusUnauthorized || er.Error == "invalid_client" || er.Error == "unauthorized_client" {
			return "", idp.E(idp.KindClientUnauthorized, op, "admin service account rejected")
		}
		return "", idp.E(idp.KindUnavailable, op, fmt.Sprintf("admin token request failed with status %d", resp.StatusCode))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", unavailable(op, fmt.Errorf("failed to decode token response: %w", err))
	}

	// Expire ahead of Keycloak so a cached token is never presented stale.
	ttl := time.Duration(tr.ExpiresIn)*time.Second - 30*time.Second
	if ttl > 0 {
		a.adminTokens.Set(adminTokenKey, tr.AccessToken, ttl)
	}

	return tr.AccessToken, nil
}

// adminStatusError maps an unexpected Admin REST status to a typed failure.
// notFound is the kind to report for 404s, which differs by resource.
func adminStatusError(op string, resp *http.Response, body []byte, notFound idp.Kind) error {
	er := parseErrorBody(body)
	switch resp.StatusCode {
	case http.StatusNotFound:
		return idp.E(notFound, op, er.message())
	case http.StatusUnauthorized, http.StatusForbidden:
		return idp.E(idp.KindClientUnauthorized, op, er.message())
	case http.StatusConflict:
		// Callers override for duplicate-specific kinds before reaching here.
		return idp.E(idp.KindValidation, op, er.message())
	case http.StatusBadRequest:
		return idp.E(idp.KindValidation, op, er.message())
	default:
		return idp.E(idp.KindUnavailable, op, fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, er.message()))
	}
}

// locationID extracts the created resource ID from a 201 Location header.
func locationID(resp *http.Response) string {
	loc := resp.Header.Get("Location")
	if loc == "" {
		return ""
	}
	return loc[strings.LastIndex(loc, "/")+1:]
}
