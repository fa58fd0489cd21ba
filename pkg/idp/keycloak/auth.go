package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/aussiebroadwan/idp/pkg/idp"
)

// tokenResponse is the OAuth2 token endpoint payload per RFC 6749, plus the
// id_token OIDC adds.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

func (tr tokenResponse) toTokenSet() *idp.TokenSet {
	return &idp.TokenSet{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		IDToken:      tr.IDToken,
		TokenType:    tr.TokenType,
		ExpiresIn:    tr.ExpiresIn,
		Scope:        tr.Scope,
	}
}

// requestToken posts to the realm token endpoint and normalizes the result.
// invalidGrant is the kind reported for "invalid_grant", which means bad
// user credentials during login but a dead refresh token during refresh.
func (a *Adapter) requestToken(ctx context.Context, op string, data url.Values, invalidGrant idp.Kind) (*idp.TokenSet, error) {
	resp, body, err := a.postForm(ctx, op, a.realmURL("/protocol/openid-connect/token"), data)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		er := parseErrorBody(body)
		switch er.Error {
		case "invalid_grant":
			return nil, idp.E(invalidGrant, op, er.message())
		case "invalid_client", "unauthorized_client":
			return nil, idp.E(idp.KindClientUnauthorized, op, er.message())
		case "invalid_scope", "invalid_request":
			return nil, idp.E(idp.KindValidation, op, er.message())
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, idp.E(invalidGrant, op, er.message())
		}
		return nil, idp.E(idp.KindUnavailable, op, fmt.Sprintf("token request failed with status %d", resp.StatusCode))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, unavailable(op, fmt.Errorf("failed to decode token response: %w", err))
	}

	return tr.toTokenSet(), nil
}

// Login implements idp.Adapter using the Resource Owner Password Credentials
// grant against the realm token endpoint.
func (a *Adapter) Login(ctx context.Context, req idp.LoginRequest) (*idp.TokenSet, error) {
	data := url.Values{
		"grant_type": {"password"},
		"username":   {req.Username},
		"password":   {req.Password},
		"client_id":  {req.ClientID},
	}
	if req.ClientSecret != "" {
		data.Set("client_secret", req.ClientSecret)
	}
	if req.Scope != "" {
		data.Set("scope", req.Scope)
	}

	return a.requestToken(ctx, "login", data, idp.KindInvalidCredentials)
}

// Refresh implements idp.Adapter. Keycloak rotates the refresh token when
// the realm has revoke-refresh-token enabled; the rotated token comes back
// in the result either way.
func (a *Adapter) Refresh(ctx context.Context, req idp.RefreshRequest) (*idp.TokenSet, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {req.RefreshToken},
		"client_id":     {req.ClientID},
	}
	if req.ClientSecret != "" {
		data.Set("client_secret", req.ClientSecret)
	}

	return a.requestToken(ctx, "refresh", data, idp.KindInvalidOrExpiredToken)
}

// Logout implements idp.Adapter. Both tokens are invalidated: the refresh
// token through the OIDC logout endpoint (which ends the session) and the
// access token through RFC 7009 revocation. 400-class rejections of
// already-dead tokens are ignored; transport failures and server errors are
// reported — a 5xx means the tokens are still live.
func (a *Adapter) Logout(ctx context.Context, req idp.LogoutRequest) error {
	const op = "logout"

	if req.RefreshToken != "" {
		data := url.Values{
			"client_id":     {a.cfg.ClientID},
			"refresh_token": {req.RefreshToken},
		}
		if a.cfg.ClientSecret != "" {
			data.Set("client_secret", a.cfg.ClientSecret)
		}
		resp, _, err := a.postForm(ctx, op, a.realmURL("/protocol/openid-connect/logout"), data)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return idp.E(idp.KindUnavailable, op, fmt.Sprintf("logout endpoint answered %d", resp.StatusCode))
		}
	}

	if req.AccessToken != "" {
		data := url.Values{
			"client_id":       {a.cfg.ClientID},
			"token":           {req.AccessToken},
			"token_type_hint": {"access_token"},
		}
		if a.cfg.ClientSecret != "" {
			data.Set("client_secret", a.cfg.ClientSecret)
		}
		resp, _, err := a.postForm(ctx, op, a.realmURL("/protocol/openid-connect/revoke"), data)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return idp.E(idp.KindUnavailable, op, fmt.Sprintf("revocation endpoint answered %d", resp.StatusCode))
		}
	}

	return nil
}

// Introspect implements idp.Adapter (RFC 7662). An inactive token is a
// successful result with Active=false; only failures of the introspection
// call itself are errors.
func (a *Adapter) Introspect(ctx context.Context, accessToken string) (*idp.Introspection, error) {
	const op = "introspect"

	data := url.Values{
		"token":         {accessToken},
		"client_id":     {a.cfg.ClientID},
		"client_secret": {a.cfg.ClientSecret},
	}

	resp, body, err := a.postForm(ctx, op, a.realmURL("/protocol/openid-connect/token/introspect"), data)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, idp.E(idp.KindClientUnauthorized, op, parseErrorBody(body).message())
		}
		return nil, idp.E(idp.KindUnavailable, op, fmt.Sprintf("introspection failed with status %d", resp.StatusCode))
	}

	// aud may be a single string or an array; accept both.
	var wire struct {
		Active   bool            `json:"active"`
		Scope    string          `json:"scope"`
		Username string          `json:"username"`
		Sub      string          `json:"sub"`
		Exp      int64           `json:"exp"`
		Iat      int64           `json:"iat"`
		Aud      json.RawMessage `json:"aud"`
		Iss      string          `json:"iss"`
		JTI      string          `json:"jti"`
		ClientID string          `json:"client_id"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, unavailable(op, fmt.Errorf("failed to decode introspection response: %w", err))
	}

	return &idp.Introspection{
		Active:   wire.Active,
		Scope:    wire.Scope,
		Username: wire.Username,
		Sub:      wire.Sub,
		Exp:      wire.Exp,
		Iat:      wire.Iat,
		Aud:      decodeAudience(wire.Aud),
		Iss:      wire.Iss,
		JTI:      wire.JTI,
		ClientID: wire.ClientID,
	}, nil
}

func decodeAudience(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil && one != "" {
		return []string{one}
	}
	return nil
}

// UserInfo implements idp.Adapter against the OIDC userinfo endpoint.
func (a *Adapter) UserInfo(ctx context.Context, accessToken string) (*idp.UserInfo, error) {
	const op = "userInfo"

	resp, body, err := a.doBearer(ctx, op, http.MethodGet, a.realmURL("/protocol/openid-connect/userinfo"), accessToken)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, idp.E(idp.KindInvalidOrExpiredToken, op, "token not valid for userinfo")
		}
		return nil, idp.E(idp.KindUnavailable, op, fmt.Sprintf("userinfo failed with status %d", resp.StatusCode))
	}

	var wire struct {
		Sub               string `json:"sub"`
		Email             string `json:"email"`
		EmailVerified     bool   `json:"email_verified"`
		Name              string `json:"name"`
		PreferredUsername string `json:"preferred_username"`
		GivenName         string `json:"given_name"`
		FamilyName        string `json:"family_name"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, unavailable(op, fmt.Errorf("failed to decode userinfo response: %w", err))
	}

	return &idp.UserInfo{
		Sub:               wire.Sub,
		Email:             wire.Email,
		EmailVerified:     wire.EmailVerified,
		Name:              wire.Name,
		PreferredUsername: wire.PreferredUsername,
		GivenName:         wire.GivenName,
		FamilyName:        wire.FamilyName,
	}, nil
}

// RevokeRefreshToken implements idp.Adapter via RFC 7009 revocation. The RFC
// makes revocation of an already-invalid token a success, which matches the
// contract.
func (a *Adapter) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	const op = "revokeRefreshToken"

	data := url.Values{
		"client_id":       {a.cfg.ClientID},
		"token":           {refreshToken},
		"token_type_hint": {"refresh_token"},
	}
	if a.cfg.ClientSecret != "" {
		data.Set("client_secret", a.cfg.ClientSecret)
	}

	resp, body, err := a.postForm(ctx, op, a.realmURL("/protocol/openid-connect/revoke"), data)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return idp.E(idp.KindClientUnauthorized, op, parseErrorBody(body).message())
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return idp.E(idp.KindUnavailable, op, fmt.Sprintf("revocation failed with status %d", resp.StatusCode))
	}
	return nil
}
