package local

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aussiebroadwan/idp/pkg/cryptox"
	"github.com/aussiebroadwan/idp/pkg/idp"
	"github.com/aussiebroadwan/idp/pkg/idp/local/store"
	"github.com/aussiebroadwan/idp/pkg/idx"
)

// Login verifies the user's password, records a new session and mints a
// token set bound to it.
func (a *Adapter) Login(ctx context.Context, req idp.LoginRequest) (*idp.TokenSet, error) {
	const op = "local.Login"

	if err := a.checkClient(op, req.ClientID, req.ClientSecret); err != nil {
		return nil, err
	}

	user, err := a.store.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, idp.E(idp.KindInvalidCredentials, op, "invalid username or password")
		}
		return nil, idp.Wrap(idp.KindUnavailable, op, "look up user", err)
	}
	if !user.Enabled {
		return nil, idp.E(idp.KindInvalidCredentials, op, "invalid username or password")
	}
	if err := cryptox.VerifyPassword(req.Password, user.PasswordHash); err != nil {
		return nil, idp.E(idp.KindInvalidCredentials, op, "invalid username or password")
	}

	now := time.Now().UTC()
	info := clientInfoFrom(ctx)
	sessionID := idx.New().String()

	set, err := a.issueTokens(ctx, op, user, req.ClientID, req.Scope, sessionID, now, func(tx *store.Tx) error {
		return tx.CreateSession(ctx, store.Session{
			ID:           sessionID,
			UserID:       user.ID,
			CreatedAt:    now,
			LastAccessAt: now,
			IPAddress:    info.ip,
			UserAgent:    info.userAgent,
		})
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// issueTokens creates access and refresh token records in one transaction,
// running prepare first (session creation on login, rotation on refresh).
func (a *Adapter) issueTokens(
	ctx context.Context,
	op string,
	user store.User,
	clientID, scope, sessionID string,
	now time.Time,
	prepare func(tx *store.Tx) error,
) (*idp.TokenSet, error) {
	jti := idx.New().String()
	refreshToken, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, idp.Wrap(idp.KindUnavailable, op, "generate refresh token", err)
	}

	err = a.store.WithTx(ctx, func(tx *store.Tx) error {
		if prepare != nil {
			if err := prepare(tx); err != nil {
				return err
			}
		}
		if err := tx.CreateAccessToken(ctx, store.AccessToken{
			JTI:       jti,
			UserID:    user.ID,
			SessionID: sessionID,
			ClientID:  clientID,
			Scope:     scope,
			ExpiresAt: now.Add(a.cfg.AccessTokenTTL),
		}); err != nil {
			return err
		}
		return tx.CreateRefreshToken(ctx, store.RefreshToken{
			ID:        idx.New().String(),
			TokenHash: cryptox.FingerprintToken(refreshToken),
			UserID:    user.ID,
			SessionID: sessionID,
			ClientID:  clientID,
			Scope:     scope,
			ExpiresAt: now.Add(a.cfg.RefreshTokenTTL),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, idp.Wrap(idp.KindUnavailable, op, "persist token set", err)
	}

	accessToken, err := a.signer.mint(mintParams{
		jti:       jti,
		subject:   user.ID,
		username:  user.Username,
		clientID:  clientID,
		sessionID: sessionID,
		scope:     scope,
		ttl:       a.cfg.AccessTokenTTL,
	}, now)
	if err != nil {
		return nil, idp.Wrap(idp.KindUnavailable, op, "mint access token", err)
	}

	return &idp.TokenSet{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(a.cfg.AccessTokenTTL.Seconds()),
		Scope:        scope,
	}, nil
}

// Refresh rotates the refresh token: the presented token is revoked and a
// fresh pair is issued against the same session.
func (a *Adapter) Refresh(ctx context.Context, req idp.RefreshRequest) (*idp.TokenSet, error) {
	const op = "local.Refresh"

	if err := a.checkClient(op, req.ClientID, req.ClientSecret); err != nil {
		return nil, err
	}

	rec, err := a.store.GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(req.RefreshToken))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, idp.E(idp.KindInvalidOrExpiredToken, op, "refresh token is not recognized")
		}
		return nil, idp.Wrap(idp.KindUnavailable, op, "look up refresh token", err)
	}

	now := time.Now().UTC()
	if rec.Revoked || now.After(rec.ExpiresAt) || rec.ClientID != req.ClientID {
		return nil, idp.E(idp.KindInvalidOrExpiredToken, op, "refresh token is revoked or expired")
	}

	sess, err := a.store.GetSession(ctx, rec.SessionID)
	if err != nil {
		return nil, idp.Wrap(idp.KindUnavailable, op, "look up session", err)
	}
	if sess.RevokedAt != nil {
		return nil, idp.E(idp.KindInvalidOrExpiredToken, op, "session has been revoked")
	}

	user, err := a.store.GetUser(ctx, rec.UserID)
	if err != nil {
		return nil, idp.Wrap(idp.KindUnavailable, op, "look up user", err)
	}
	if !user.Enabled {
		return nil, idp.E(idp.KindInvalidOrExpiredToken, op, "account is disabled")
	}

	set, err := a.issueTokens(ctx, op, user, rec.ClientID, rec.Scope, rec.SessionID, now, func(tx *store.Tx) error {
		if err := tx.RevokeRefreshToken(ctx, rec.ID); err != nil {
			return err
		}
		return tx.TouchSession(ctx, rec.SessionID, now)
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// Logout revokes both tokens of the set. Tokens that are already invalid or
// unknown are skipped silently; only storage failures surface.
func (a *Adapter) Logout(ctx context.Context, req idp.LogoutRequest) error {
	const op = "local.Logout"

	if claims, err := a.signer.parse(req.AccessToken); err == nil {
		if err := a.store.RevokeAccessToken(ctx, claims.ID); err != nil {
			return idp.Wrap(idp.KindUnavailable, op, "revoke access token", err)
		}
	}

	if req.RefreshToken != "" {
		rec, err := a.store.GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(req.RefreshToken))
		switch {
		case errors.Is(err, store.ErrNotFound):
			// already gone
		case err != nil:
			return idp.Wrap(idp.KindUnavailable, op, "look up refresh token", err)
		default:
			if err := a.store.RevokeRefreshToken(ctx, rec.ID); err != nil {
				return idp.Wrap(idp.KindUnavailable, op, "revoke refresh token", err)
			}
		}
	}
	return nil
}

// Introspect reports current token validity. Signature failures, expiry,
// revocation and revoked sessions all yield an inactive result rather than
// an error.
func (a *Adapter) Introspect(ctx context.Context, accessToken string) (*idp.Introspection, error) {
	const op = "local.Introspect"

	claims, err := a.signer.parse(accessToken)
	if err != nil {
		return &idp.Introspection{Active: false}, nil
	}

	rec, err := a.store.GetAccessToken(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &idp.Introspection{Active: false}, nil
		}
		return nil, idp.Wrap(idp.KindUnavailable, op, "look up token record", err)
	}

	active := !rec.Revoked && time.Now().UTC().Before(rec.ExpiresAt)
	if active {
		sess, err := a.store.GetSession(ctx, rec.SessionID)
		if err == nil && sess.RevokedAt != nil {
			active = false
		} else if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, idp.Wrap(idp.KindUnavailable, op, "look up session", err)
		}
	}

	out := &idp.Introspection{
		Active:   active,
		Scope:    claims.Scope,
		Username: claims.PreferredUsername,
		Sub:      claims.Subject,
		Iss:      claims.Issuer,
		JTI:      claims.ID,
		ClientID: claims.ClientID,
		Aud:      claims.Audience,
	}
	if claims.ExpiresAt != nil {
		out.Exp = claims.ExpiresAt.Unix()
	}
	if claims.IssuedAt != nil {
		out.Iat = claims.IssuedAt.Unix()
	}
	return out, nil
}

// UserInfo returns the OIDC claim projection for the token's user.
func (a *Adapter) UserInfo(ctx context.Context, accessToken string) (*idp.UserInfo, error) {
	const op = "local.UserInfo"

	intro, err := a.Introspect(ctx, accessToken)
	if err != nil {
		return nil, idp.Wrap(idp.KindUnavailable, op, "introspect token", err)
	}
	if !intro.Active {
		return nil, idp.E(idp.KindInvalidOrExpiredToken, op, "token is not active")
	}

	user, err := a.store.GetUser(ctx, intro.Sub)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, idp.E(idp.KindInvalidOrExpiredToken, op, "token user no longer exists")
		}
		return nil, idp.Wrap(idp.KindUnavailable, op, "look up user", err)
	}

	return &idp.UserInfo{
		Sub:               user.ID,
		Email:             user.Email,
		EmailVerified:     user.EmailVerified,
		Name:              strings.TrimSpace(user.GivenName + " " + user.FamilyName),
		PreferredUsername: user.Username,
		GivenName:         user.GivenName,
		FamilyName:        user.FamilyName,
	}, nil
}

// RevokeRefreshToken revokes one refresh token. Unknown tokens succeed, per
// RFC 7009.
func (a *Adapter) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	const op = "local.RevokeRefreshToken"

	rec, err := a.store.GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(refreshToken))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return idp.Wrap(idp.KindUnavailable, op, "look up refresh token", err)
	}
	if err := a.store.RevokeRefreshToken(ctx, rec.ID); err != nil {
		return idp.Wrap(idp.KindUnavailable, op, "revoke refresh token", err)
	}
	return nil
}
