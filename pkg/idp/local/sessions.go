package local

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/idp/pkg/idp"
	"github.com/aussiebroadwan/idp/pkg/idp/local/store"
)

// ListSessions returns the user's live sessions, most recent login first.
func (a *Adapter) ListSessions(ctx context.Context, userID string) ([]idp.Session, error) {
	const op = "local.ListSessions"

	rows, err := a.store.ListActiveSessions(ctx, userID)
	if err != nil {
		return nil, idp.Wrap(idp.KindUnavailable, op, "list sessions", err)
	}

	out := make([]idp.Session, 0, len(rows))
	for _, s := range rows {
		out = append(out, idp.Session{
			ID:           s.ID,
			UserID:       s.UserID,
			CreatedAt:    s.CreatedAt,
			LastAccessAt: s.LastAccessAt,
			IPAddress:    s.IPAddress,
			UserAgent:    s.UserAgent,
		})
	}
	return out, nil
}

// RevokeSession marks the session revoked and kills every token bound to
// it. Already-revoked or unknown sessions fail with KindSessionNotFound.
func (a *Adapter) RevokeSession(ctx context.Context, sessionID string) error {
	const op = "local.RevokeSession"

	err := a.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.RevokeSession(ctx, sessionID, time.Now().UTC()); err != nil {
			return err
		}
		if err := tx.RevokeSessionAccessTokens(ctx, sessionID); err != nil {
			return err
		}
		return tx.RevokeSessionRefreshTokens(ctx, sessionID)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return idp.E(idp.KindSessionNotFound, op, "session does not exist or is already revoked")
		}
		return idp.Wrap(idp.KindUnavailable, op, "revoke session", err)
	}
	return nil
}
