package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/aussiebroadwan/idp/pkg/idp"
)

// sessionRepresentation is the Admin REST user-session shape. Start and
// lastAccess are epoch milliseconds.
type sessionRepresentation struct {
	ID         string `json:"id"`
	UserID     string `json:"userId"`
	IPAddress  string `json:"ipAddress"`
	Start      int64  `json:"start"`
	LastAccess int64  `json:"lastAccess"`
}

// ListSessions implements idp.Adapter via GET /users/{id}/sessions. The
// Admin REST response carries no ordering guarantee, so the contract's
// ordering (newest first, ties by ID ascending) is imposed here.
func (a *Adapter) ListSessions(ctx context.Context, userID string) ([]idp.Session, error) {
	const op = "listSessions"

	resp, body, err := a.doAdmin(ctx, op, http.MethodGet, a.adminURL("/users/"+url.PathEscape(userID)+"/sessions"), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, adminStatusError(op, resp, body, idp.KindUserNotFound)
	}

	var reps []sessionRepresentation
	if err := json.Unmarshal(body, &reps); err != nil {
		return nil, unavailable(op, fmt.Errorf("failed to decode sessions: %w", err))
	}

	sessions := make([]idp.Session, 0, len(reps))
	for _, rep := range reps {
		sessions = append(sessions, idp.Session{
			ID:           rep.ID,
			UserID:       rep.UserID,
			CreatedAt:    time.UnixMilli(rep.Start).UTC(),
			LastAccessAt: time.UnixMilli(rep.LastAccess).UTC(),
			IPAddress:    rep.IPAddress,
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})

	return sessions, nil
}

// RevokeSession implements idp.Adapter via DELETE /sessions/{id}, which
// logs the session out and invalidates its tokens. Keycloak answers 404 for
// unknown (including already-revoked) sessions.
func (a *Adapter) RevokeSession(ctx context.Context, sessionID string) error {
	const op = "revokeSession"

	resp, body, err := a.doAdmin(ctx, op, http.MethodDelete, a.adminURL("/sessions/"+url.PathEscape(sessionID)), nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent {
		return adminStatusError(op, resp, body, idp.KindSessionNotFound)
	}
	return nil
}
