package store

import (
	"context"
	"database/sql"
	"time"
)

// Session is a stored login session. RevokedAt is nil while the session is
// live.
type Session struct {
	ID           string
	UserID       string
	CreatedAt    time.Time
	LastAccessAt time.Time
	IPAddress    string
	UserAgent    string
	RevokedAt    *time.Time
}

// AccessToken is the server-side record of a minted access token, keyed by
// its jti claim.
type AccessToken struct {
	JTI       string
	UserID    string
	SessionID string
	ClientID  string
	Scope     string
	ExpiresAt time.Time
	Revoked   bool
}

// RefreshToken stores only the sha256 fingerprint of the opaque token, never
// the token itself.
type RefreshToken struct {
	ID        string
	TokenHash string
	UserID    string
	SessionID string
	ClientID  string
	Scope     string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

func (q queries) CreateSession(ctx context.Context, s Session) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, created_at, last_access_at, ip_address, user_agent)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, unixNano(s.CreatedAt), unixNano(s.LastAccessAt),
		s.IPAddress, s.UserAgent,
	)
	return mapConstraint(err)
}

func (q queries) GetSession(ctx context.Context, id string) (Session, error) {
	var (
		s                Session
		created, access  int64
		revoked          sql.NullInt64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, created_at, last_access_at, ip_address, user_agent, revoked_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&s.ID, &s.UserID, &created, &access, &s.IPAddress, &s.UserAgent, &revoked)
	if err != nil {
		return Session{}, mapNotFound(err)
	}
	s.CreatedAt = fromUnixNano(created)
	s.LastAccessAt = fromUnixNano(access)
	s.RevokedAt = fromUnixNanoPtr(revoked)
	return s, nil
}

// ListActiveSessions returns live sessions for a user ordered newest first,
// ID ascending on equal timestamps.
func (q queries) ListActiveSessions(ctx context.Context, userID string) ([]Session, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, created_at, last_access_at, ip_address, user_agent, revoked_at
		FROM sessions
		WHERE user_id = ? AND revoked_at IS NULL
		ORDER BY created_at DESC, id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s               Session
			created, access int64
			revoked         sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.UserID, &created, &access,
			&s.IPAddress, &s.UserAgent, &revoked); err != nil {
			return nil, err
		}
		s.CreatedAt = fromUnixNano(created)
		s.LastAccessAt = fromUnixNano(access)
		s.RevokedAt = fromUnixNanoPtr(revoked)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q queries) TouchSession(ctx context.Context, id string, at time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE sessions SET last_access_at = ? WHERE id = ?`, unixNano(at), id)
	return err
}

// RevokeSession marks a live session revoked. Returns ErrNotFound when the
// session does not exist or is already revoked.
func (q queries) RevokeSession(ctx context.Context, id string, at time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		unixNano(at), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (q queries) CreateAccessToken(ctx context.Context, t AccessToken) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO access_tokens (jti, user_id, session_id, client_id, scope, expires_at, revoked)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		t.JTI, t.UserID, t.SessionID, t.ClientID, t.Scope, unixNano(t.ExpiresAt),
	)
	return mapConstraint(err)
}

func (q queries) GetAccessToken(ctx context.Context, jti string) (AccessToken, error) {
	var (
		t       AccessToken
		expires int64
		revoked int64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT jti, user_id, session_id, client_id, scope, expires_at, revoked
		FROM access_tokens WHERE jti = ?`, jti,
	).Scan(&t.JTI, &t.UserID, &t.SessionID, &t.ClientID, &t.Scope, &expires, &revoked)
	if err != nil {
		return AccessToken{}, mapNotFound(err)
	}
	t.ExpiresAt = fromUnixNano(expires)
	t.Revoked = revoked != 0
	return t, nil
}

func (q queries) RevokeAccessToken(ctx context.Context, jti string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE access_tokens SET revoked = 1 WHERE jti = ?`, jti)
	return err
}

func (q queries) RevokeSessionAccessTokens(ctx context.Context, sessionID string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE access_tokens SET revoked = 1 WHERE session_id = ?`, sessionID)
	return err
}

func (q queries) CreateRefreshToken(ctx context.Context, t RefreshToken) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, token_hash, user_id, session_id, client_id, scope, expires_at, revoked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		t.ID, t.TokenHash, t.UserID, t.SessionID, t.ClientID, t.Scope,
		unixNano(t.ExpiresAt), unixNano(t.CreatedAt),
	)
	return mapConstraint(err)
}

func (q queries) GetRefreshTokenByHash(ctx context.Context, hash string) (RefreshToken, error) {
	var (
		t                RefreshToken
		expires, created int64
		revoked          int64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, token_hash, user_id, session_id, client_id, scope, expires_at, revoked, created_at
		FROM refresh_tokens WHERE token_hash = ?`, hash,
	).Scan(&t.ID, &t.TokenHash, &t.UserID, &t.SessionID, &t.ClientID,
		&t.Scope, &expires, &revoked, &created)
	if err != nil {
		return RefreshToken{}, mapNotFound(err)
	}
	t.ExpiresAt = fromUnixNano(expires)
	t.Revoked = revoked != 0
	t.CreatedAt = fromUnixNano(created)
	return t, nil
}

func (q queries) RevokeRefreshToken(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1 WHERE id = ?`, id)
	return err
}

func (q queries) RevokeSessionRefreshTokens(ctx context.Context, sessionID string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1 WHERE session_id = ?`, sessionID)
	return err
}

func (q queries) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1 WHERE user_id = ?`, userID)
	return err
}
