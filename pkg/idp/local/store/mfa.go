package store

import (
	"context"
	"time"
)

// Challenge states. A challenge is single use: it moves from challenged to
// verified exactly once, or gets superseded by a newer challenge for the
// same user.
const (
	ChallengeStatePending    = "challenged"
	ChallengeStateVerified   = "verified"
	ChallengeStateSuperseded = "superseded"
)

// MFAChallenge is a stored second-factor challenge. CodeHash is empty for
// TOTP challenges, where the code is derived from the user's secret.
type MFAChallenge struct {
	ID          string
	UserID      string
	Method      string
	Destination string
	CodeHash    string
	Attempts    int64
	State       string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

func (q queries) CreateMFAChallenge(ctx context.Context, c MFAChallenge) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO mfa_challenges (id, user_id, method, destination, code_hash, attempts, state, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		c.ID, c.UserID, c.Method, c.Destination, c.CodeHash,
		ChallengeStatePending, unixNano(c.ExpiresAt), unixNano(c.CreatedAt),
	)
	return mapConstraint(err)
}

func (q queries) GetMFAChallenge(ctx context.Context, id string) (MFAChallenge, error) {
	var (
		c                MFAChallenge
		expires, created int64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, method, destination, code_hash, attempts, state, expires_at, created_at
		FROM mfa_challenges WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &c.Method, &c.Destination, &c.CodeHash,
		&c.Attempts, &c.State, &expires, &created)
	if err != nil {
		return MFAChallenge{}, mapNotFound(err)
	}
	c.ExpiresAt = fromUnixNano(expires)
	c.CreatedAt = fromUnixNano(created)
	return c, nil
}

// SupersedePendingChallenges invalidates any still-pending challenges for a
// user before a new one is issued.
func (q queries) SupersedePendingChallenges(ctx context.Context, userID string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE mfa_challenges SET state = ? WHERE user_id = ? AND state = ?`,
		ChallengeStateSuperseded, userID, ChallengeStatePending)
	return err
}

// IncrementChallengeAttempts bumps the attempt counter and returns the new
// count.
func (q queries) IncrementChallengeAttempts(ctx context.Context, id string) (int64, error) {
	_, err := q.db.ExecContext(ctx,
		`UPDATE mfa_challenges SET attempts = attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	var attempts int64
	err = q.db.QueryRowContext(ctx,
		`SELECT attempts FROM mfa_challenges WHERE id = ?`, id).Scan(&attempts)
	if err != nil {
		return 0, mapNotFound(err)
	}
	return attempts, nil
}

// MarkChallengeVerified flips a pending challenge to verified. The state
// guard makes the transition single use even under races.
func (q queries) MarkChallengeVerified(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE mfa_challenges SET state = ? WHERE id = ? AND state = ?`,
		ChallengeStateVerified, id, ChallengeStatePending)
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
