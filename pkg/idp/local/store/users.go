package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// User is a stored account record. Attributes are kept as a JSON object of
// string lists, matching the shape admin APIs commonly expose.
type User struct {
	ID            string
	Username      string
	Email         string
	EmailVerified bool
	PasswordHash  string
	GivenName     string
	FamilyName    string
	Enabled       bool
	Attributes    map[string][]string
	Phone         string
	TOTPSecret    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const userColumns = `id, username, email, email_verified, password_hash,
	given_name, family_name, enabled, attributes, phone, totp_secret,
	created_at, updated_at`

func (q queries) scanUser(row interface{ Scan(...any) error }) (User, error) {
	var (
		u                 User
		verified, enabled int64
		attrs             string
		created, updated  int64
	)
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &verified, &u.PasswordHash,
		&u.GivenName, &u.FamilyName, &enabled, &attrs, &u.Phone,
		&u.TOTPSecret, &created, &updated,
	)
	if err != nil {
		return User{}, mapNotFound(err)
	}
	u.EmailVerified = verified != 0
	u.Enabled = enabled != 0
	u.CreatedAt = fromUnixNano(created)
	u.UpdatedAt = fromUnixNano(updated)
	if err := json.Unmarshal([]byte(attrs), &u.Attributes); err != nil {
		return User{}, err
	}
	return u, nil
}

func (q queries) CreateUser(ctx context.Context, u User) error {
	attrs := u.Attributes
	if attrs == nil {
		attrs = map[string][]string{}
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, boolInt(u.EmailVerified), u.PasswordHash,
		u.GivenName, u.FamilyName, boolInt(u.Enabled), string(raw), u.Phone,
		u.TOTPSecret, unixNano(u.CreatedAt), unixNano(u.UpdatedAt),
	)
	return mapConstraint(err)
}

func (q queries) GetUser(ctx context.Context, id string) (User, error) {
	return q.scanUser(q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (q queries) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return q.scanUser(q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

// UserPatch carries only the columns to change. Nil pointers leave the
// stored value untouched.
type UserPatch struct {
	Email      *string
	GivenName  *string
	FamilyName *string
	Enabled    *bool
	Attributes *map[string][]string
	Phone      *string
	TOTPSecret *string
}

// UpdateUser applies the non-nil fields of patch and bumps updated_at.
// Returns ErrNotFound when no row matches.
func (q queries) UpdateUser(ctx context.Context, id string, patch UserPatch, now time.Time) error {
	sets := []string{"updated_at = ?"}
	args := []any{unixNano(now)}

	if patch.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *patch.Email)
	}
	if patch.GivenName != nil {
		sets = append(sets, "given_name = ?")
		args = append(args, *patch.GivenName)
	}
	if patch.FamilyName != nil {
		sets = append(sets, "family_name = ?")
		args = append(args, *patch.FamilyName)
	}
	if patch.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolInt(*patch.Enabled))
	}
	if patch.Attributes != nil {
		raw, err := json.Marshal(*patch.Attributes)
		if err != nil {
			return err
		}
		sets = append(sets, "attributes = ?")
		args = append(args, string(raw))
	}
	if patch.Phone != nil {
		sets = append(sets, "phone = ?")
		args = append(args, *patch.Phone)
	}
	if patch.TOTPSecret != nil {
		sets = append(sets, "totp_secret = ?")
		args = append(args, *patch.TOTPSecret)
	}

	args = append(args, id)
	res, err := q.db.ExecContext(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return mapConstraint(err)
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

func (q queries) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, unixNano(now), id)
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

func (q queries) DeleteUser(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
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

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
