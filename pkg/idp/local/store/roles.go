package store

import (
	"context"
	"time"
)

// Role is a named grant within a context. An empty context means the realm
// level.
type Role struct {
	ID          string
	Context     string
	Name        string
	Description string
	CreatedAt   time.Time
}

// Scope is a named permission grouping, also scoped by context.
type Scope struct {
	ID          string
	Context     string
	Name        string
	Description string
	CreatedAt   time.Time
}

func (q queries) CreateRole(ctx context.Context, r Role) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO roles (id, context, name, description, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Context, r.Name, r.Description, unixNano(r.CreatedAt),
	)
	return mapConstraint(err)
}

func (q queries) GetRoleByName(ctx context.Context, roleContext, name string) (Role, error) {
	var (
		r       Role
		created int64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, context, name, description, created_at
		FROM roles WHERE context = ? AND name = ?`, roleContext, name,
	).Scan(&r.ID, &r.Context, &r.Name, &r.Description, &created)
	if err != nil {
		return Role{}, mapNotFound(err)
	}
	r.CreatedAt = fromUnixNano(created)
	return r, nil
}

func (q queries) DeleteRole(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM roles WHERE id = ?`, id)
	return err
}

func (q queries) AssignRole(ctx context.Context, userID, roleID string) error {
	// Re-assigning an already held role is a no-op
	_, err := q.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO user_roles (user_id, role_id) VALUES (?, ?)`,
		userID, roleID)
	return err
}

func (q queries) RemoveRole(ctx context.Context, userID, roleID string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = ? AND role_id = ?`, userID, roleID)
	return err
}

// ListUserRoles returns the user's roles across all contexts, name
// ascending for stable output.
func (q queries) ListUserRoles(ctx context.Context, userID string) ([]Role, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT r.id, r.context, r.name, r.description, r.created_at
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = ?
		ORDER BY r.context ASC, r.name ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		var (
			r       Role
			created int64
		)
		if err := rows.Scan(&r.ID, &r.Context, &r.Name, &r.Description, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = fromUnixNano(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q queries) CreateScope(ctx context.Context, s Scope) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO scopes (id, context, name, description, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.Context, s.Name, s.Description, unixNano(s.CreatedAt),
	)
	return mapConstraint(err)
}
