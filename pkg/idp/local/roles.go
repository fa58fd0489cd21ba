package local

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/idp/pkg/idp"
	"github.com/aussiebroadwan/idp/pkg/idp/local/store"
	"github.com/aussiebroadwan/idp/pkg/idx"
)

// GetRoles returns the names of every role held by the user.
func (a *Adapter) GetRoles(ctx context.Context, userID string) ([]string, error) {
	const op = "local.GetRoles"

	if _, err := a.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, idp.E(idp.KindUserNotFound, op, "user does not exist")
		}
		return nil, idp.Wrap(idp.KindUnavailable, op, "look up user", err)
	}

	roles, err := a.store.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, idp.Wrap(idp.KindUnavailable, op, "list roles", err)
	}

	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names, nil
}

// CreateRoles creates the named roles in one transaction. If any name is
// already taken in the context, nothing is created.
func (a *Adapter) CreateRoles(ctx context.Context, req idp.CreateRolesRequest) ([]string, error) {
	const op = "local.CreateRoles"

	if len(req.Names) == 0 {
		return nil, idp.E(idp.KindValidation, op, "at least one role name is required")
	}

	now := time.Now().UTC()
	err := a.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, name := range req.Names {
			if name == "" {
				return idp.E(idp.KindValidation, op, "role names must not be empty")
			}
			if err := tx.CreateRole(ctx, store.Role{
				ID:          idx.New().String(),
				Context:     req.Context,
				Name:        name,
				Description: req.Description,
				CreatedAt:   now,
			}); err != nil {
				if errors.Is(err, store.ErrDuplicate) {
					return idp.E(idp.KindDuplicateRole, op, "role "+name+" already exists")
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		var ie *idp.Error
		if errors.As(err, &ie) {
			return nil, err
		}
		return nil, idp.Wrap(idp.KindUnavailable, op, "create roles", err)
	}
	return req.Names, nil
}

// CreateScope registers an authorization scope.
func (a *Adapter) CreateScope(ctx context.Context, req idp.CreateScopeRequest) (*idp.ScopeInfo, error) {
	const op = "local.CreateScope"

	if req.Name == "" {
		return nil, idp.E(idp.KindValidation, op, "scope name is required")
	}

	scope := store.Scope{
		ID:          idx.New().String(),
		Context:     req.Context,
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.store.CreateScope(ctx, scope); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, idp.E(idp.KindDuplicateScope, op, "scope already exists")
		}
		return nil, idp.Wrap(idp.KindUnavailable, op, "create scope", err)
	}

	return &idp.ScopeInfo{
		ID:        scope.ID,
		Name:      scope.Name,
		CreatedAt: scope.CreatedAt,
	}, nil
}

// AssignRoles grants the named default-context roles to the user. Roles the
// user already holds are skipped; names that do not exist are skipped unless
// none of them exist.
func (a *Adapter) AssignRoles(ctx context.Context, req idp.AssignRolesRequest) error {
	const op = "local.AssignRoles"
	return a.mapRoles(ctx, op, req, func(tx *store.Tx, roleID string) error {
		return tx.AssignRole(ctx, req.UserID, roleID)
	})
}

// RemoveRoles takes the named roles away with the same resolution and
// idempotence rules as AssignRoles.
func (a *Adapter) RemoveRoles(ctx context.Context, req idp.AssignRolesRequest) error {
	const op = "local.RemoveRoles"
	return a.mapRoles(ctx, op, req, func(tx *store.Tx, roleID string) error {
		return tx.RemoveRole(ctx, req.UserID, roleID)
	})
}

func (a *Adapter) mapRoles(
	ctx context.Context,
	op string,
	req idp.AssignRolesRequest,
	apply func(tx *store.Tx, roleID string) error,
) error {
	if _, err := a.store.GetUser(ctx, req.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return idp.E(idp.KindUserNotFound, op, "user does not exist")
		}
		return idp.Wrap(idp.KindUnavailable, op, "look up user", err)
	}

	var resolved []store.Role
	for _, name := range req.RoleNames {
		role, err := a.store.GetRoleByName(ctx, "", name)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return idp.Wrap(idp.KindUnavailable, op, "resolve role", err)
		}
		resolved = append(resolved, role)
	}
	if len(resolved) == 0 {
		return idp.E(idp.KindRoleNotFound, op, "none of the named roles exist")
	}

	err := a.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, role := range resolved {
			if err := apply(tx, role.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return idp.Wrap(idp.KindUnavailable, op, "apply role changes", err)
	}
	return nil
}
