package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aussiebroadwan/idp/pkg/idp"
)

// roleRepresentation is the Admin REST role shape shared by realm and
// client roles.
type roleRepresentation struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// roleContext resolves where roles live for a request context: realm roles
// when the context is empty, otherwise the roles of the client whose
// clientId matches the context.
type roleContext struct {
	rolesURL    string // .../roles
	mappingsURL string // .../users/{id}/role-mappings/(realm|clients/{uuid}) suffix
}

func (a *Adapter) resolveRoleContext(ctx context.Context, op, contextName string) (*roleContext, error) {
	if contextName == "" {
		return &roleContext{
			rolesURL:    a.adminURL("/roles"),
			mappingsURL: "/role-mappings/realm",
		}, nil
	}

	query := url.Values{"clientId": {contextName}}
	resp, body, err := a.doAdmin(ctx, op, http.MethodGet, a.adminURL("/clients?"+query.Encode()), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, adminStatusError(op, resp, body, idp.KindValidation)
	}

	var clients []struct {
		ID       string `json:"id"`
		ClientID string `json:"clientId"`
	}
	if err := json.Unmarshal(body, &clients); err != nil {
		return nil, unavailable(op, fmt.Errorf("failed to decode clients: %w", err))
	}
	for _, c := range clients {
		if c.ClientID == contextName {
			return &roleContext{
				rolesURL:    a.adminURL("/clients/" + url.PathEscape(c.ID) + "/roles"),
				mappingsURL: "/role-mappings/clients/" + url.PathEscape(c.ID),
			}, nil
		}
	}
	return nil, idp.E(idp.KindValidation, op, fmt.Sprintf("unknown role context %q", contextName))
}

// getRole returns the role by name, or nil (no error) when it does not
// exist in the context.
func (a *Adapter) getRole(ctx context.Context, op string, rc *roleContext, name string) (*roleRepresentation, error) {
	resp, body, err := a.doAdmin(ctx, op, http.MethodGet, rc.rolesURL+"/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, adminStatusError(op, resp, body, idp.KindRoleNotFound)
	}

	var rep roleRepresentation
	if err := json.Unmarshal(body, &rep); err != nil {
		return nil, unavailable(op, fmt.Errorf("failed to decode role: %w", err))
	}
	return &rep, nil
}

// CreateRoles implements idp.Adapter. The Admin REST API has no batch role
// creation, so all requested names are checked for collisions up front and
// any partially created roles are compensated away on a mid-batch failure,
// keeping the operation all-or-nothing from the caller's side.
func (a *Adapter) CreateRoles(ctx context.Context, req idp.CreateRolesRequest) ([]string, error) {
	const op = "createRoles"

	rc, err := a.resolveRoleContext(ctx, op, req.Context)
	if err != nil {
		return nil, err
	}

	for _, name := range req.Names {
		existing, err := a.getRole(ctx, op, rc, name)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, idp.E(idp.KindDuplicateRole, op, fmt.Sprintf("role %q already exists", name))
		}
	}

	created := make([]string, 0, len(req.Names))
	for _, name := range req.Names {
		rep := roleRepresentation{Name: name, Description: req.Description}
		resp, body, err := a.doAdmin(ctx, op, http.MethodPost, rc.rolesURL, rep)
		if err == nil && resp.StatusCode == http.StatusConflict {
			err = idp.E(idp.KindDuplicateRole, op, fmt.Sprintf("role %q already exists", name))
		} else if err == nil && resp.StatusCode != http.StatusCreated {
			err = adminStatusError(op, resp, body, idp.KindValidation)
		}
		if err != nil {
			a.rollbackRoles(ctx, rc, created)
			return nil, err
		}
		created = append(created, name)
	}

	return created, nil
}

// rollbackRoles best-effort deletes roles created earlier in a failed
// batch. A failure here leaves the surfaced error unchanged; the caller
// already knows the batch did not apply.
func (a *Adapter) rollbackRoles(ctx context.Context, rc *roleContext, names []string) {
	for _, name := range names {
		_, _, _ = a.doAdmin(ctx, "createRoles", http.MethodDelete, rc.rolesURL+"/"+url.PathEscape(name), nil)
	}
}

// CreateScope implements idp.Adapter via POST /client-scopes.
func (a *Adapter) CreateScope(ctx context.Context, req idp.CreateScopeRequest) (*idp.ScopeInfo, error) {
	const op = "createScope"

	payload := map[string]string{
		"name":        req.Name,
		"description": req.Description,
		"protocol":    "openid-connect",
	}

	resp, body, err := a.doAdmin(ctx, op, http.MethodPost, a.adminURL("/client-scopes"), payload)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusCreated {
		if resp.StatusCode == http.StatusConflict {
			return nil, idp.E(idp.KindDuplicateScope, op, parseErrorBody(body).message())
		}
		return nil, adminStatusError(op, resp, body, idp.KindValidation)
	}

	return &idp.ScopeInfo{
		ID:        locationID(resp),
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// GetRoles implements idp.Adapter via the realm role-mappings of the user.
func (a *Adapter) GetRoles(ctx context.Context, userID string) ([]string, error) {
	const op = "getRoles"

	resp, body, err := a.doAdmin(ctx, op, http.MethodGet,
		a.adminURL("/users/"+url.PathEscape(userID)+"/role-mappings/realm"), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, adminStatusError(op, resp, body, idp.KindUserNotFound)
	}

	var reps []roleRepresentation
	if err := json.Unmarshal(body, &reps); err != nil {
		return nil, unavailable(op, fmt.Errorf("failed to decode role mappings: %w", err))
	}

	names := make([]string, 0, len(reps))
	for _, rep := range reps {
		names = append(names, rep.Name)
	}
	return names, nil
}

// AssignRoles implements idp.Adapter. Keycloak's role-mapping POST already
// ignores roles the user holds, which gives the required idempotence.
func (a *Adapter) AssignRoles(ctx context.Context, req idp.AssignRolesRequest) error {
	return a.mapRoles(ctx, "assignRoles", http.MethodPost, req)
}

// RemoveRoles implements idp.Adapter with DELETE role-mapping semantics,
// which likewise ignore roles the user does not hold.
func (a *Adapter) RemoveRoles(ctx context.Context, req idp.AssignRolesRequest) error {
	return a.mapRoles(ctx, "removeRoles", http.MethodDelete, req)
}

func (a *Adapter) mapRoles(ctx context.Context, op, method string, req idp.AssignRolesRequest) error {
	rc := &roleContext{rolesURL: a.adminURL("/roles"), mappingsURL: "/role-mappings/realm"}

	// Resolve names to representations; RoleNotFound only when every
	// requested role is missing, per the contract.
	reps := make([]roleRepresentation, 0, len(req.RoleNames))
	for _, name := range req.RoleNames {
		rep, err := a.getRole(ctx, op, rc, name)
		if err != nil {
			return err
		}
		if rep != nil {
			reps = append(reps, *rep)
		}
	}
	if len(reps) == 0 {
		return idp.E(idp.KindRoleNotFound, op, "none of the requested roles exist")
	}

	mappingURL := a.adminURL("/users/" + url.PathEscape(req.UserID) + rc.mappingsURL)
	resp, body, err := a.doAdmin(ctx, op, method, mappingURL, reps)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent {
		return adminStatusError(op, resp, body, idp.KindUserNotFound)
	}
	return nil
}
