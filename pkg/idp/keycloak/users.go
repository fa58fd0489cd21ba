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

// userRepresentation is the Admin REST user shape, limited to the fields
// the adapter reads or writes. Every merge-written field is a pointer: nil
// means "absent in the record / not touched", so the read-merge-write update
// neither clobbers realm-managed values nor loses a deliberate clear — an
// empty string or empty map still serializes, only nil is omitted.
type userRepresentation struct {
	ID               string               `json:"id,omitempty"`
	Username         string               `json:"username,omitempty"`
	Email            *string              `json:"email,omitempty"`
	EmailVerified    *bool                `json:"emailVerified,omitempty"`
	FirstName        *string              `json:"firstName,omitempty"`
	LastName         *string              `json:"lastName,omitempty"`
	Enabled          *bool                `json:"enabled,omitempty"`
	Attributes       *map[string][]string `json:"attributes,omitempty"`
	CreatedTimestamp int64                `json:"createdTimestamp,omitempty"`

	Credentials []credentialRepresentation `json:"credentials,omitempty"`
}

func strValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

type credentialRepresentation struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

// CreateUser implements idp.Adapter via POST /users. Keycloak answers 409
// when the username or email is taken.
func (a *Adapter) CreateUser(ctx context.Context, req idp.CreateUserRequest) (*idp.CreatedUser, error) {
	const op = "createUser"

	if req.Username == "" {
		return nil, idp.E(idp.KindValidation, op, "username is required")
	}

	enabled := req.Enabled
	rep := userRepresentation{
		Username: req.Username,
		Enabled:  &enabled,
	}
	if req.Email != "" {
		rep.Email = &req.Email
	}
	if req.GivenName != "" {
		rep.FirstName = &req.GivenName
	}
	if req.FamilyName != "" {
		rep.LastName = &req.FamilyName
	}
	if req.Attributes != nil {
		rep.Attributes = &req.Attributes
	}
	if req.Password != "" {
		rep.Credentials = []credentialRepresentation{
			{Type: "password", Value: req.Password, Temporary: false},
		}
	}

	resp, body, err := a.doAdmin(ctx, op, http.MethodPost, a.adminURL("/users"), rep)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusCreated {
		if resp.StatusCode == http.StatusConflict {
			return nil, idp.E(idp.KindDuplicateUser, op, parseErrorBody(body).message())
		}
		return nil, adminStatusError(op, resp, body, idp.KindValidation)
	}

	id := locationID(resp)

	// The create response is empty; fetch the record for createdTimestamp.
	created, err := a.getUser(ctx, op, id)
	if err != nil {
		return nil, err
	}

	return &idp.CreatedUser{
		ID:        created.ID,
		Username:  created.Username,
		Email:     strValue(created.Email),
		CreatedAt: time.UnixMilli(created.CreatedTimestamp).UTC(),
	}, nil
}

// UpdateUser implements idp.Adapter. The Admin REST PUT replaces the whole
// representation, so the current record is read first and only the set
// fields of req are merged in before writing back. This is what keeps the
// unset-means-unchanged invariant with a full-replace API.
func (a *Adapter) UpdateUser(ctx context.Context, req idp.UpdateUserRequest) (*idp.UpdatedUser, error) {
	const op = "updateUser"

	rep, err := a.getUser(ctx, op, req.UserID)
	if err != nil {
		return nil, err
	}

	// A set-but-empty value is a deliberate clear and must survive to the
	// wire, so merged fields always get a non-nil pointer.
	if email, ok := req.Email.Get(); ok {
		rep.Email = &email
	}
	if given, ok := req.GivenName.Get(); ok {
		rep.FirstName = &given
	}
	if family, ok := req.FamilyName.Get(); ok {
		rep.LastName = &family
	}
	if enabled, ok := req.Enabled.Get(); ok {
		rep.Enabled = &enabled
	}
	if attrs, ok := req.Attributes.Get(); ok {
		rep.Attributes = &attrs
	}

	resp, body, err := a.doAdmin(ctx, op, http.MethodPut, a.adminURL("/users/"+url.PathEscape(req.UserID)), rep)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusNoContent {
		if resp.StatusCode == http.StatusConflict {
			return nil, idp.E(idp.KindDuplicateUser, op, parseErrorBody(body).message())
		}
		return nil, adminStatusError(op, resp, body, idp.KindUserNotFound)
	}

	return &idp.UpdatedUser{
		ID:        rep.ID,
		Username:  rep.Username,
		Email:     strValue(rep.Email),
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// DeleteUser implements idp.Adapter. A second delete of the same user is a
// 404 from Keycloak and surfaces as KindUserNotFound.
func (a *Adapter) DeleteUser(ctx context.Context, userID string) error {
	const op = "deleteUser"

	resp, body, err := a.doAdmin(ctx, op, http.MethodDelete, a.adminURL("/users/"+url.PathEscape(userID)), nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent {
		return adminStatusError(op, resp, body, idp.KindUserNotFound)
	}
	return nil
}

// ChangePassword implements idp.Adapter. Keycloak's admin reset-password
// endpoint does not verify the prior password, so when the request carries
// one it is checked first with a throwaway ROPC login as the user.
func (a *Adapter) ChangePassword(ctx context.Context, req idp.ChangePasswordRequest) error {
	const op = "changePassword"

	rep, err := a.getUser(ctx, op, req.UserID)
	if err != nil {
		return err
	}

	if req.OldPassword != "" {
		_, err := a.Login(ctx, idp.LoginRequest{
			Username:     rep.Username,
			Password:     req.OldPassword,
			ClientID:     a.cfg.ClientID,
			ClientSecret: a.cfg.ClientSecret,
		})
		if err != nil {
			if idp.KindOf(err) == idp.KindInvalidCredentials {
				return idp.E(idp.KindInvalidOldPassword, op, "old password rejected")
			}
			return err
		}
	}

	cred := credentialRepresentation{Type: "password", Value: req.NewPassword, Temporary: false}
	resp, body, err := a.doAdmin(ctx, op, http.MethodPut, a.adminURL("/users/"+url.PathEscape(req.UserID)+"/reset-password"), cred)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent {
		if resp.StatusCode == http.StatusBadRequest {
			// Password policy rejections come back as 400 errorMessage.
			return idp.E(idp.KindPolicyViolation, op, parseErrorBody(body).message())
		}
		return adminStatusError(op, resp, body, idp.KindUserNotFound)
	}
	return nil
}

// ResetPassword implements idp.Adapter by triggering an UPDATE_PASSWORD
// action email. An unknown username returns success so this operation cannot
// confirm account existence.
func (a *Adapter) ResetPassword(ctx context.Context, username string) error {
	const op = "resetPassword"

	rep, err := a.findUserByUsername(ctx, op, username)
	if err != nil {
		return err
	}
	if rep == nil {
		return nil
	}

	resp, body, err := a.doAdmin(ctx, op, http.MethodPut,
		a.adminURL("/users/"+url.PathEscape(rep.ID)+"/execute-actions-email"), []string{"UPDATE_PASSWORD"})
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusNoContent {
		return adminStatusError(op, resp, body, idp.KindUserNotFound)
	}
	return nil
}

func (a *Adapter) getUser(ctx context.Context, op, userID string) (*userRepresentation, error) {
	resp, body, err := a.doAdmin(ctx, op, http.MethodGet, a.adminURL("/users/"+url.PathEscape(userID)), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, adminStatusError(op, resp, body, idp.KindUserNotFound)
	}

	var rep userRepresentation
	if err := json.Unmarshal(body, &rep); err != nil {
		return nil, unavailable(op, fmt.Errorf("failed to decode user representation: %w", err))
	}
	return &rep, nil
}

// findUserByUsername returns nil (no error) when the username is unknown.
func (a *Adapter) findUserByUsername(ctx context.Context, op, username string) (*userRepresentation, error) {
	query := url.Values{"username": {username}, "exact": {"true"}}
	resp, body, err := a.doAdmin(ctx, op, http.MethodGet, a.adminURL("/users?"+query.Encode()), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, adminStatusError(op, resp, body, idp.KindUserNotFound)
	}

	var reps []userRepresentation
	if err := json.Unmarshal(body, &reps); err != nil {
		return nil, unavailable(op, fmt.Errorf("failed to decode user search: %w", err))
	}
	if len(reps) == 0 {
		return nil, nil
	}
	return &reps[0], nil
}
