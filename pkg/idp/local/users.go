package local

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/idp/pkg/cryptox"
	"github.com/aussiebroadwan/idp/pkg/idp"
	"github.com/aussiebroadwan/idp/pkg/idp/local/store"
	"github.com/aussiebroadwan/idp/pkg/idx"
)

// CreateUser registers a new account. Username and email are both unique.
func (a *Adapter) CreateUser(ctx context.Context, req idp.CreateUserRequest) (*idp.CreatedUser, error) {
	const op = "local.CreateUser"

	if req.Username == "" || req.Email == "" {
		return nil, idp.E(idp.KindValidation, op, "username and email are required")
	}
	if len(req.Password) < a.cfg.MinPasswordLength {
		return nil, idp.E(idp.KindValidation, op, "password is below the minimum length")
	}

	hash, err := cryptox.HashPassword(req.Password)
	if err != nil {
		return nil, idp.Wrap(idp.KindUnavailable, op, "hash password", err)
	}

	// the conventional phoneNumber attribute doubles as the SMS target
	var phone string
	if vals := req.Attributes["phoneNumber"]; len(vals) > 0 {
		phone = vals[0]
	}

	now := time.Now().UTC()
	user := store.User{
		ID:           idx.New().String(),
		Username:     req.Username,
		Email:        req.Email,
		Phone:        phone,
		PasswordHash: hash,
		GivenName:    req.GivenName,
		FamilyName:   req.FamilyName,
		Enabled:      req.Enabled,
		Attributes:   req.Attributes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, idp.E(idp.KindDuplicateUser, op, "username or email already exists")
		}
		return nil, idp.Wrap(idp.KindUnavailable, op, "insert user", err)
	}

	return &idp.CreatedUser{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	}, nil
}

// UpdateUser applies only the fields set on the request. Unset fields keep
// their stored values.
func (a *Adapter) UpdateUser(ctx context.Context, req idp.UpdateUserRequest) (*idp.UpdatedUser, error) {
	const op = "local.UpdateUser"

	if req.UserID == "" {
		return nil, idp.E(idp.KindValidation, op, "user id is required")
	}

	var patch store.UserPatch
	if v, ok := req.Email.Get(); ok {
		patch.Email = &v
	}
	if v, ok := req.GivenName.Get(); ok {
		patch.GivenName = &v
	}
	if v, ok := req.FamilyName.Get(); ok {
		patch.FamilyName = &v
	}
	if v, ok := req.Enabled.Get(); ok {
		patch.Enabled = &v
	}
	if v, ok := req.Attributes.Get(); ok {
		patch.Attributes = &v
	}

	now := time.Now().UTC()
	if err := a.store.UpdateUser(ctx, req.UserID, patch, now); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, idp.E(idp.KindUserNotFound, op, "user does not exist")
		case errors.Is(err, store.ErrDuplicate):
			return nil, idp.E(idp.KindDuplicateUser, op, "email already in use")
		}
		return nil, idp.Wrap(idp.KindUnavailable, op, "update user", err)
	}

	user, err := a.store.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, idp.Wrap(idp.KindUnavailable, op, "read back user", err)
	}

	return &idp.UpdatedUser{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		UpdatedAt: user.UpdatedAt,
	}, nil
}

// DeleteUser removes the account and, via cascade, its sessions, tokens,
// challenges and role assignments.
func (a *Adapter) DeleteUser(ctx context.Context, userID string) error {
	const op = "local.DeleteUser"

	if err := a.store.DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return idp.E(idp.KindUserNotFound, op, "user does not exist")
		}
		return idp.Wrap(idp.KindUnavailable, op, "delete user", err)
	}
	return nil
}

// ChangePassword verifies the old password before setting the new one, then
// revokes the user's refresh tokens so stolen sets die with the password.
func (a *Adapter) ChangePassword(ctx context.Context, req idp.ChangePasswordRequest) error {
	const op = "local.ChangePassword"

	user, err := a.store.GetUser(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return idp.E(idp.KindUserNotFound, op, "user does not exist")
		}
		return idp.Wrap(idp.KindUnavailable, op, "look up user", err)
	}

	if err := cryptox.VerifyPassword(req.OldPassword, user.PasswordHash); err != nil {
		return idp.E(idp.KindInvalidOldPassword, op, "old password does not match")
	}
	if len(req.NewPassword) < a.cfg.MinPasswordLength {
		return idp.E(idp.KindPolicyViolation, op, "new password is below the minimum length")
	}

	hash, err := cryptox.HashPassword(req.NewPassword)
	if err != nil {
		return idp.Wrap(idp.KindUnavailable, op, "hash password", err)
	}

	err = a.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.UpdatePasswordHash(ctx, user.ID, hash, time.Now().UTC()); err != nil {
			return err
		}
		return tx.RevokeUserRefreshTokens(ctx, user.ID)
	})
	if err != nil {
		return idp.Wrap(idp.KindUnavailable, op, "store new password", err)
	}
	return nil
}

// ResetPassword starts the email reset flow. Unknown usernames succeed so
// the operation cannot confirm account existence.
func (a *Adapter) ResetPassword(ctx context.Context, username string) error {
	const op = "local.ResetPassword"

	user, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return idp.Wrap(idp.KindUnavailable, op, "look up user", err)
	}

	if a.cfg.SendReset == nil {
		return nil
	}

	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return idp.Wrap(idp.KindUnavailable, op, "generate reset token", err)
	}
	if err := a.cfg.SendReset(ctx, user.Email, token); err != nil {
		return idp.Wrap(idp.KindUnavailable, op, "deliver reset token", err)
	}
	return nil
}
