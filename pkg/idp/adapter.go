package idp

import "context"

// Adapter standardizes authentication and user-management operations across
// identity providers. Each provider binding implements the full set by
// translating to its backend's API and normalizing results into the types in
// this package; callers depend only on this interface.
//
// Every operation may block on network I/O and honors cancellation and
// deadlines from ctx; a timeout surfaces as a KindUnavailable failure. No
// operation retries internally. All methods are safe for concurrent use;
// races on the same entity (e.g. two refreshes of one token) are resolved by
// the provider, and the adapter propagates whichever outcome it returns.
type Adapter interface {
	// Name returns the provider identifier (e.g. "keycloak", "local").
	Name() string

	// Login exchanges user credentials for a token set. Fails with
	// KindInvalidCredentials on a bad username/password and
	// KindClientUnauthorized on bad client credentials.
	Login(ctx context.Context, req LoginRequest) (*TokenSet, error)

	// Refresh exchanges a refresh token for a new token set, returning the
	// rotated refresh token for providers that rotate on use. Fails with
	// KindInvalidOrExpiredToken when the token is unknown, revoked or expired.
	Refresh(ctx context.Context, req RefreshRequest) (*TokenSet, error)

	// Logout best-effort invalidates both tokens at the provider. It does
	// not fail because one of the tokens was already invalid; only failure
	// to reach the provider is an error.
	Logout(ctx context.Context, req LogoutRequest) error

	// Introspect reports a token's current validity (RFC 7662). An inactive
	// token is not an error: the result carries Active=false with other
	// fields best-effort. Only transport or endpoint-auth failures error.
	Introspect(ctx context.Context, accessToken string) (*Introspection, error)

	// UserInfo returns the OIDC claims for the token's user. Fails with
	// KindInvalidOrExpiredToken when the token is not currently valid.
	UserInfo(ctx context.Context, accessToken string) (*UserInfo, error)

	// CreateUser creates a user. Fails with KindDuplicateUser when the
	// username or email is taken and KindValidation for malformed input.
	CreateUser(ctx context.Context, req CreateUserRequest) (*CreatedUser, error)

	// UpdateUser applies only the set fields of req, leaving unset fields
	// untouched at the provider. Fails with KindUserNotFound.
	UpdateUser(ctx context.Context, req UpdateUserRequest) (*UpdatedUser, error)

	// DeleteUser removes a user. Deleting an already-deleted user fails
	// with KindUserNotFound — the miss is surfaced, not swallowed.
	DeleteUser(ctx context.Context, userID string) error

	// ChangePassword replaces a user's password. Fails with
	// KindInvalidOldPassword when the provider verifies and rejects the old
	// password, and KindPolicyViolation when the new one fails policy.
	ChangePassword(ctx context.Context, req ChangePasswordRequest) error

	// ResetPassword triggers the provider's reset flow (e.g. reset email).
	// It succeeds for unknown usernames so callers cannot be used as a
	// user-enumeration oracle; only transport failure errors.
	ResetPassword(ctx context.Context, username string) error

	// MFAChallenge issues a challenge for the user. Reissuing before expiry
	// supersedes any prior challenge: only the newest ID verifies.
	MFAChallenge(ctx context.Context, username string) (*MFAChallenge, error)

	// MFAVerify consumes a challenge. Fails with KindChallengeExpired past
	// expiry, KindInvalidCode on mismatch, KindTooManyAttempts when the
	// provider signals lockout, and KindChallengeNotFound for unknown,
	// superseded or already-consumed challenge IDs.
	MFAVerify(ctx context.Context, req MFAVerifyRequest) error

	// RevokeRefreshToken revokes a single refresh token, independent of any
	// session tracking.
	RevokeRefreshToken(ctx context.Context, refreshToken string) error

	// ListSessions returns the user's active sessions ordered most recent
	// first (ties broken by session ID ascending). A user with no sessions
	// yields an empty slice, not an error.
	ListSessions(ctx context.Context, userID string) ([]Session, error)

	// RevokeSession invalidates a session and any tokens bound to it.
	// Revoking an unknown or already-revoked session fails with
	// KindSessionNotFound.
	RevokeSession(ctx context.Context, sessionID string) error

	// GetRoles returns the set of role names held by the user.
	GetRoles(ctx context.Context, userID string) ([]string, error)

	// CreateRoles creates roles all-or-nothing and returns the created
	// names. Fails with KindDuplicateRole when any requested name already
	// exists in the context, leaving nothing created.
	CreateRoles(ctx context.Context, req CreateRolesRequest) ([]string, error)

	// CreateScope creates a scope. Fails with KindDuplicateScope.
	CreateScope(ctx context.Context, req CreateScopeRequest) (*ScopeInfo, error)

	// AssignRoles assigns roles to a user, idempotently per role. Fails
	// with KindUserNotFound, or KindRoleNotFound when none of the named
	// roles exist.
	AssignRoles(ctx context.Context, req AssignRolesRequest) error

	// RemoveRoles removes roles from a user with the same idempotence and
	// failure semantics as AssignRoles.
	RemoveRoles(ctx context.Context, req AssignRolesRequest) error
}
