package idp

import "time"

// ============================================================================
// Authentication Types
// ============================================================================

// LoginRequest carries the credentials and client details for one login
// attempt. It is consumed once; adapters must never log the password.
type LoginRequest struct {
	// Username is the login identifier at the provider.
	Username string

	// Password is the user's password. Never logged, never echoed back.
	Password string

	// ClientID identifies the OAuth2 client performing the login.
	ClientID string

	// ClientSecret authenticates confidential clients. Empty for public clients.
	ClientSecret string

	// Scope is the space-delimited scope requested for the token set.
	Scope string
}

// RefreshRequest exchanges a refresh token for a new token set.
type RefreshRequest struct {
	RefreshToken string
	ClientID     string
	ClientSecret string
}

// LogoutRequest invalidates both tokens of a token set at the provider.
type LogoutRequest struct {
	AccessToken  string
	RefreshToken string
}

// TokenSet is the normalized token endpoint result. A provider that rotates
// refresh tokens on use returns the rotated token here; callers must discard
// the one they sent.
type TokenSet struct {
	// AccessToken is the short-lived bearer token for API calls.
	AccessToken string

	// RefreshToken obtains new token sets. May be empty for grants that do
	// not issue one.
	RefreshToken string

	// IDToken is the OIDC identity token, when the provider issues one.
	IDToken string

	// TokenType is typically "Bearer".
	TokenType string

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64

	// Scope is the space-delimited scope actually granted.
	Scope string
}

// Introspection is the RFC 7662 view of a token's current validity. It is
// computed at call time — adapters never cache it, since active status can
// flip between calls due to revocation. When Active is false the remaining
// fields are best-effort and may be zero.
type Introspection struct {
	Active   bool
	Scope    string
	Username string
	Sub      string
	Exp      int64
	Iat      int64
	Aud      []string
	Iss      string
	JTI      string
	ClientID string
}

// UserInfo is the OIDC claims projection tied to a specific access token.
type UserInfo struct {
	Sub               string
	Email             string
	EmailVerified     bool
	Name              string
	PreferredUsername string
	GivenName         string
	FamilyName        string
}

// ============================================================================
// User Administration Types
// ============================================================================

// CreateUserRequest describes a user to create at the provider.
type CreateUserRequest struct {
	Username   string
	Email      string
	Password   string
	GivenName  string
	FamilyName string

	// Enabled controls whether the user can authenticate immediately.
	Enabled bool

	// Attributes is a free-form attribute map; each key holds an ordered
	// list of string values.
	Attributes map[string][]string
}

// CreatedUser summarizes a newly created user.
type CreatedUser struct {
	ID        string
	Username  string
	Email     string
	CreatedAt time.Time
}

// UpdateUserRequest applies a partial update to an existing user. Only set
// Optional fields are modified; see the Optional docs for why a present
// empty value and an unset field are different things.
type UpdateUserRequest struct {
	// UserID resolves the user to update. Required.
	UserID string

	Email      Optional[string]
	GivenName  Optional[string]
	FamilyName Optional[string]
	Enabled    Optional[bool]
	Attributes Optional[map[string][]string]
}

// UpdatedUser summarizes the user after an update.
type UpdatedUser struct {
	ID        string
	Username  string
	Email     string
	UpdatedAt time.Time
}

// ChangePasswordRequest replaces a user's password. Providers that require
// the prior password reject a wrong OldPassword with ErrInvalidOldPassword.
type ChangePasswordRequest struct {
	UserID      string
	OldPassword string
	NewPassword string
}

// ============================================================================
// MFA Types
// ============================================================================

// DeliveryMethod enumerates how an MFA challenge reaches the user. Providers
// may use values beyond the predefined ones.
type DeliveryMethod string

const (
	DeliverySMS   DeliveryMethod = "SMS"
	DeliveryEmail DeliveryMethod = "EMAIL"
	DeliveryTOTP  DeliveryMethod = "TOTP"
)

// MFAChallenge is a short-lived, single-use proof-of-possession step. It is
// consumed exactly once by a matching MFAVerify, or expires. Issuing a new
// challenge for the same user supersedes this one: only the most recently
// issued challenge ID verifies.
type MFAChallenge struct {
	// ID identifies the challenge for verification.
	ID string

	// Method is how the code was (or must be) produced/delivered.
	Method DeliveryMethod

	// Destination is the masked delivery target (e.g. "a***e@example.com").
	// Empty for TOTP, where nothing is delivered.
	Destination string

	// ExpiresAt is when the challenge stops verifying.
	ExpiresAt time.Time
}

// MFAVerifyRequest completes a pending challenge.
type MFAVerifyRequest struct {
	ChallengeID string
	Code        string
	UserID      string
}

// ============================================================================
// Session Types
// ============================================================================

// Session is an authenticated session tracked by the provider. Adapters do
// not create sessions — they arise from successful logins — but can list and
// revoke them.
type Session struct {
	ID           string
	UserID       string
	CreatedAt    time.Time
	LastAccessAt time.Time
	IPAddress    string
	UserAgent    string
}

// ============================================================================
// Role & Scope Types
// ============================================================================

// CreateRolesRequest creates one or more roles. Creation is all-or-nothing:
// if any name already exists in the context, nothing is created.
type CreateRolesRequest struct {
	// Context scopes the roles (realm or client, provider-specific). Empty
	// means the provider default (e.g. realm roles in Keycloak).
	Context string

	Names       []string
	Description string
}

// CreateScopeRequest creates an authorization scope (e.g. an OAuth2 scope or
// Keycloak client scope).
type CreateScopeRequest struct {
	Context     string
	Name        string
	Description string
}

// ScopeInfo summarizes a created scope.
type ScopeInfo struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// AssignRolesRequest names roles to assign to or remove from a user. Both
// operations are idempotent per role.
type AssignRolesRequest struct {
	UserID    string
	RoleNames []string
}
