package idp

import (
	"errors"
	"fmt"
)

// Kind classifies an adapter failure independently of how the backing
// provider reported it. Callers branch on kinds (via errors.Is against the
// predefined values below, or via KindOf) rather than on provider payloads.
type Kind string

const (
	KindInvalidCredentials    Kind = "invalid_credentials"
	KindClientUnauthorized    Kind = "client_unauthorized"
	KindInvalidOrExpiredToken Kind = "invalid_or_expired_token"
	KindUserNotFound          Kind = "user_not_found"
	KindDuplicateUser         Kind = "duplicate_user"
	KindDuplicateRole         Kind = "duplicate_role"
	KindDuplicateScope        Kind = "duplicate_scope"
	KindRoleNotFound          Kind = "role_not_found"
	KindValidation            Kind = "validation_error"
	KindPolicyViolation       Kind = "policy_violation"
	KindInvalidOldPassword    Kind = "invalid_old_password"
	KindChallengeNotFound     Kind = "challenge_not_found"
	KindChallengeExpired      Kind = "challenge_expired"
	KindInvalidCode           Kind = "invalid_code"
	KindTooManyAttempts       Kind = "too_many_attempts"
	KindSessionNotFound       Kind = "session_not_found"

	// KindUnavailable covers transport and backend availability failures,
	// including caller-imposed timeouts. It is the only kind callers may
	// safely retry without risking duplicate side effects being the cause
	// of the original failure.
	KindUnavailable Kind = "provider_unavailable"
)

// Error is the failure type returned by every adapter operation. It carries
// the normalized Kind, the operation that failed, and (optionally) the
// underlying provider error for diagnostics.
type Error struct {
	// Kind is the normalized failure classification.
	Kind Kind

	// Op is the adapter operation that failed (e.g. "login", "createUser").
	Op string

	// Description is a human-readable summary. It must never contain
	// credentials, codes or token material.
	Description string

	err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Description != "":
		return fmt.Sprintf("idp: %s: %s: %s", e.Op, e.Kind, e.Description)
	case e.Op != "":
		return fmt.Sprintf("idp: %s: %s", e.Op, e.Kind)
	case e.Description != "":
		return fmt.Sprintf("idp: %s: %s", e.Kind, e.Description)
	default:
		return fmt.Sprintf("idp: %s", e.Kind)
	}
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.err }

// Is reports kind equality, so errors.Is(err, idp.ErrUserNotFound) matches
// any *Error of that kind regardless of operation or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// E constructs a typed failure for an operation.
func E(kind Kind, op, description string) *Error {
	return &Error{Kind: kind, Op: op, Description: description}
}

// Wrap constructs a typed failure that records an underlying cause.
func Wrap(kind Kind, op, description string, err error) *Error {
	return &Error{Kind: kind, Op: op, Description: description, err: err}
}

// KindOf extracts the Kind from an error chain. It returns the empty Kind
// for nil and for errors that carry no *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Predefined per-kind values for errors.Is matching. These are match
// targets, not errors to return: operations should return E or Wrap so the
// failure carries its operation name.
var (
	ErrInvalidCredentials    = &Error{Kind: KindInvalidCredentials, Description: "invalid username or password"}
	ErrClientUnauthorized    = &Error{Kind: KindClientUnauthorized, Description: "client authentication failed"}
	ErrInvalidOrExpiredToken = &Error{Kind: KindInvalidOrExpiredToken, Description: "token is unknown, revoked or expired"}
	ErrUserNotFound          = &Error{Kind: KindUserNotFound, Description: "user not found"}
	ErrDuplicateUser         = &Error{Kind: KindDuplicateUser, Description: "username or email already exists"}
	ErrDuplicateRole         = &Error{Kind: KindDuplicateRole, Description: "role already exists in context"}
	ErrDuplicateScope        = &Error{Kind: KindDuplicateScope, Description: "scope already exists in context"}
	ErrRoleNotFound          = &Error{Kind: KindRoleNotFound, Description: "role not found"}
	ErrValidation            = &Error{Kind: KindValidation, Description: "request failed provider validation"}
	ErrPolicyViolation       = &Error{Kind: KindPolicyViolation, Description: "request violates provider policy"}
	ErrInvalidOldPassword    = &Error{Kind: KindInvalidOldPassword, Description: "old password rejected"}
	ErrChallengeNotFound     = &Error{Kind: KindChallengeNotFound, Description: "challenge is unknown, consumed or superseded"}
	ErrChallengeExpired      = &Error{Kind: KindChallengeExpired, Description: "challenge has expired"}
	ErrInvalidCode           = &Error{Kind: KindInvalidCode, Description: "verification code does not match"}
	ErrTooManyAttempts       = &Error{Kind: KindTooManyAttempts, Description: "too many verification attempts"}
	ErrSessionNotFound       = &Error{Kind: KindSessionNotFound, Description: "session not found"}
	ErrUnavailable           = &Error{Kind: KindUnavailable, Description: "provider unreachable"}
)
