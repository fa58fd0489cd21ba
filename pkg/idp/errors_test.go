package idp_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/idp/pkg/idp"
)

func TestError_MatchesByKind(t *testing.T) {
	err := idp.E(idp.KindUserNotFound, "deleteUser", "user does not exist")

	require.ErrorIs(t, err, idp.ErrUserNotFound)
	require.NotErrorIs(t, err, idp.ErrDuplicateUser)
	require.NotErrorIs(t, err, idp.ErrUnavailable)
}

func TestError_MatchesThroughWrapping(t *testing.T) {
	inner := idp.E(idp.KindInvalidCredentials, "login", "invalid username or password")
	wrapped := fmt.Errorf("handling request: %w", inner)

	require.ErrorIs(t, wrapped, idp.ErrInvalidCredentials)
	require.Equal(t, idp.KindInvalidCredentials, idp.KindOf(wrapped))
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := idp.Wrap(idp.KindUnavailable, "login", "token endpoint unreachable", cause)

	require.ErrorIs(t, err, idp.ErrUnavailable)
	require.ErrorIs(t, err, cause)
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *idp.Error
		want string
	}{
		{
			"op and description",
			idp.E(idp.KindUserNotFound, "deleteUser", "user does not exist"),
			"idp: deleteUser: user_not_found: user does not exist",
		},
		{
			"op only",
			idp.E(idp.KindUserNotFound, "deleteUser", ""),
			"idp: deleteUser: user_not_found",
		},
		{
			"description only",
			idp.E(idp.KindUserNotFound, "", "user does not exist"),
			"idp: user_not_found: user does not exist",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOf(t *testing.T) {
	require.Equal(t, idp.Kind(""), idp.KindOf(nil))
	require.Equal(t, idp.Kind(""), idp.KindOf(errors.New("plain error")))
	require.Equal(t, idp.KindTooManyAttempts,
		idp.KindOf(idp.E(idp.KindTooManyAttempts, "mfaVerify", "locked out")))
}
