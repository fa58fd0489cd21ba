package idp_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/idp/pkg/idp"
)

// stubAdapter returns canned results so the logging wrapper can be observed
// in isolation.
type stubAdapter struct {
	err error
}

func (s *stubAdapter) Name() string { return "stub" }

func (s *stubAdapter) Login(context.Context, idp.LoginRequest) (*idp.TokenSet, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &idp.TokenSet{AccessToken: "at", TokenType: "Bearer"}, nil
}

func (s *stubAdapter) Refresh(context.Context, idp.RefreshRequest) (*idp.TokenSet, error) {
	return nil, s.err
}
func (s *stubAdapter) Logout(context.Context, idp.LogoutRequest) error { return s.err }
func (s *stubAdapter) Introspect(context.Context, string) (*idp.Introspection, error) {
	return &idp.Introspection{Active: true}, s.err
}
func (s *stubAdapter) UserInfo(context.Context, string) (*idp.UserInfo, error) { return nil, s.err }
func (s *stubAdapter) CreateUser(context.Context, idp.CreateUserRequest) (*idp.CreatedUser, error) {
	return nil, s.err
}
func (s *stubAdapter) UpdateUser(context.Context, idp.UpdateUserRequest) (*idp.UpdatedUser, error) {
	return nil, s.err
}
func (s *stubAdapter) DeleteUser(context.Context, string) error { return s.err }
func (s *stubAdapter) ChangePassword(context.Context, idp.ChangePasswordRequest) error {
	return s.err
}
func (s *stubAdapter) ResetPassword(context.Context, string) error { return s.err }
func (s *stubAdapter) MFAChallenge(context.Context, string) (*idp.MFAChallenge, error) {
	return nil, s.err
}
func (s *stubAdapter) MFAVerify(context.Context, idp.MFAVerifyRequest) error { return s.err }
func (s *stubAdapter) RevokeRefreshToken(context.Context, string) error      { return s.err }
func (s *stubAdapter) ListSessions(context.Context, string) ([]idp.Session, error) {
	return nil, s.err
}
func (s *stubAdapter) RevokeSession(context.Context, string) error { return s.err }
func (s *stubAdapter) GetRoles(context.Context, string) ([]string, error) {
	return nil, s.err
}
func (s *stubAdapter) CreateRoles(context.Context, idp.CreateRolesRequest) ([]string, error) {
	return nil, s.err
}
func (s *stubAdapter) CreateScope(context.Context, idp.CreateScopeRequest) (*idp.ScopeInfo, error) {
	return nil, s.err
}
func (s *stubAdapter) AssignRoles(context.Context, idp.AssignRolesRequest) error { return s.err }
func (s *stubAdapter) RemoveRoles(context.Context, idp.AssignRolesRequest) error { return s.err }

func newLogged(next idp.Adapter) (idp.Adapter, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return idp.WithLogging(next, logger), &buf
}

func TestWithLogging_Success(t *testing.T) {
	a, buf := newLogged(&stubAdapter{})

	set, err := a.Login(context.Background(), idp.LoginRequest{
		Username: "alice",
		Password: "hunter2-hunter2",
		ClientID: "client",
	})
	require.NoError(t, err)
	require.Equal(t, "at", set.AccessToken)

	out := buf.String()
	require.Contains(t, out, `"op":"login"`)
	require.Contains(t, out, `"outcome":"success"`)
	require.Contains(t, out, `"provider":"stub"`)
	require.Contains(t, out, `"username":"alice"`)
	require.Contains(t, out, `"level":"INFO"`)
}

func TestWithLogging_FailureCarriesKind(t *testing.T) {
	a, buf := newLogged(&stubAdapter{
		err: idp.E(idp.KindInvalidCredentials, "login", "invalid username or password"),
	})

	_, err := a.Login(context.Background(), idp.LoginRequest{Username: "alice"})
	require.ErrorIs(t, err, idp.ErrInvalidCredentials)

	out := buf.String()
	require.Contains(t, out, `"outcome":"failure"`)
	require.Contains(t, out, `"kind":"invalid_credentials"`)
	require.Contains(t, out, `"level":"WARN"`)
}

func TestWithLogging_NeverLogsSecrets(t *testing.T) {
	a, buf := newLogged(&stubAdapter{})

	_, err := a.Login(context.Background(), idp.LoginRequest{
		Username:     "alice",
		Password:     "super-secret-password",
		ClientID:     "client",
		ClientSecret: "super-secret-client",
	})
	require.NoError(t, err)
	require.NoError(t, a.Logout(context.Background(), idp.LogoutRequest{
		AccessToken:  "secret-access-token",
		RefreshToken: "secret-refresh-token",
	}))

	out := buf.String()
	require.NotContains(t, out, "super-secret-password")
	require.NotContains(t, out, "super-secret-client")
	require.NotContains(t, out, "secret-access-token")
	require.NotContains(t, out, "secret-refresh-token")
	// the minted access token must not appear either
	require.NotContains(t, out, `"at"`)
}

func TestWithLogging_PreservesName(t *testing.T) {
	a, _ := newLogged(&stubAdapter{})
	require.Equal(t, "stub", a.Name())
}
