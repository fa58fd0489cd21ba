// Package idptest exercises an Adapter implementation against the contract
// semantics shared by every provider binding. Bindings run the suite from
// their own tests:
//
//	func TestConformance(t *testing.T) {
//		idptest.Run(t, idptest.Provider{
//			New: func(t *testing.T) idp.Adapter { ... },
//			...
//		})
//	}
package idptest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/idp/pkg/idp"
)

// Provider tells the suite how to construct and drive the adapter under
// test.
type Provider struct {
	// New returns a fresh adapter. Called once per subtest so state does
	// not leak between cases.
	New func(t *testing.T) idp.Adapter

	// ClientID and ClientSecret are credentials for a client the adapter
	// accepts.
	ClientID     string
	ClientSecret string

	// ChallengeCode returns the code that verifies the given challenge,
	// e.g. by capturing delivered codes or computing a TOTP.
	ChallengeCode func(t *testing.T, ch *idp.MFAChallenge) string
}

var userSeq atomic.Int64

// uniqueName returns a username that is unique for the whole test binary, so
// cases never collide on the duplicate-user constraint.
func uniqueName(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), userSeq.Add(1))
}

const defaultPassword = "correct-horse-battery"

func createUser(t *testing.T, a idp.Adapter, username string) *idp.CreatedUser {
	t.Helper()
	created, err := a.CreateUser(context.Background(), idp.CreateUserRequest{
		Username:   username,
		Email:      username + "@example.com",
		Password:   defaultPassword,
		GivenName:  "Test",
		FamilyName: "User",
		Enabled:    true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	return created
}

func login(t *testing.T, a idp.Adapter, p Provider, username, password string) (*idp.TokenSet, error) {
	t.Helper()
	return a.Login(context.Background(), idp.LoginRequest{
		Username:     username,
		Password:     password,
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Scope:        "openid profile",
	})
}

// Run executes the full conformance suite against the provider.
func Run(t *testing.T, p Provider) {
	t.Run("Login", func(t *testing.T) { testLogin(t, p) })
	t.Run("Refresh", func(t *testing.T) { testRefresh(t, p) })
	t.Run("Logout", func(t *testing.T) { testLogout(t, p) })
	t.Run("Introspect", func(t *testing.T) { testIntrospect(t, p) })
	t.Run("UserInfo", func(t *testing.T) { testUserInfo(t, p) })
	t.Run("CreateUser", func(t *testing.T) { testCreateUser(t, p) })
	t.Run("UpdateUser", func(t *testing.T) { testUpdateUser(t, p) })
	t.Run("DeleteUser", func(t *testing.T) { testDeleteUser(t, p) })
	t.Run("ChangePassword", func(t *testing.T) { testChangePassword(t, p) })
	t.Run("ResetPassword", func(t *testing.T) { testResetPassword(t, p) })
	t.Run("MFA", func(t *testing.T) { testMFA(t, p) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, p) })
	t.Run("Roles", func(t *testing.T) { testRoles(t, p) })
	t.Run("Scopes", func(t *testing.T) { testScopes(t, p) })
}

func testLogin(t *testing.T, p Provider) {
	a := p.New(t)
	ctx := context.Background()
	username := uniqueName("login")
	createUser(t, a, username)

	t.Run("valid credentials", func(t *testing.T) {
		set, err := login(t, a, p, username, defaultPassword)
		require.NoError(t, err)
		require.NotEmpty(t, set.AccessToken)
		require.NotEmpty(t, set.RefreshToken)
		require.Equal(t, "Bearer", set.TokenType)
		require.Positive(t, set.ExpiresIn)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := login(t, a, p, username, "not-the-password")
		require.ErrorIs(t, err, idp.ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := login(t, a, p, uniqueName("nobody"), defaultPassword)
		require.ErrorIs(t, err, idp.ErrInvalidCredentials)
	})

	t.Run("bad client secret", func(t *testing.T) {
		_, err := a.Login(ctx, idp.LoginRequest{
			Username:     username,
			Password:     defaultPassword,
			ClientID:     p.ClientID,
			ClientSecret: "wrong-secret",
		})
		require.ErrorIs(t, err, idp.ErrClientUnauthorized)
	})
}

func testRefresh(t *testing.T, p Provider) {
	a := p.New(t)
	ctx := context.Background()
	username := uniqueName("refresh")
	createUser(t, a, username)

	set, err := login(t, a, p, username, defaultPassword)
	require.NoError(t, err)

	t.Run("rotates the refresh token", func(t *testing.T) {
		next, err := a.Refresh(ctx, idp.RefreshRequest{
			RefreshToken: set.RefreshToken,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
		})
		require.NoError(t, err)
		require.NotEmpty(t, next.AccessToken)
		require.NotEqual(t, set.RefreshToken, next.RefreshToken)

		// the consumed token no longer refreshes
		_, err = a.Refresh(ctx, idp.RefreshRequest{
			RefreshToken: set.RefreshToken,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
		})
		require.ErrorIs(t, err, idp.ErrInvalidOrExpiredToken)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := a.Refresh(ctx, idp.RefreshRequest{
			RefreshToken: "not-a-real-token",
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
		})
		require.ErrorIs(t, err, idp.ErrInvalidOrExpiredToken)
	})
}

func testLogout(t *testing.T, p Provider) {
	a := p.New(t)
	ctx := context.Background()
	username := uniqueName("logout")
	createUser(t, a, username)

	set, err := login(t, a, p, username, defaultPassword)
	require.NoError(t, err)

	req := idp.LogoutRequest{AccessToken: set.AccessToken, RefreshToken: set.RefreshToken}
	require.NoError(t, a.Logout(ctx, req))

	t.Run("tokens are dead afterwards", func(t *testing.T) {
		intro, err := a.Introspect(ctx, set.AccessToken)
		require.NoError(t, err)
		require.False(t, intro.Active)

		_, err = a.Refresh(ctx, idp.RefreshRequest{
			RefreshToken: set.RefreshToken,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
		})
		require.ErrorIs(t, err, idp.ErrInvalidOrExpiredToken)
	})

	t.Run("repeat logout is not an error", func(t *testing.T) {
		require.NoError(t, a.Logout(ctx, req))
	})
}

func testIntrospect(t *testing.T, p Provider) {
	a := p.New(t)
	ctx := context.Background()
	username := uniqueName("introspect")
	created := createUser(t, a, username)

	set, err := login(t, a, p, username, defaultPassword)
	require.NoError(t, err)

	t.Run("active token", func(t *testing.T) {
		intro, err := a.Introspect(ctx, set.AccessToken)
		require.NoError(t, err)
		require.True(t, intro.Active)
		require.Equal(t, created.ID, intro.Sub)
		require.NotZero(t, intro.Exp)
	})

	t.Run("garbage token is inactive, not an error", func(t *testing.T) {
		intro, err := a.Introspect(ctx, "garbage.token.value")
		require.NoError(t, err)
		require.False(t, intro.Active)
	})
}

func testUserInfo(t *testing.T, p Provider) {
	a := p.New(t)
	ctx := context.Background()
	username := uniqueName("userinfo")
	created := createUser(t, a, username)

	set, err := login(t, a, p, username, defaultPassword)
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		info, err := a.UserInfo(ctx, set.AccessToken)
		require.NoError(t, err)
		require.Equal(t, created.ID, info.Sub)
		require.Equal(t, username, info.PreferredUsername)
		require.Equal(t, username+"@example.com", info.Email)
		require.Equal(t, "Test", info.GivenName)
		require.Equal(t, "User", info.FamilyName)
	})

	t.Run("invalid token", func(t *testing.T) {
		_, err := a.UserInfo(ctx, "garbage.token.value")
		require.ErrorIs(t, err, idp.ErrInvalidOrExpiredToken)
	})
}

func testCreateUser(t *testing.T, p Provider) {
	a := p.New(t)
	ctx := context.Background()

	t.Run("duplicate username", func(t *testing.T) {
		username := uniqueName("dup")
		createUser(t, a, username)

		_, err := a.CreateUser(ctx, idp.CreateUserRequest{
			Username: username,
			Email:    uniqueName("other") + "@example.com",
			Password: defaultPassword,
			Enabled:  true,
		})
		require.ErrorIs(t, err, idp.ErrDuplicateUser)
	})

	t.Run("missing username", func(t *testing.T) {
		_, err := a.CreateUser(ctx, idp.CreateUserRequest{
			Email:    uniqueName("missing") + "@example.com",
			Password: defaultPassword,
			Enabled:  true,
		})
		require.ErrorIs(t, err, idp.ErrValidation)
	})

	t.Run("disabled user cannot log in", func(t *testing.T) {
		username := uniqueName("disabled")
		_, err := a.CreateUser(ctx, idp.CreateUserRequest{
			Username: username,
			Email:    username + "@example.com",
			Password: defaultPassword,
			Enabled:  false,
		})
		require.NoError(t, err)

		_, err = login(t, a, p, username, defaultPassword)
		require.ErrorIs(t, err, idp.ErrInvalidCredentials)
	})
}

func testUpdateUser(t *testing.T, p Provider) {
	a := p.New(t)
	ctx := context.Background()

	t.Run("unset fields keep their values", func(t *testing.T) {
		username := uniqueName("update")
		created := createUser(t, a, username)

		_, err := a.UpdateUser(ctx, idp.UpdateUserRequest{
			UserID:    created.ID,
			GivenName: idp.Some("Renamed"),
		})
		require.NoError(t, err)

		set, err := login(t, a, p, username, defaultPassword)
		require.NoError(t, err)
		info, err := a.UserInfo(ctx, set.AccessToken)
		require.NoError(t, err)
		require.Equal(t, "Renamed", info.GivenName)
		require.Equal(t, "User", info.FamilyName, "unset field must not change")
		require.Equal(t, username+"@example.com", info.Email, "unset field must not change")
	})

	t.Run("set empty value clears the field", func(t *testing.T) {
		username := uniqueName("clear")
		created := createUser(t, a, username)

		_, err := a.UpdateUser(ctx, idp.UpdateUserRequest{
			UserID:    created.ID,
			GivenName: idp.Some(""),
		})
		require.NoError(t, err)

		set, err := login(t, a, p, username, defaultPassword)
		require.NoError(t, err)
		info, err := a.UserInfo(ctx, set.AccessToken)
		require.NoError(t, err)
		require.Empty(t, info.GivenName)
		require.Equal(t, "User", info.FamilyName)
	})

	t.Run("disable via update", func(t *testing.T) {
		username := uniqueName("disable")
		created := createUser(t, a, username)

		_, err := a.UpdateUser(ctx, idp.UpdateUserRequest{
			UserID:  created.ID,
			Enabled: idp.Some(false),
		})
		require.NoError(t, err)

		_, err = login(t, a, p, username, defaultPassword)
		require.ErrorIs(t, err, idp.ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := a.UpdateUser(ctx, idp.UpdateUserRequest{
			UserID: "00000000000000000000000000",
			Email:  idp.Some("x@example.com"),
		})
		require.ErrorIs(t, err, idp.ErrUserNotFound)
	})
}

func testDeleteUser(t *testing.T, p Provider) {
	a := p.New(t)
	ctx := context.Background()
	username := uniqueName("delete")
	created := createUser(t, a, username)

	require.NoError(t, a.DeleteUser(ctx, created.ID))

	t.Run("second delete surfaces the miss", func(t *testing.T) {
		require.ErrorIs(t, a.DeleteUser(ctx, created.ID), idp.ErrUserNotFound)
	})

	t.Run("deleted user cannot log in", func(t *testing.T) {
		_, err := login(t, a, p, username, defaultPassword)
		require.ErrorIs(t, err, idp.ErrInvalidCredentials)
	})
}

func testChangePassword(t *testing.T, p Provider) {
	a := p.New(t)
	ctx := context.Background()
	username := uniqueName("chpass")
	created := createUser(t, a, username)

	t.Run("wrong old password", func(t *testing.T) {
		err := a.ChangePassword(ctx, idp.ChangePasswordRequest{
			UserID:      created.ID,
			OldPassword: "not-the-password",
			NewPassword: "another-long-password",
		})
		require.ErrorIs(t, err, idp.ErrInvalidOldPassword)
	})

	t.Run("policy violation", func(t *testing.T) {
		err := a.ChangePassword(ctx, idp.ChangePasswordRequest{
			UserID:      created.ID,
			OldPassword: defaultPassword,
			NewPassword: "x",
		})
		require.ErrorIs(t, err, idp.ErrPolicyViolation)
	})

	t.Run("success rolls credentials", func(t *testing.T) {
		const newPassword = "brand-new-password"
		err := a.ChangePassword(ctx, idp.ChangePasswordRequest{
			UserID:      created.ID,
			OldPassword: defaultPassword,
			NewPassword: newPassword,
		})
		require.NoError(t, err)

		_, err = login(t, a, p, username, defaultPassword)
		require.ErrorIs(t, err, idp.ErrInvalidCredentials)

		_, err = login(t, a, p, username, newPassword)
		require.NoError(t, err)
	})
}

func testResetPassword(t *testing.T, p Provider) {
	a := p.New(t)
	ctx := context.Background()

	t.Run("known user", func(t *testing.T) {
		username := uniqueName("reset")
		createUser(t, a, username)
		require.NoError(t, a.ResetPassword(ctx, username))
	})

	t.Run("unknown user succeeds silently", func(t *testing.T) {
		require.NoError(t, a.ResetPassword(ctx, uniqueName("ghost")))
	})
}

func testMFA(t *testing.T, p Provider) {
	if p.ChallengeCode == nil {
		t.Skip("provider does not expose challenge codes")
	}

	a := p.New(t)
	ctx := context.Background()

	newChallenge := func(t *testing.T) (string, *idp.MFAChallenge) {
		t.Helper()
		username := uniqueName("mfa")
		createUser(t, a, username)
		ch, err := a.MFAChallenge(ctx, username)
		require.NoError(t, err)
		require.NotEmpty(t, ch.ID)
		require.False(t, ch.ExpiresAt.IsZero())
		return username, ch
	}

	t.Run("verify consumes the challenge", func(t *testing.T) {
		_, ch := newChallenge(t)
		code := p.ChallengeCode(t, ch)

		err := a.MFAVerify(ctx, idp.MFAVerifyRequest{ChallengeID: ch.ID, Code: code})
		require.NoError(t, err)

		// single use: a second verify of the same challenge fails
		err = a.MFAVerify(ctx, idp.MFAVerifyRequest{ChallengeID: ch.ID, Code: code})
		require.ErrorIs(t, err, idp.ErrChallengeNotFound)
	})

	t.Run("wrong code", func(t *testing.T) {
		_, ch := newChallenge(t)
		err := a.MFAVerify(ctx, idp.MFAVerifyRequest{ChallengeID: ch.ID, Code: "000000"})
		if err == nil {
			t.Skip("generated code happened to match")
		}
		require.ErrorIs(t, err, idp.ErrInvalidCode)
	})

	t.Run("reissue supersedes the pending challenge", func(t *testing.T) {
		username, first := newChallenge(t)
		second, err := a.MFAChallenge(ctx, username)
		require.NoError(t, err)
		require.NotEqual(t, first.ID, second.ID)

		err = a.MFAVerify(ctx, idp.MFAVerifyRequest{
			ChallengeID: first.ID,
			Code:        p.ChallengeCode(t, second),
		})
		require.ErrorIs(t, err, idp.ErrChallengeNotFound)

		err = a.MFAVerify(ctx, idp.MFAVerifyRequest{
			ChallengeID: second.ID,
			Code:        p.ChallengeCode(t, second),
		})
		require.NoError(t, err)
	})

	t.Run("unknown challenge", func(t *testing.T) {
		err := a.MFAVerify(ctx, idp.MFAVerifyRequest{
			ChallengeID: "00000000000000000000000000",
			Code:        "123456",
		})
		require.ErrorIs(t, err, idp.ErrChallengeNotFound)
	})
}

func testSessions(t *testing.T, p Provider) {
	a := p.New(t)
	ctx := context.Background()
	username := uniqueName("sessions")
	created := createUser(t, a, username)

	t.Run("no sessions yields empty", func(t *testing.T) {
		sessions, err := a.ListSessions(ctx, created.ID)
		require.NoError(t, err)
		require.Empty(t, sessions)
	})

	first, err := login(t, a, p, username, defaultPassword)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond) // distinct creation times for ordering
	_, err = login(t, a, p, username, defaultPassword)
	require.NoError(t, err)

	var newest, oldest idp.Session

	t.Run("ordered newest first", func(t *testing.T) {
		sessions, err := a.ListSessions(ctx, created.ID)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		newest, oldest = sessions[0], sessions[1]
		require.True(t, newest.CreatedAt.After(oldest.CreatedAt) || newest.CreatedAt.Equal(oldest.CreatedAt))
		if newest.CreatedAt.Equal(oldest.CreatedAt) {
			require.Less(t, newest.ID, oldest.ID)
		}
		for _, s := range sessions {
			require.Equal(t, created.ID, s.UserID)
		}
	})

	t.Run("revoke kills the session and its tokens", func(t *testing.T) {
		require.NoError(t, a.RevokeSession(ctx, oldest.ID))

		sessions, err := a.ListSessions(ctx, created.ID)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		require.Equal(t, newest.ID, sessions[0].ID)

		// first login was the older session; its refresh token must be dead
		_, err = a.Refresh(ctx, idp.RefreshRequest{
			RefreshToken: first.RefreshToken,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
		})
		require.ErrorIs(t, err, idp.ErrInvalidOrExpiredToken)
	})

	t.Run("revoking twice surfaces the miss", func(t *testing.T) {
		require.ErrorIs(t, a.RevokeSession(ctx, oldest.ID), idp.ErrSessionNotFound)
	})

	t.Run("unknown session", func(t *testing.T) {
		require.ErrorIs(t, a.RevokeSession(ctx, "00000000000000000000000000"), idp.ErrSessionNotFound)
	})
}

func testRoles(t *testing.T, p Provider) {
	a := p.New(t)
	ctx := context.Background()

	t.Run("create assign and remove", func(t *testing.T) {
		username := uniqueName("roles")
		created := createUser(t, a, username)

		admin := uniqueName("role-admin")
		viewer := uniqueName("role-viewer")
		names, err := a.CreateRoles(ctx, idp.CreateRolesRequest{Names: []string{admin, viewer}})
		require.NoError(t, err)
		require.ElementsMatch(t, []string{admin, viewer}, names)

		require.NoError(t, a.AssignRoles(ctx, idp.AssignRolesRequest{
			UserID:    created.ID,
			RoleNames: []string{admin, viewer},
		}))

		roles, err := a.GetRoles(ctx, created.ID)
		require.NoError(t, err)
		require.Subset(t, roles, []string{admin, viewer})

		// assigning again is idempotent
		require.NoError(t, a.AssignRoles(ctx, idp.AssignRolesRequest{
			UserID:    created.ID,
			RoleNames: []string{admin},
		}))
		again, err := a.GetRoles(ctx, created.ID)
		require.NoError(t, err)
		require.Len(t, again, len(roles))

		require.NoError(t, a.RemoveRoles(ctx, idp.AssignRolesRequest{
			UserID:    created.ID,
			RoleNames: []string{admin},
		}))
		roles, err = a.GetRoles(ctx, created.ID)
		require.NoError(t, err)
		require.NotContains(t, roles, admin)
		require.Contains(t, roles, viewer)
	})

	t.Run("creation is all or nothing", func(t *testing.T) {
		existing := uniqueName("role-existing")
		fresh := uniqueName("role-fresh")

		_, err := a.CreateRoles(ctx, idp.CreateRolesRequest{Names: []string{existing}})
		require.NoError(t, err)

		_, err = a.CreateRoles(ctx, idp.CreateRolesRequest{Names: []string{fresh, existing}})
		require.ErrorIs(t, err, idp.ErrDuplicateRole)

		// the fresh name must not have been created by the failed batch
		_, err = a.CreateRoles(ctx, idp.CreateRolesRequest{Names: []string{fresh}})
		require.NoError(t, err)
	})

	t.Run("assigning only unknown roles fails", func(t *testing.T) {
		username := uniqueName("roles-unknown")
		created := createUser(t, a, username)

		err := a.AssignRoles(ctx, idp.AssignRolesRequest{
			UserID:    created.ID,
			RoleNames: []string{uniqueName("no-such-role")},
		})
		require.ErrorIs(t, err, idp.ErrRoleNotFound)
	})

	t.Run("unknown user", func(t *testing.T) {
		role := uniqueName("role-orphan")
		_, err := a.CreateRoles(ctx, idp.CreateRolesRequest{Names: []string{role}})
		require.NoError(t, err)

		err = a.AssignRoles(ctx, idp.AssignRolesRequest{
			UserID:    "00000000000000000000000000",
			RoleNames: []string{role},
		})
		require.ErrorIs(t, err, idp.ErrUserNotFound)
	})
}

func testScopes(t *testing.T, p Provider) {
	a := p.New(t)
	ctx := context.Background()

	name := uniqueName("scope")
	scope, err := a.CreateScope(ctx, idp.CreateScopeRequest{
		Name:        name,
		Description: "conformance scope",
	})
	require.NoError(t, err)
	require.NotEmpty(t, scope.ID)
	require.Equal(t, name, scope.Name)

	_, err = a.CreateScope(ctx, idp.CreateScopeRequest{Name: name})
	require.ErrorIs(t, err, idp.ErrDuplicateScope)
}
