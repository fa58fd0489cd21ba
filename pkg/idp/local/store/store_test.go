package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/idp/pkg/idp/local/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewStore("file:" + filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigrations())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s *store.Store, id, username string) store.User {
	t.Helper()
	now := time.Now().UTC()
	u := store.User{
		ID:           id,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "$argon2id$...",
		GivenName:    "Given",
		FamilyName:   "Family",
		Enabled:      true,
		Attributes:   map[string][]string{"dept": {"eng"}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.ApplyMigrations(), "re-applying an up-to-date schema must not fail")
}

func TestUsers_CreateAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "alice")

	got, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "alice", got.Username)
	require.Equal(t, []string{"eng"}, got.Attributes["dept"])
	require.True(t, got.Enabled)

	byName, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "u1", byName.ID)

	_, err = s.GetUser(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUsers_UniqueConstraints(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "alice")

	dup := store.User{
		ID:           "u2",
		Username:     "alice",
		Email:        "different@example.com",
		PasswordHash: "x",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	require.ErrorIs(t, s.CreateUser(ctx, dup), store.ErrDuplicate)

	dup.Username = "different"
	dup.Email = "alice@example.com"
	require.ErrorIs(t, s.CreateUser(ctx, dup), store.ErrDuplicate)
}

func TestUsers_PatchTouchesOnlyGivenColumns(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "alice")

	given := ""
	enabled := false
	err := s.UpdateUser(ctx, "u1", store.UserPatch{
		GivenName: &given,
		Enabled:   &enabled,
	}, time.Now().UTC())
	require.NoError(t, err)

	got, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, got.GivenName, "patched column cleared")
	require.False(t, got.Enabled, "patched column cleared")
	require.Equal(t, "Family", got.FamilyName, "untouched column kept")
	require.Equal(t, "alice@example.com", got.Email, "untouched column kept")

	err = s.UpdateUser(ctx, "missing", store.UserPatch{GivenName: &given}, time.Now().UTC())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessions_ListOrdering(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "alice")

	base := time.Now().UTC().Truncate(time.Second)
	mk := func(id string, at time.Time) {
		require.NoError(t, s.CreateSession(ctx, store.Session{
			ID: id, UserID: "u1", CreatedAt: at, LastAccessAt: at,
		}))
	}
	mk("s-b", base)
	mk("s-c", base.Add(time.Second))
	mk("s-a", base) // same instant as s-b

	sessions, err := s.ListActiveSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	require.Equal(t, "s-c", sessions[0].ID, "newest first")
	require.Equal(t, "s-a", sessions[1].ID, "tie broken by id ascending")
	require.Equal(t, "s-b", sessions[2].ID)
}

func TestSessions_RevokeIsSingleShot(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "alice")
	now := time.Now().UTC()
	require.NoError(t, s.CreateSession(ctx, store.Session{
		ID: "s1", UserID: "u1", CreatedAt: now, LastAccessAt: now,
	}))

	require.NoError(t, s.RevokeSession(ctx, "s1", now))
	require.ErrorIs(t, s.RevokeSession(ctx, "s1", now), store.ErrNotFound)

	sessions, err := s.ListActiveSessions(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestDeleteUser_CascadesOwnedRecords(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "alice")
	now := time.Now().UTC()

	require.NoError(t, s.CreateSession(ctx, store.Session{
		ID: "s1", UserID: "u1", CreatedAt: now, LastAccessAt: now,
	}))
	require.NoError(t, s.CreateRefreshToken(ctx, store.RefreshToken{
		ID: "rt1", TokenHash: "hash", UserID: "u1", SessionID: "s1",
		ClientID: "c", ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}))

	require.NoError(t, s.DeleteUser(ctx, "u1"))

	_, err := s.GetSession(ctx, "s1")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetRefreshTokenByHash(ctx, "hash")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMFAChallenges_StateMachine(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "alice")
	now := time.Now().UTC()

	mk := func(id string) {
		require.NoError(t, s.CreateMFAChallenge(ctx, store.MFAChallenge{
			ID: id, UserID: "u1", Method: "EMAIL", CodeHash: "h",
			ExpiresAt: now.Add(5 * time.Minute), CreatedAt: now,
		}))
	}

	mk("ch1")
	require.NoError(t, s.SupersedePendingChallenges(ctx, "u1"))
	mk("ch2")

	ch1, err := s.GetMFAChallenge(ctx, "ch1")
	require.NoError(t, err)
	require.Equal(t, store.ChallengeStateSuperseded, ch1.State)

	// verified is a one-way, single-use transition
	require.NoError(t, s.MarkChallengeVerified(ctx, "ch2"))
	require.ErrorIs(t, s.MarkChallengeVerified(ctx, "ch2"), store.ErrNotFound)
	require.ErrorIs(t, s.MarkChallengeVerified(ctx, "ch1"), store.ErrNotFound)

	attempts, err := s.IncrementChallengeAttempts(ctx, "ch2")
	require.NoError(t, err)
	require.Equal(t, int64(1), attempts)
}

func TestRoles_ContextScopedUniqueness(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateRole(ctx, store.Role{ID: "r1", Context: "", Name: "admin", CreatedAt: now}))
	require.NoError(t, s.CreateRole(ctx, store.Role{ID: "r2", Context: "billing", Name: "admin", CreatedAt: now}),
		"same name in a different context is allowed")
	require.ErrorIs(t,
		s.CreateRole(ctx, store.Role{ID: "r3", Context: "", Name: "admin", CreatedAt: now}),
		store.ErrDuplicate)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := s.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.CreateRole(ctx, store.Role{ID: "r1", Name: "ephemeral", CreatedAt: now}); err != nil {
			return err
		}
		// duplicate insert fails the tx; the first insert must roll back
		return tx.CreateRole(ctx, store.Role{ID: "r2", Name: "ephemeral", CreatedAt: now})
	})
	require.ErrorIs(t, err, store.ErrDuplicate)

	_, err = s.GetRoleByName(ctx, "", "ephemeral")
	require.ErrorIs(t, err, store.ErrNotFound)
}
