package keycloak_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/idp/pkg/idp"
	"github.com/aussiebroadwan/idp/pkg/idp/keycloak"
)

const (
	testRealm  = "test"
	tokenPath  = "/realms/test/protocol/openid-connect/token"
	logoutPath = "/realms/test/protocol/openid-connect/logout"
	revokePath = "/realms/test/protocol/openid-connect/revoke"
)

func newAdapter(t *testing.T, baseURL string) *keycloak.Adapter {
	t.Helper()
	return keycloak.New(keycloak.Config{
		BaseURL:      baseURL,
		Realm:        testRealm,
		ClientID:     "api",
		ClientSecret: "api-secret",
	})
}

// grantType reads the grant_type form field so the shared token endpoint
// can serve both user grants and the admin client_credentials grant.
func grantType(r *http.Request) string {
	_ = r.ParseForm()
	return r.PostFormValue("grant_type")
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func serveAdminToken(t *testing.T, w http.ResponseWriter) {
	writeJSON(t, w, http.StatusOK, map[string]any{
		"access_token": "admin-token",
		"token_type":   "Bearer",
		"expires_in":   300,
	})
}

func TestLogin(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, tokenPath, r.URL.Path)
			require.Equal(t, "password", grantType(r))
			require.Equal(t, "alice", r.PostFormValue("username"))
			require.Equal(t, "hunter2-hunter2", r.PostFormValue("password"))
			writeJSON(t, w, http.StatusOK, map[string]any{
				"access_token":  "at",
				"refresh_token": "rt",
				"id_token":      "idt",
				"token_type":    "Bearer",
				"expires_in":    300,
				"scope":         "openid profile",
			})
		}))
		defer srv.Close()

		set, err := newAdapter(t, srv.URL).Login(t.Context(), idp.LoginRequest{
			Username: "alice",
			Password: "hunter2-hunter2",
			ClientID: "api",
			Scope:    "openid profile",
		})
		require.NoError(t, err)
		require.Equal(t, "at", set.AccessToken)
		require.Equal(t, "rt", set.RefreshToken)
		require.Equal(t, "idt", set.IDToken)
		require.Equal(t, int64(300), set.ExpiresIn)
		require.Equal(t, "openid profile", set.Scope)
	})

	t.Run("invalid_grant means bad credentials", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, http.StatusUnauthorized, map[string]string{
				"error":             "invalid_grant",
				"error_description": "Invalid user credentials",
			})
		}))
		defer srv.Close()

		_, err := newAdapter(t, srv.URL).Login(t.Context(), idp.LoginRequest{
			Username: "alice", Password: "wrong", ClientID: "api",
		})
		require.ErrorIs(t, err, idp.ErrInvalidCredentials)
	})

	t.Run("invalid_client means client unauthorized", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, http.StatusUnauthorized, map[string]string{
				"error": "invalid_client",
			})
		}))
		defer srv.Close()

		_, err := newAdapter(t, srv.URL).Login(t.Context(), idp.LoginRequest{
			Username: "alice", Password: "hunter2-hunter2", ClientID: "bad",
		})
		require.ErrorIs(t, err, idp.ErrClientUnauthorized)
	})

	t.Run("unreachable server", func(t *testing.T) {
		_, err := newAdapter(t, "http://127.0.0.1:1").Login(t.Context(), idp.LoginRequest{
			Username: "alice", Password: "hunter2-hunter2", ClientID: "api",
		})
		require.ErrorIs(t, err, idp.ErrUnavailable)
	})
}

func TestRefresh_DeadTokenMapsToInvalidOrExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "refresh_token", grantType(r))
		writeJSON(t, w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Token is not active",
		})
	}))
	defer srv.Close()

	_, err := newAdapter(t, srv.URL).Refresh(t.Context(), idp.RefreshRequest{
		RefreshToken: "stale", ClientID: "api",
	})
	require.ErrorIs(t, err, idp.ErrInvalidOrExpiredToken)
}

func TestLogout_IgnoresRejectionsOfDeadTokens(t *testing.T) {
	var logoutCalls, revokeCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case logoutPath:
			logoutCalls.Add(1)
			writeJSON(t, w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		case revokePath:
			revokeCalls.Add(1)
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	err := newAdapter(t, srv.URL).Logout(t.Context(), idp.LogoutRequest{
		AccessToken:  "at",
		RefreshToken: "already-dead",
	})
	require.NoError(t, err)
	require.Equal(t, int32(1), logoutCalls.Load())
	require.Equal(t, int32(1), revokeCalls.Load())
}

func TestLogout_ServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	// A 5xx means the tokens were NOT invalidated; that must not look like
	// a successful logout.
	err := newAdapter(t, srv.URL).Logout(t.Context(), idp.LogoutRequest{
		AccessToken:  "at",
		RefreshToken: "rt",
	})
	require.ErrorIs(t, err, idp.ErrUnavailable)
}

func TestIntrospect(t *testing.T) {
	t.Run("inactive token is not an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, http.StatusOK, map[string]any{"active": false})
		}))
		defer srv.Close()

		intro, err := newAdapter(t, srv.URL).Introspect(t.Context(), "whatever")
		require.NoError(t, err)
		require.False(t, intro.Active)
	})

	t.Run("audience as string", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, http.StatusOK, map[string]any{
				"active": true, "aud": "api", "sub": "user-1", "exp": 1700000000,
			})
		}))
		defer srv.Close()

		intro, err := newAdapter(t, srv.URL).Introspect(t.Context(), "token")
		require.NoError(t, err)
		require.True(t, intro.Active)
		require.Equal(t, []string{"api"}, intro.Aud)
	})

	t.Run("audience as array", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, http.StatusOK, map[string]any{
				"active": true, "aud": []string{"api", "account"},
			})
		}))
		defer srv.Close()

		intro, err := newAdapter(t, srv.URL).Introspect(t.Context(), "token")
		require.NoError(t, err)
		require.Equal(t, []string{"api", "account"}, intro.Aud)
	})

	t.Run("endpoint auth failure is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		}))
		defer srv.Close()

		_, err := newAdapter(t, srv.URL).Introspect(t.Context(), "token")
		require.ErrorIs(t, err, idp.ErrClientUnauthorized)
	})
}

func TestUserInfo_RejectedTokenMapsToInvalidOrExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newAdapter(t, srv.URL).UserInfo(t.Context(), "expired")
	require.ErrorIs(t, err, idp.ErrInvalidOrExpiredToken)
}

func TestCreateUser(t *testing.T) {
	t.Run("success reads back created record", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == tokenPath:
				serveAdminToken(t, w)
			case r.Method == http.MethodPost && r.URL.Path == "/admin/realms/test/users":
				require.Equal(t, "Bearer admin-token", r.Header.Get("Authorization"))
				var rep map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&rep))
				require.Equal(t, "bob", rep["username"])
				require.Equal(t, true, rep["enabled"])
				w.Header().Set("Location", "/admin/realms/test/users/user-123")
				w.WriteHeader(http.StatusCreated)
			case r.Method == http.MethodGet && r.URL.Path == "/admin/realms/test/users/user-123":
				writeJSON(t, w, http.StatusOK, map[string]any{
					"id":               "user-123",
					"username":         "bob",
					"email":            "bob@example.com",
					"createdTimestamp": 1700000000000,
				})
			default:
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
		}))
		defer srv.Close()

		created, err := newAdapter(t, srv.URL).CreateUser(t.Context(), idp.CreateUserRequest{
			Username: "bob",
			Email:    "bob@example.com",
			Password: "hunter2-hunter2",
			Enabled:  true,
		})
		require.NoError(t, err)
		require.Equal(t, "user-123", created.ID)
		require.Equal(t, "bob", created.Username)
		require.Equal(t, int64(1700000000), created.CreatedAt.Unix())
	})

	t.Run("conflict maps to duplicate user", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == tokenPath {
				serveAdminToken(t, w)
				return
			}
			writeJSON(t, w, http.StatusConflict, map[string]string{
				"errorMessage": "User exists with same username",
			})
		}))
		defer srv.Close()

		_, err := newAdapter(t, srv.URL).CreateUser(t.Context(), idp.CreateUserRequest{
			Username: "bob", Email: "bob@example.com",
		})
		require.ErrorIs(t, err, idp.ErrDuplicateUser)
	})
}

func TestUpdateUser_MergesOnlySetFields(t *testing.T) {
	var updated map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		serveAdminToken(t, w)
	})
	mux.HandleFunc("/admin/realms/test/users/user-1", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(t, w, http.StatusOK, map[string]any{
				"id":            "user-1",
				"username":      "carol",
				"email":         "carol@example.com",
				"firstName":     "Carol",
				"lastName":      "Jones",
				"enabled":       true,
				"emailVerified": true,
				"attributes":    map[string][]string{"dept": {"eng"}},
			})
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&updated))
			w.WriteHeader(http.StatusNoContent)
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	res, err := newAdapter(t, server.URL).UpdateUser(t.Context(), idp.UpdateUserRequest{
		UserID:    "user-1",
		GivenName: idp.Some("Caroline"),
	})
	require.NoError(t, err)
	require.Equal(t, "user-1", res.ID)

	// updated field present, everything else written back unchanged
	require.Equal(t, "Caroline", updated["firstName"])
	require.Equal(t, "carol@example.com", updated["email"])
	require.Equal(t, "Jones", updated["lastName"])
	require.Equal(t, true, updated["enabled"])
	require.Equal(t, true, updated["emailVerified"])
}

func TestUpdateUser_SetButEmptyClearsAtTheWire(t *testing.T) {
	var updated map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		serveAdminToken(t, w)
	})
	mux.HandleFunc("/admin/realms/test/users/user-1", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(t, w, http.StatusOK, map[string]any{
				"id":         "user-1",
				"username":   "carol",
				"email":      "carol@example.com",
				"firstName":  "Carol",
				"lastName":   "Jones",
				"enabled":    true,
				"attributes": map[string][]string{"dept": {"eng"}},
			})
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&updated))
			w.WriteHeader(http.StatusNoContent)
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	_, err := newAdapter(t, server.URL).UpdateUser(t.Context(), idp.UpdateUserRequest{
		UserID:     "user-1",
		GivenName:  idp.Some(""),
		Attributes: idp.Some(map[string][]string{}),
	})
	require.NoError(t, err)

	// A deliberate clear must be written, not omitted from the payload.
	firstName, present := updated["firstName"]
	require.True(t, present)
	require.Equal(t, "", firstName)

	attrs, present := updated["attributes"]
	require.True(t, present)
	require.Empty(t, attrs)

	// Untouched fields still written back unchanged.
	require.Equal(t, "Jones", updated["lastName"])
	require.Equal(t, "carol@example.com", updated["email"])
}

func TestDeleteUser_MissSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == tokenPath {
			serveAdminToken(t, w)
			return
		}
		writeJSON(t, w, http.StatusNotFound, map[string]string{"errorMessage": "User not found"})
	}))
	defer srv.Close()

	err := newAdapter(t, srv.URL).DeleteUser(t.Context(), "ghost")
	require.ErrorIs(t, err, idp.ErrUserNotFound)
}

func TestChangePassword(t *testing.T) {
	t.Run("wrong old password", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == tokenPath && grantType(r) == "client_credentials":
				serveAdminToken(t, w)
			case r.URL.Path == tokenPath && grantType(r) == "password":
				writeJSON(t, w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant"})
			case r.Method == http.MethodGet:
				writeJSON(t, w, http.StatusOK, map[string]any{"id": "user-1", "username": "carol"})
			default:
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
		}))
		defer server.Close()

		err := newAdapter(t, server.URL).ChangePassword(t.Context(), idp.ChangePasswordRequest{
			UserID:      "user-1",
			OldPassword: "wrong",
			NewPassword: "new-password-123",
		})
		require.ErrorIs(t, err, idp.ErrInvalidOldPassword)
	})

	t.Run("policy rejection", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == tokenPath && grantType(r) == "client_credentials":
				serveAdminToken(t, w)
			case r.URL.Path == tokenPath && grantType(r) == "password":
				writeJSON(t, w, http.StatusOK, map[string]any{"access_token": "t", "token_type": "Bearer"})
			case r.Method == http.MethodGet:
				writeJSON(t, w, http.StatusOK, map[string]any{"id": "user-1", "username": "carol"})
			case r.Method == http.MethodPut:
				writeJSON(t, w, http.StatusBadRequest, map[string]string{
					"errorMessage": "Password policy not met",
				})
			}
		}))
		defer server.Close()

		err := newAdapter(t, server.URL).ChangePassword(t.Context(), idp.ChangePasswordRequest{
			UserID:      "user-1",
			OldPassword: "old-password-123",
			NewPassword: "short",
		})
		require.ErrorIs(t, err, idp.ErrPolicyViolation)
	})
}

func TestResetPassword_UnknownUserSucceedsWithoutEmail(t *testing.T) {
	var emailCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == tokenPath:
			serveAdminToken(t, w)
		case r.URL.Path == "/admin/realms/test/users":
			writeJSON(t, w, http.StatusOK, []any{})
		default:
			emailCalls.Add(1)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	require.NoError(t, newAdapter(t, server.URL).ResetPassword(t.Context(), "ghost"))
	require.Equal(t, int32(0), emailCalls.Load(), "no action email for unknown users")
}

func TestListSessions_OrdersNewestFirst(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == tokenPath {
			serveAdminToken(t, w)
			return
		}
		writeJSON(t, w, http.StatusOK, []map[string]any{
			{"id": "b", "userId": "user-1", "start": 1000, "lastAccess": 2000},
			{"id": "c", "userId": "user-1", "start": 3000, "lastAccess": 3000},
			{"id": "a", "userId": "user-1", "start": 1000, "lastAccess": 1500},
		})
	}))
	defer server.Close()

	sessions, err := newAdapter(t, server.URL).ListSessions(t.Context(), "user-1")
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	require.Equal(t, "c", sessions[0].ID, "newest first")
	require.Equal(t, "a", sessions[1].ID, "tie broken by id ascending")
	require.Equal(t, "b", sessions[2].ID)
}

func TestRevokeSession_UnknownSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == tokenPath {
			serveAdminToken(t, w)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	err := newAdapter(t, server.URL).RevokeSession(t.Context(), "gone")
	require.ErrorIs(t, err, idp.ErrSessionNotFound)
}

func TestCreateRoles_AllOrNothing(t *testing.T) {
	var creates atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == tokenPath:
			serveAdminToken(t, w)
		case r.Method == http.MethodGet && r.URL.Path == "/admin/realms/test/roles/fresh":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodGet && r.URL.Path == "/admin/realms/test/roles/taken":
			writeJSON(t, w, http.StatusOK, map[string]string{"id": "r1", "name": "taken"})
		case r.Method == http.MethodPost && r.URL.Path == "/admin/realms/test/roles":
			creates.Add(1)
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	_, err := newAdapter(t, server.URL).CreateRoles(t.Context(), idp.CreateRolesRequest{
		Names: []string{"fresh", "taken"},
	})
	require.ErrorIs(t, err, idp.ErrDuplicateRole)
	require.Equal(t, int32(0), creates.Load(), "nothing may be created when any name collides")
}

func TestAssignRoles(t *testing.T) {
	t.Run("missing names are skipped, known ones assigned", func(t *testing.T) {
		var assigned []map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == tokenPath:
				serveAdminToken(t, w)
			case r.URL.Path == "/admin/realms/test/roles/known":
				writeJSON(t, w, http.StatusOK, map[string]string{"id": "r1", "name": "known"})
			case r.URL.Path == "/admin/realms/test/roles/missing":
				w.WriteHeader(http.StatusNotFound)
			case r.Method == http.MethodPost && r.URL.Path == "/admin/realms/test/users/user-1/role-mappings/realm":
				require.NoError(t, json.NewDecoder(r.Body).Decode(&assigned))
				w.WriteHeader(http.StatusNoContent)
			default:
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
		}))
		defer server.Close()

		err := newAdapter(t, server.URL).AssignRoles(t.Context(), idp.AssignRolesRequest{
			UserID:    "user-1",
			RoleNames: []string{"known", "missing"},
		})
		require.NoError(t, err)
		require.Len(t, assigned, 1)
		require.Equal(t, "known", assigned[0]["name"])
	})

	t.Run("all names unknown", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == tokenPath {
				serveAdminToken(t, w)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		err := newAdapter(t, server.URL).AssignRoles(t.Context(), idp.AssignRolesRequest{
			UserID:    "user-1",
			RoleNames: []string{"ghost"},
		})
		require.ErrorIs(t, err, idp.ErrRoleNotFound)
	})
}

func TestCreateScope_Conflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == tokenPath {
			serveAdminToken(t, w)
			return
		}
		writeJSON(t, w, http.StatusConflict, map[string]string{
			"errorMessage": "Client Scope name already exists",
		})
	}))
	defer server.Close()

	_, err := newAdapter(t, server.URL).CreateScope(t.Context(), idp.CreateScopeRequest{Name: "audit"})
	require.ErrorIs(t, err, idp.ErrDuplicateScope)
}

func TestMFA(t *testing.T) {
	t.Run("challenge", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case tokenPath:
				serveAdminToken(t, w)
			case "/realms/test/mfa/challenge":
				var req map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				require.Equal(t, "dave", req["username"])
				writeJSON(t, w, http.StatusOK, map[string]any{
					"challengeId":    "ch-1",
					"deliveryMethod": "EMAIL",
					"destination":    "d***e@example.com",
					"expiresAt":      "2026-01-01T00:05:00Z",
				})
			default:
				t.Errorf("unexpected path %s", r.URL.Path)
			}
		}))
		defer server.Close()

		ch, err := newAdapter(t, server.URL).MFAChallenge(t.Context(), "dave")
		require.NoError(t, err)
		require.Equal(t, "ch-1", ch.ID)
		require.Equal(t, idp.DeliveryEmail, ch.Method)
		require.Equal(t, "d***e@example.com", ch.Destination)
	})

	t.Run("verify error codes", func(t *testing.T) {
		tests := []struct {
			code string
			want error
		}{
			{"challenge_not_found", idp.ErrChallengeNotFound},
			{"challenge_expired", idp.ErrChallengeExpired},
			{"invalid_code", idp.ErrInvalidCode},
			{"too_many_attempts", idp.ErrTooManyAttempts},
		}

		for _, tt := range tests {
			t.Run(tt.code, func(t *testing.T) {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					if r.URL.Path == tokenPath {
						serveAdminToken(t, w)
						return
					}
					writeJSON(t, w, http.StatusBadRequest, map[string]string{"error": tt.code})
				}))
				defer server.Close()

				err := newAdapter(t, server.URL).MFAVerify(t.Context(), idp.MFAVerifyRequest{
					ChallengeID: "ch-1",
					Code:        "123456",
				})
				require.ErrorIs(t, err, tt.want)
			})
		}
	})
}

func TestAdminToken_CachedAcrossCalls(t *testing.T) {
	var tokenFetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case tokenPath:
			require.Equal(t, "client_credentials", grantType(r))
			tokenFetches.Add(1)
			serveAdminToken(t, w)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	a := newAdapter(t, server.URL)
	require.NoError(t, a.DeleteUser(t.Context(), "u1"))
	require.NoError(t, a.DeleteUser(t.Context(), "u2"))
	require.NoError(t, a.RevokeSession(t.Context(), "s1"))
	require.Equal(t, int32(1), tokenFetches.Load(), "service-account token fetched once and cached")
}
