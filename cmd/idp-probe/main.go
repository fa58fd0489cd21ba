// idp-probe is a small operator CLI for poking an identity provider through
// the adapter contract. It is the quickest way to check that a realm or a
// local database is wired correctly: log in, introspect the token, list
// sessions, fire an MFA challenge.
//
// Configuration comes from the environment (a .env file is honored):
//
//	IDP_PROVIDER             keycloak | local (default keycloak)
//	IDP_BASE_URL             Keycloak root URL
//	IDP_REALM                Keycloak realm
//	IDP_CLIENT_ID            OAuth2 client
//	IDP_CLIENT_SECRET        OAuth2 client secret
//	IDP_ADMIN_CLIENT_ID      service-account client for Admin REST (optional)
//	IDP_ADMIN_CLIENT_SECRET  its secret
//	IDP_LOCAL_DSN            sqlite DSN for the local provider
//	IDP_LOCAL_ISSUER         issuer for locally minted tokens
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/idp/pkg/idp"
	"github.com/aussiebroadwan/idp/pkg/idp/keycloak"
	"github.com/aussiebroadwan/idp/pkg/idp/local"
	"github.com/aussiebroadwan/idp/pkg/slogx"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newAdapter() (idp.Adapter, error) {
	provider := envOr("IDP_PROVIDER", "keycloak")

	var (
		adapter idp.Adapter
		err     error
	)
	switch provider {
	case "keycloak":
		adapter = keycloak.New(keycloak.Config{
			BaseURL:           envOr("IDP_BASE_URL", "http://localhost:8080"),
			Realm:             envOr("IDP_REALM", "master"),
			ClientID:          os.Getenv("IDP_CLIENT_ID"),
			ClientSecret:      os.Getenv("IDP_CLIENT_SECRET"),
			AdminClientID:     os.Getenv("IDP_ADMIN_CLIENT_ID"),
			AdminClientSecret: os.Getenv("IDP_ADMIN_CLIENT_SECRET"),
		})
	case "local":
		adapter, err = local.New(local.Config{
			Issuer: envOr("IDP_LOCAL_ISSUER", "http://localhost"),
			DSN:    envOr("IDP_LOCAL_DSN", "file:idp.db"),
			Clients: []local.Client{{
				ID:     os.Getenv("IDP_CLIENT_ID"),
				Secret: os.Getenv("IDP_CLIENT_SECRET"),
			}},
			SendCode: func(_ context.Context, method idp.DeliveryMethod, dest, code string) error {
				fmt.Fprintf(os.Stderr, "deliver %s code to %s: %s\n", method, dest, code)
				return nil
			},
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
	if err != nil {
		return nil, err
	}

	logger := slogx.New(slogx.Config{
		Service: "idp-probe",
		Level:   envOr("LOG_LEVEL", "warn"),
		Format:  envOr("LOG_FORMAT", "text"),
	})
	return idp.WithLogging(adapter, logger), nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	_ = godotenv.Load(".env")

	var adapter idp.Adapter

	root := &cobra.Command{
		Use:          "idp-probe",
		Short:        "Exercise an identity provider through the adapter contract",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			adapter, err = newAdapter()
			return err
		},
	}

	timeout := 30 * time.Second
	root.PersistentFlags().DurationVar(&timeout, "timeout", timeout, "per-operation timeout")

	withCtx := func(fn func(ctx context.Context) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return fn(ctx)
		}
	}

	var loginUser, loginPass, loginScope string
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print the token set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCtx(func(ctx context.Context) error {
				set, err := adapter.Login(ctx, idp.LoginRequest{
					Username:     loginUser,
					Password:     loginPass,
					ClientID:     os.Getenv("IDP_CLIENT_ID"),
					ClientSecret: os.Getenv("IDP_CLIENT_SECRET"),
					Scope:        loginScope,
				})
				if err != nil {
					return err
				}
				return printJSON(set)
			})(cmd, args)
		},
	}
	loginCmd.Flags().StringVarP(&loginUser, "username", "u", "", "username")
	loginCmd.Flags().StringVarP(&loginPass, "password", "p", "", "password")
	loginCmd.Flags().StringVar(&loginScope, "scope", "openid profile", "requested scope")
	_ = loginCmd.MarkFlagRequired("username")
	_ = loginCmd.MarkFlagRequired("password")

	introspectCmd := &cobra.Command{
		Use:   "introspect <access-token>",
		Short: "Report a token's current validity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCtx(func(ctx context.Context) error {
				intro, err := adapter.Introspect(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(intro)
			})(cmd, args)
		},
	}

	userinfoCmd := &cobra.Command{
		Use:   "userinfo <access-token>",
		Short: "Print the OIDC claims for a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCtx(func(ctx context.Context) error {
				info, err := adapter.UserInfo(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(info)
			})(cmd, args)
		},
	}

	var cuUsername, cuEmail, cuPassword, cuGiven, cuFamily string
	createUserCmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCtx(func(ctx context.Context) error {
				created, err := adapter.CreateUser(ctx, idp.CreateUserRequest{
					Username:   cuUsername,
					Email:      cuEmail,
					Password:   cuPassword,
					GivenName:  cuGiven,
					FamilyName: cuFamily,
					Enabled:    true,
				})
				if err != nil {
					return err
				}
				return printJSON(created)
			})(cmd, args)
		},
	}
	createUserCmd.Flags().StringVar(&cuUsername, "username", "", "username")
	createUserCmd.Flags().StringVar(&cuEmail, "email", "", "email address")
	createUserCmd.Flags().StringVar(&cuPassword, "password", "", "initial password")
	createUserCmd.Flags().StringVar(&cuGiven, "given-name", "", "given name")
	createUserCmd.Flags().StringVar(&cuFamily, "family-name", "", "family name")
	_ = createUserCmd.MarkFlagRequired("username")
	_ = createUserCmd.MarkFlagRequired("email")

	sessionsCmd := &cobra.Command{
		Use:   "sessions <user-id>",
		Short: "List a user's active sessions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCtx(func(ctx context.Context) error {
				sessions, err := adapter.ListSessions(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(sessions)
			})(cmd, args)
		},
	}

	revokeSessionCmd := &cobra.Command{
		Use:   "revoke-session <session-id>",
		Short: "Revoke a session and its tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCtx(func(ctx context.Context) error {
				if err := adapter.RevokeSession(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked")
				return nil
			})(cmd, args)
		},
	}

	mfaChallengeCmd := &cobra.Command{
		Use:   "mfa-challenge <username>",
		Short: "Issue an MFA challenge for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCtx(func(ctx context.Context) error {
				ch, err := adapter.MFAChallenge(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(ch)
			})(cmd, args)
		},
	}

	mfaVerifyCmd := &cobra.Command{
		Use:   "mfa-verify <challenge-id> <code>",
		Short: "Verify a pending MFA challenge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCtx(func(ctx context.Context) error {
				if err := adapter.MFAVerify(ctx, idp.MFAVerifyRequest{
					ChallengeID: args[0],
					Code:        args[1],
				}); err != nil {
					return err
				}
				fmt.Println("verified")
				return nil
			})(cmd, args)
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset-password <username>",
		Short: "Trigger the provider's password reset flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCtx(func(ctx context.Context) error {
				if err := adapter.ResetPassword(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("reset requested")
				return nil
			})(cmd, args)
		},
	}

	rolesCmd := &cobra.Command{
		Use:   "roles <user-id>",
		Short: "List the roles held by a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCtx(func(ctx context.Context) error {
				roles, err := adapter.GetRoles(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(roles)
			})(cmd, args)
		},
	}

	root.AddCommand(
		loginCmd,
		introspectCmd,
		userinfoCmd,
		createUserCmd,
		sessionsCmd,
		revokeSessionCmd,
		mfaChallengeCmd,
		mfaVerifyCmd,
		resetCmd,
		rolesCmd,
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
