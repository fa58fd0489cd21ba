/*
Package idp defines a provider-agnostic contract for identity provider (IdP)
backends such as Keycloak, Cognito or Okta.

# Overview

Callers — typically an authentication gateway or API layer — depend only on the
Adapter interface and the value types in this package. Each concrete provider
binding translates the operations into its backend's protocol and normalizes
the responses, so swapping providers never leaks into caller code:

	var adapter idp.Adapter = keycloak.New(keycloak.Config{
		BaseURL: "https://sso.example.com",
		Realm:   "master",
	})

	tokens, err := adapter.Login(ctx, idp.LoginRequest{
		Username: "alice",
		Password: password,
		ClientID: "gateway",
	})

# Statelessness

Adapters hold no caller state: sessions, tokens and MFA challenges live in the
provider, and every operation is an independent request/response exchange that
is safe to invoke concurrently. Cancellation and timeouts propagate through the
context; a timeout surfaces as ErrUnavailable, never a hang.

# Errors

Business failures are typed *Error values branchable with errors.Is:

	_, err := adapter.Login(ctx, req)
	switch {
	case errors.Is(err, idp.ErrInvalidCredentials):
		// wrong username/password
	case errors.Is(err, idp.ErrUnavailable):
		// transport failure, safe to retry upstream
	}

Transport failures are always reported distinctly (ErrUnavailable) so callers
can apply retry policy without misreading a business rejection. The adapter
itself never retries: retry policy belongs to the caller or a wrapping layer,
to avoid duplicated side effects on non-idempotent operations like CreateUser.

# Update semantics

UpdateUserRequest fields use Optional so that "not supplied" is distinct from
"supplied as empty". An unset field is never modified at the provider; a set
field — even set to the zero value — is a deliberate overwrite.

# Observability

WithLogging wraps any Adapter and emits one structured slog event per
operation, keyed by operation name and outcome. Credentials, codes and token
material never appear in log attributes.
*/
package idp
