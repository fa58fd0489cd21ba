package idp

import (
	"context"
	"log/slog"
	"time"
)

// WithLogging wraps an adapter so that every operation emits one structured
// log event keyed by operation name and outcome. Attributes are limited to
// identifiers (usernames, user/session/challenge IDs) and timing — never
// passwords, codes or token material.
func WithLogging(next Adapter, logger *slog.Logger) Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggingAdapter{next: next, logger: logger}
}

type loggingAdapter struct {
	next   Adapter
	logger *slog.Logger
}

func (l *loggingAdapter) Name() string { return l.next.Name() }

// observe emits the per-operation event. Failures log at WARN with the
// normalized kind so dashboards can split business rejections from outages.
func (l *loggingAdapter) observe(ctx context.Context, op string, start time.Time, err error, attrs ...any) {
	attrs = append(attrs,
		slog.String("op", op),
		slog.String("provider", l.next.Name()),
		slog.Duration("duration", time.Since(start)),
	)
	if err != nil {
		attrs = append(attrs,
			slog.String("outcome", "failure"),
			slog.String("kind", string(KindOf(err))),
		)
		l.logger.WarnContext(ctx, "idp operation failed", attrs...)
		return
	}
	attrs = append(attrs, slog.String("outcome", "success"))
	l.logger.InfoContext(ctx, "idp operation", attrs...)
}

func (l *loggingAdapter) Login(ctx context.Context, req LoginRequest) (*TokenSet, error) {
	start := time.Now()
	ts, err := l.next.Login(ctx, req)
	l.observe(ctx, "login", start, err,
		slog.String("username", req.Username),
		slog.String("client_id", req.ClientID),
	)
	return ts, err
}

func (l *loggingAdapter) Refresh(ctx context.Context, req RefreshRequest) (*TokenSet, error) {
	start := time.Now()
	ts, err := l.next.Refresh(ctx, req)
	l.observe(ctx, "refresh", start, err, slog.String("client_id", req.ClientID))
	return ts, err
}

func (l *loggingAdapter) Logout(ctx context.Context, req LogoutRequest) error {
	start := time.Now()
	err := l.next.Logout(ctx, req)
	l.observe(ctx, "logout", start, err)
	return err
}

func (l *loggingAdapter) Introspect(ctx context.Context, accessToken string) (*Introspection, error) {
	start := time.Now()
	res, err := l.next.Introspect(ctx, accessToken)
	attrs := []any{}
	if err == nil {
		attrs = append(attrs, slog.Bool("active", res.Active))
	}
	l.observe(ctx, "introspect", start, err, attrs...)
	return res, err
}

func (l *loggingAdapter) UserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	start := time.Now()
	info, err := l.next.UserInfo(ctx, accessToken)
	l.observe(ctx, "userInfo", start, err)
	return info, err
}

func (l *loggingAdapter) CreateUser(ctx context.Context, req CreateUserRequest) (*CreatedUser, error) {
	start := time.Now()
	created, err := l.next.CreateUser(ctx, req)
	l.observe(ctx, "createUser", start, err, slog.String("username", req.Username))
	return created, err
}

func (l *loggingAdapter) UpdateUser(ctx context.Context, req UpdateUserRequest) (*UpdatedUser, error) {
	start := time.Now()
	updated, err := l.next.UpdateUser(ctx, req)
	l.observe(ctx, "updateUser", start, err, slog.String("user_id", req.UserID))
	return updated, err
}

func (l *loggingAdapter) DeleteUser(ctx context.Context, userID string) error {
	start := time.Now()
	err := l.next.DeleteUser(ctx, userID)
	l.observe(ctx, "deleteUser", start, err, slog.String("user_id", userID))
	return err
}

func (l *loggingAdapter) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	start := time.Now()
	err := l.next.ChangePassword(ctx, req)
	l.observe(ctx, "changePassword", start, err, slog.String("user_id", req.UserID))
	return err
}

func (l *loggingAdapter) ResetPassword(ctx context.Context, username string) error {
	start := time.Now()
	err := l.next.ResetPassword(ctx, username)
	l.observe(ctx, "resetPassword", start, err, slog.String("username", username))
	return err
}

func (l *loggingAdapter) MFAChallenge(ctx context.Context, username string) (*MFAChallenge, error) {
	start := time.Now()
	ch, err := l.next.MFAChallenge(ctx, username)
	attrs := []any{slog.String("username", username)}
	if err == nil {
		attrs = append(attrs,
			slog.String("challenge_id", ch.ID),
			slog.String("method", string(ch.Method)),
		)
	}
	l.observe(ctx, "mfaChallenge", start, err, attrs...)
	return ch, err
}

func (l *loggingAdapter) MFAVerify(ctx context.Context, req MFAVerifyRequest) error {
	start := time.Now()
	err := l.next.MFAVerify(ctx, req)
	l.observe(ctx, "mfaVerify", start, err,
		slog.String("challenge_id", req.ChallengeID),
		slog.String("user_id", req.UserID),
	)
	return err
}

func (l *loggingAdapter) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	start := time.Now()
	err := l.next.RevokeRefreshToken(ctx, refreshToken)
	l.observe(ctx, "revokeRefreshToken", start, err)
	return err
}

func (l *loggingAdapter) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	start := time.Now()
	sessions, err := l.next.ListSessions(ctx, userID)
	attrs := []any{slog.String("user_id", userID)}
	if err == nil {
		attrs = append(attrs, slog.Int("count", len(sessions)))
	}
	l.observe(ctx, "listSessions", start, err, attrs...)
	return sessions, err
}

func (l *loggingAdapter) RevokeSession(ctx context.Context, sessionID string) error {
	start := time.Now()
	err := l.next.RevokeSession(ctx, sessionID)
	l.observe(ctx, "revokeSession", start, err, slog.String("session_id", sessionID))
	return err
}

func (l *loggingAdapter) GetRoles(ctx context.Context, userID string) ([]string, error) {
	start := time.Now()
	roles, err := l.next.GetRoles(ctx, userID)
	l.observe(ctx, "getRoles", start, err, slog.String("user_id", userID))
	return roles, err
}

func (l *loggingAdapter) CreateRoles(ctx context.Context, req CreateRolesRequest) ([]string, error) {
	start := time.Now()
	created, err := l.next.CreateRoles(ctx, req)
	l.observe(ctx, "createRoles", start, err, slog.Int("requested", len(req.Names)))
	return created, err
}

func (l *loggingAdapter) CreateScope(ctx context.Context, req CreateScopeRequest) (*ScopeInfo, error) {
	start := time.Now()
	info, err := l.next.CreateScope(ctx, req)
	l.observe(ctx, "createScope", start, err, slog.String("scope", req.Name))
	return info, err
}

func (l *loggingAdapter) AssignRoles(ctx context.Context, req AssignRolesRequest) error {
	start := time.Now()
	err := l.next.AssignRoles(ctx, req)
	l.observe(ctx, "assignRoles", start, err,
		slog.String("user_id", req.UserID),
		slog.Int("roles", len(req.RoleNames)),
	)
	return err
}

func (l *loggingAdapter) RemoveRoles(ctx context.Context, req AssignRolesRequest) error {
	start := time.Now()
	err := l.next.RemoveRoles(ctx, req)
	l.observe(ctx, "removeRoles", start, err,
		slog.String("user_id", req.UserID),
		slog.Int("roles", len(req.RoleNames)),
	)
	return err
}
