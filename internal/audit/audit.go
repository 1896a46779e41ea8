package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/khanghh/kgate/internal/dispatch"
	"github.com/khanghh/kgate/model"
)

const (
	AreaAuth    = "auth"
	AreaAuthz   = "authz"
	AreaAdmin   = "admin"
	AreaWebhook = "webhook"
)

const (
	ActionLoginSuccess        = "login_success"
	ActionLoginFailure        = "login_failure"
	ActionLoginLocked         = "login_locked"
	ActionMFARequired         = "mfa_required"
	ActionMFAFailure          = "mfa_failure"
	ActionBackupCodeUsed      = "backup_code_used"
	ActionEnrollmentRequired  = "enrollment_required"
	ActionEnrollmentStarted   = "enrollment_started"
	ActionEnrollmentCompleted = "enrollment_completed"
	ActionLogout              = "logout"
	ActionAccessDenied        = "access_denied"
	ActionTenantMismatch      = "tenant_mismatch"
	ActionUnlock              = "unlock"
	ActionPrincipalDisabled   = "principal_disabled"
	ActionRateLimited         = "rate_limited"
	ActionPrincipalCreated    = "principal_created"
	ActionGrantAdded          = "grant_added"
	ActionGrantRevoked        = "grant_revoked"
)

type Event struct {
	Actor     string
	Area      string
	Action    string
	Reason    string
	IP        string
	UserAgent string
	Details   map[string]any
	CreatedAt time.Time
}

type Dispatcher interface {
	Go(name string, task dispatch.Task) bool
}

// Logger records audit events in the background. Details are redacted before
// they leave the caller's goroutine.
type Logger struct {
	sink       Sink
	dispatcher Dispatcher
}

// Record never blocks and never fails the caller. Sink errors are logged.
func (l *Logger) Record(ctx context.Context, event Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	record := &model.AuditEvent{
		Actor:     event.Actor,
		Area:      event.Area,
		Action:    event.Action,
		Reason:    event.Reason,
		Details:   Sanitize(event.Details),
		IP:        event.IP,
		UserAgent: event.UserAgent,
		CreatedAt: event.CreatedAt,
	}
	l.dispatcher.Go("audit", func(ctx context.Context) error {
		if err := l.sink.Write(ctx, record); err != nil {
			slog.Error("Could not write audit event", "action", record.Action, "actor", record.Actor, "error", err)
		}
		return nil
	})
}

func NewLogger(sink Sink, dispatcher Dispatcher) *Logger {
	return &Logger{
		sink:       sink,
		dispatcher: dispatcher,
	}
}
