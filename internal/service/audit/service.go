package audit

import (
	"context"
	"strconv"

	"github.com/jwalitptl/account-security/internal/model"
	"github.com/jwalitptl/account-security/internal/repository"
)

func (l *AuditLogger) LoginSuccess(ctx context.Context, actor model.Actor) error {
	return l.Record(ctx, model.EventLoginSuccess, actor, nil, "")
}

func (l *AuditLogger) LoginFailed(ctx context.Context, actor model.Actor, reason string) error {
	return l.Record(ctx, model.EventLoginFailed, actor, []model.Attr{{Key: "reason", Value: reason}}, "")
}

func (l *AuditLogger) AccountLocked(ctx context.Context, actor model.Actor, lockout model.LockoutPolicy) error {
	return l.Record(ctx, model.EventAccountLocked, actor, []model.Attr{
		{Key: "max_attempts", Value: strconv.Itoa(lockout.MaxAttempts)},
		{Key: "lockout_minutes", Value: strconv.Itoa(lockout.DurationMinutes)},
	}, "")
}

func (l *AuditLogger) Logout(ctx context.Context, actor model.Actor) error {
	return l.Record(ctx, model.EventLogout, actor, nil, "")
}

func (l *AuditLogger) SessionExpired(ctx context.Context, actor model.Actor) error {
	return l.Record(ctx, model.EventSessionExpired, actor, nil, "")
}

func (l *AuditLogger) PasswordChanged(ctx context.Context, actor model.Actor) error {
	return l.Record(ctx, model.EventPasswordChanged, actor, nil, "")
}

func (l *AuditLogger) AccountCreated(ctx context.Context, actor model.Actor, role string) error {
	return l.Record(ctx, model.EventAccountCreated, actor, []model.Attr{{Key: "role", Value: role}}, "")
}

// PrivilegeChange is recorded against the account whose role changed.
func (l *AuditLogger) PrivilegeChange(ctx context.Context, actor model.Actor, oldRole, newRole, changedBy string) error {
	return l.Record(ctx, model.EventPrivilegeChange, actor, []model.Attr{
		{Key: "old_role", Value: oldRole},
		{Key: "new_role", Value: newRole},
		{Key: "changed_by", Value: changedBy},
	}, "")
}

// SecurityEvent records a caller-labelled event with caller-chosen severity.
func (l *AuditLogger) SecurityEvent(ctx context.Context, label string, actor model.Actor, severity model.Severity, attrs ...model.Attr) error {
	all := make([]model.Attr, 0, len(attrs)+1)
	all = append(all, model.Attr{Key: "type", Value: label})
	for _, a := range attrs {
		if a.Key == "type" {
			continue
		}
		all = append(all, a)
	}
	return l.Record(ctx, model.EventSecurity, actor, all, severity)
}

// Service reads back events persisted by the postgres sink or relay.
type Service struct {
	repo repository.AuditRepository
}

func NewService(repo repository.AuditRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEvent, error) {
	filter.Pagination = filter.Pagination.Normalize(50, 500)
	return s.repo.List(ctx, filter)
}

// Store appends an event that was already emitted elsewhere.
func (s *Service) Store(ctx context.Context, event *model.AuditEvent) error {
	return s.repo.Create(ctx, event)
}
