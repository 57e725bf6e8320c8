package memory

import (
	"context"
	"sync"

	"github.com/jwalitptl/account-security/internal/model"
	"github.com/jwalitptl/account-security/internal/repository"
)

type auditRepository struct {
	mu     sync.RWMutex
	events []model.AuditEvent
}

func NewAuditRepository() repository.AuditRepository {
	return &auditRepository{}
}

func (r *auditRepository) Create(ctx context.Context, event *model.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := *event
	e.Attributes = append([]model.Attr(nil), event.Attributes...)
	r.events = append(r.events, e)
	return nil
}

// List returns matching events newest first.
func (r *auditRepository) List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	page := filter.Pagination.Normalize(100, 1000)
	var out []*model.AuditEvent
	skipped := 0
	for i := len(r.events) - 1; i >= 0 && len(out) < page.Limit; i-- {
		e := r.events[i]
		if filter.Actor != "" && e.Actor != filter.Actor {
			continue
		}
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if !filter.Start.IsZero() && e.Timestamp.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && e.Timestamp.After(filter.End) {
			continue
		}
		if skipped < page.Offset {
			skipped++
			continue
		}
		out = append(out, &e)
	}
	return out, nil
}
