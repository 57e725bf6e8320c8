package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/account-security/internal/model"
	"github.com/jwalitptl/account-security/internal/repository"
)

type auditRepository struct {
	BaseRepository
}

func NewAuditRepository(base BaseRepository) repository.AuditRepository {
	return &auditRepository{base}
}

type auditRow struct {
	ID         uuid.UUID `db:"id"`
	Kind       string    `db:"kind"`
	Label      string    `db:"label"`
	Actor      string    `db:"actor"`
	ActorID    *int64    `db:"actor_id"`
	Origin     string    `db:"origin"`
	Attributes []byte    `db:"attributes"`
	Severity   string    `db:"severity"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r *auditRepository) Create(ctx context.Context, event *model.AuditEvent) error {
	query := `
		INSERT INTO audit_events (
			id, kind, label, actor, actor_id, origin, attributes, severity, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	attrs := event.Attributes
	if attrs == nil {
		attrs = []model.Attr{}
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("failed to encode audit attributes: %w", err)
	}

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			event.ID,
			string(event.Kind),
			event.Label,
			event.Actor,
			event.ActorID,
			event.Origin,
			payload,
			string(event.Severity),
			event.Timestamp,
		)
		return err
	})
}

func (r *auditRepository) List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEvent, error) {
	var conditions []string
	var args []interface{}

	if filter.Actor != "" {
		args = append(args, filter.Actor)
		conditions = append(conditions, fmt.Sprintf("actor = $%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	if !filter.Start.IsZero() {
		args = append(args, filter.Start)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.End.IsZero() {
		args = append(args, filter.End)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	query := `SELECT * FROM audit_events WHERE 1=1`
	for _, condition := range conditions {
		query += " AND " + condition
	}

	page := filter.Pagination.Normalize(100, 1000)
	args = append(args, page.Limit, page.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var rows []auditRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}

	events := make([]*model.AuditEvent, 0, len(rows))
	for _, row := range rows {
		var attrs []model.Attr
		if len(row.Attributes) > 0 && !strings.EqualFold(string(row.Attributes), "null") {
			if err := json.Unmarshal(row.Attributes, &attrs); err != nil {
				return nil, fmt.Errorf("failed to decode audit attributes: %w", err)
			}
		}
		events = append(events, &model.AuditEvent{
			ID:         row.ID,
			Kind:       model.EventKind(row.Kind),
			Label:      row.Label,
			Actor:      row.Actor,
			ActorID:    row.ActorID,
			Origin:     row.Origin,
			Attributes: attrs,
			Severity:   model.Severity(row.Severity),
			Timestamp:  row.CreatedAt,
		})
	}
	return events, nil
}
