package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/account-security/internal/model"
	"github.com/jwalitptl/account-security/internal/repository"
	"github.com/jwalitptl/account-security/pkg/logger"
	"github.com/jwalitptl/account-security/pkg/messaging"
	"github.com/jwalitptl/account-security/pkg/metrics"
)

var errInvalidEvent = errors.New("invalid audit event")

type AuditRelayConfig struct {
	Channel       string
	RetryAttempts int
	RetryDelay    time.Duration
}

// AuditRelay copies audit events published by the broker sink into the
// audit repository. Events are stored in the order they arrive.
type AuditRelay struct {
	broker  messaging.MessageBroker
	repo    repository.AuditRepository
	config  AuditRelayConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewAuditRelay(
	broker messaging.MessageBroker,
	repo repository.AuditRepository,
	config AuditRelayConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *AuditRelay {
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &AuditRelay{
		broker:  broker,
		repo:    repo,
		config:  config,
		logger:  log.WithFields(map[string]interface{}{"channel": config.Channel}),
		metrics: m,
	}
}

// Start subscribes and returns; messages are handled until ctx is done.
func (r *AuditRelay) Start(ctx context.Context) error {
	if err := r.broker.Subscribe(ctx, r.config.Channel, func(payload []byte) error {
		return r.handle(ctx, payload)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to audit channel: %w", err)
	}
	r.logger.Info("Audit relay started")
	return nil
}

func (r *AuditRelay) handle(ctx context.Context, payload []byte) error {
	event, err := decodeEvent(payload)
	if err != nil {
		r.metrics.AuditRelayed.WithLabelValues("invalid").Inc()
		return err
	}

	var storeErr error
	for attempt := 0; attempt < r.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * r.config.RetryDelay):
			}
			r.logger.Warn("Retrying audit event", "event_id", event.ID.String(), "attempt", attempt+1)
		}

		if storeErr = r.repo.Create(ctx, event); storeErr == nil {
			r.metrics.AuditRelayed.WithLabelValues("stored").Inc()
			return nil
		}
	}

	r.metrics.AuditRelayed.WithLabelValues("failed").Inc()
	return fmt.Errorf("failed to store audit event %s after %d attempts: %w", event.ID, r.config.RetryAttempts, storeErr)
}

func decodeEvent(payload []byte) (*model.AuditEvent, error) {
	var event model.AuditEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidEvent, err)
	}
	switch {
	case event.ID == uuid.Nil:
		return nil, fmt.Errorf("%w: missing id", errInvalidEvent)
	case !event.Kind.Valid():
		return nil, fmt.Errorf("%w: unknown kind %q", errInvalidEvent, event.Kind)
	case event.Timestamp.IsZero():
		return nil, fmt.Errorf("%w: missing timestamp", errInvalidEvent)
	}
	if _, err := model.ParseSeverity(string(event.Severity)); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidEvent, err)
	}
	return &event, nil
}
