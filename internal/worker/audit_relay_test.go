package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/account-security/internal/model"
	"github.com/jwalitptl/account-security/internal/repository"
	"github.com/jwalitptl/account-security/internal/repository/memory"
	"github.com/jwalitptl/account-security/pkg/metrics"
)

type fakeBroker struct {
	handler func([]byte) error
}

func (b *fakeBroker) Publish(context.Context, string, []byte) error { return nil }
func (b *fakeBroker) Close() error                                  { return nil }

func (b *fakeBroker) Subscribe(_ context.Context, _ string, handler func([]byte) error) error {
	b.handler = handler
	return nil
}

type flakyRepo struct {
	repository.AuditRepository
	failures int
	calls    int
}

func (r *flakyRepo) Create(ctx context.Context, event *model.AuditEvent) error {
	r.calls++
	if r.calls <= r.failures {
		return errors.New("connection reset")
	}
	return r.AuditRepository.Create(ctx, event)
}

func testEvent(t *testing.T) []byte {
	t.Helper()
	id := int64(7)
	payload, err := json.Marshal(&model.AuditEvent{
		ID:         uuid.New(),
		Kind:       model.EventLoginFailed,
		Actor:      "alice",
		ActorID:    &id,
		Origin:     "10.0.0.1",
		Attributes: []model.Attr{{Key: "reason", Value: "bad_password"}},
		Severity:   model.SeverityWarning,
		Timestamp:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return payload
}

func newRelay(t *testing.T, repo repository.AuditRepository) (*AuditRelay, *fakeBroker, *metrics.Metrics) {
	t.Helper()
	broker := &fakeBroker{}
	m := metrics.NewNop()
	relay := NewAuditRelay(broker, repo, AuditRelayConfig{
		Channel:       "audit.events",
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}, nil, m)
	require.NoError(t, relay.Start(context.Background()))
	require.NotNil(t, broker.handler)
	return relay, broker, m
}

func TestRelayStoresEvents(t *testing.T) {
	repo := memory.NewAuditRepository()
	_, broker, m := newRelay(t, repo)

	require.NoError(t, broker.handler(testEvent(t)))

	events, err := repo.List(context.Background(), model.AuditFilter{Actor: "alice"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventLoginFailed, events[0].Kind)
	assert.Equal(t, []model.Attr{{Key: "reason", Value: "bad_password"}}, events[0].Attributes)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AuditRelayed.WithLabelValues("stored")))
}

func TestRelayRetriesStore(t *testing.T) {
	repo := &flakyRepo{AuditRepository: memory.NewAuditRepository(), failures: 2}
	_, broker, _ := newRelay(t, repo)

	require.NoError(t, broker.handler(testEvent(t)))
	assert.Equal(t, 3, repo.calls)
}

func TestRelayGivesUpAfterRetries(t *testing.T) {
	repo := &flakyRepo{AuditRepository: memory.NewAuditRepository(), failures: 10}
	_, broker, m := newRelay(t, repo)

	err := broker.handler(testEvent(t))
	require.Error(t, err)
	assert.Equal(t, 3, repo.calls)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AuditRelayed.WithLabelValues("failed")))
}

func TestRelayRejectsInvalidEvents(t *testing.T) {
	repo := memory.NewAuditRepository()
	_, broker, m := newRelay(t, repo)

	for _, payload := range []string{
		`not json`,
		`{"kind":"LOGIN_SUCCESS","severity":"INFO","timestamp":"2024-03-01T12:00:00Z"}`,
		`{"id":"` + uuid.NewString() + `","kind":"PASSWORD_LEAKED","severity":"INFO","timestamp":"2024-03-01T12:00:00Z"}`,
		`{"id":"` + uuid.NewString() + `","kind":"LOGOUT","severity":"LOUD","timestamp":"2024-03-01T12:00:00Z"}`,
	} {
		err := broker.handler([]byte(payload))
		assert.ErrorIs(t, err, errInvalidEvent, payload)
	}

	events, err := repo.List(context.Background(), model.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, float64(4), testutil.ToFloat64(m.AuditRelayed.WithLabelValues("invalid")))
}
