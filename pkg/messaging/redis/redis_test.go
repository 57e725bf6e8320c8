package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/account-security/pkg/messaging"
)

func newTestBroker(t *testing.T) (messaging.Broker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisBroker(client, nil), mr
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	broker, _ := newTestBroker(t)
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := broker.Subscribe(ctx, "audit.events")
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, "audit.events", map[string]string{"kind": "LOGOUT"}))

	select {
	case msg := <-msgs:
		assert.JSONEq(t, `{"kind":"LOGOUT"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestAdapterHandlerReceivesRawPayload(t *testing.T) {
	broker, _ := newTestBroker(t)
	adapter := messaging.NewBrokerAdapter(broker, nil)
	defer adapter.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan []byte, 1)
	require.NoError(t, adapter.Subscribe(ctx, "audit.events", func(b []byte) error {
		got <- b
		return nil
	}))

	require.NoError(t, adapter.Publish(ctx, "audit.events", []byte(`{"id":1}`)))

	select {
	case msg := <-got:
		assert.JSONEq(t, `{"id":1}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestPublishFailsWhenServerDown(t *testing.T) {
	broker, mr := newTestBroker(t)
	defer broker.Close()
	mr.Close()

	err := broker.Publish(context.Background(), "audit.events", "x")
	assert.Error(t, err)
}
