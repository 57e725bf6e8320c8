package messaging

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
)

type BrokerAdapter struct {
	broker Broker
	logger *zerolog.Logger
}

func NewBrokerAdapter(broker Broker, logger *zerolog.Logger) MessageBroker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &BrokerAdapter{broker: broker, logger: logger}
}

// Publish sends payload unchanged; it must already be JSON.
func (a *BrokerAdapter) Publish(ctx context.Context, topic string, payload []byte) error {
	return a.broker.Publish(ctx, topic, json.RawMessage(payload))
}

func (a *BrokerAdapter) Close() error {
	return a.broker.Close()
}

// Subscribe calls handler for every message until ctx is done. A failing
// handler is logged and the next message is processed.
func (a *BrokerAdapter) Subscribe(ctx context.Context, topic string, handler func([]byte) error) error {
	msgChan, err := a.broker.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range msgChan {
			if err := handler(msg); err != nil {
				a.logger.Error().Err(err).Str("topic", topic).Msg("message handler failed")
			}
		}
	}()

	return nil
}
