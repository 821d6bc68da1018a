// Package adapters joins the broker and the local outbox behind the single
// Publish call the member service uses.
package adapters

import (
	"context"
	"errors"
	"fmt"

	"membership/internal/core"
	"membership/internal/log"
)

// Broker publishes ledger events to the message bus.
type Broker interface {
	PublishLedgerEvent(ctx context.Context, ev core.LedgerEvent) error
}

// Outbox keeps ledger events until they can be published.
type Outbox interface {
	EnqueueEvent(ctx context.Context, ev core.LedgerEvent) error
}

// OutboxPublisher publishes straight to the broker and falls back to the
// outbox when the broker is missing or failing. An event is lost only when
// both paths fail.
type OutboxPublisher struct {
	broker Broker
	outbox Outbox
	logger *log.Logger
}

func NewOutboxPublisher(broker Broker, outbox Outbox, logger *log.Logger) *OutboxPublisher {
	if logger == nil {
		logger = log.Discard()
	}
	return &OutboxPublisher{
		broker: broker,
		outbox: outbox,
		logger: logger.WithComponent(log.ComponentOutbox),
	}
}

func (p *OutboxPublisher) Publish(ctx context.Context, ev core.LedgerEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	var brokerErr error
	if p.broker != nil {
		brokerErr = p.broker.PublishLedgerEvent(ctx, ev)
		if brokerErr == nil {
			return nil
		}
		p.logger.WarnContext(ctx, "Broker publish failed, parking event in outbox",
			log.FieldEventID, ev.ID,
			log.FieldEventType, ev.Type,
			log.FieldError, brokerErr)
	}

	if p.outbox == nil {
		if brokerErr == nil {
			brokerErr = errors.New("no broker or outbox configured")
		}
		return fmt.Errorf("publish %s: %w", ev.ID, brokerErr)
	}

	// The request may already be cancelled; the outbox write must still land.
	if err := p.outbox.EnqueueEvent(context.WithoutCancel(ctx), ev); err != nil {
		return errors.Join(brokerErr, fmt.Errorf("enqueue %s: %w", ev.ID, err))
	}
	p.logger.DebugContext(ctx, "Event parked in outbox", log.FieldEventID, ev.ID)
	return nil
}
