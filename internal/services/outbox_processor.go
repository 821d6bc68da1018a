// Package services holds the background loops of the membership service.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"membership/internal/core"
	"membership/internal/log"
	"membership/internal/storage"
)

// OutboxStore is the part of the SQLite repository the processor drains.
type OutboxStore interface {
	PendingEvents(ctx context.Context, limit int) ([]storage.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error, maxAttempts int) error
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// Broker publishes ledger events to the message bus.
type Broker interface {
	PublishLedgerEvent(ctx context.Context, ev core.LedgerEvent) error
}

type OutboxProcessorConfig struct {
	// PollInterval is how often pending events are retried (default: 10s)
	PollInterval time.Duration

	// BatchSize is the max number of events published per poll (default: 20)
	BatchSize int

	// MaxRetries is the number of failed attempts after which an event is
	// marked failed and left alone (default: 5)
	MaxRetries int
}

func DefaultOutboxProcessorConfig() OutboxProcessorConfig {
	return OutboxProcessorConfig{
		PollInterval: 10 * time.Second,
		BatchSize:    20,
		MaxRetries:   5,
	}
}

// OutboxProcessor republishes events parked in the outbox while the broker
// was unreachable.
type OutboxProcessor struct {
	store  OutboxStore
	broker Broker
	config OutboxProcessorConfig
	logger *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewOutboxProcessor(store OutboxStore, broker Broker, config OutboxProcessorConfig, logger *log.Logger) *OutboxProcessor {
	def := DefaultOutboxProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &OutboxProcessor{
		store:  store,
		broker: broker,
		config: config,
		logger: logger.WithComponent(log.ComponentOutbox),
	}
}

// Start begins the polling loop. Returns an error if already running.
func (p *OutboxProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("outbox processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.runLoop(ctx, p.stopCh, p.doneCh)

	p.logger.InfoContext(ctx, "Outbox processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)
	return nil
}

// Stop signals the loop and waits for the batch in flight.
func (p *OutboxProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		p.logger.InfoContext(ctx, "Outbox processor stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Outbox processor stop timed out")
		return ctx.Err()
	}
}

func (p *OutboxProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *OutboxProcessor) runLoop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.ProcessBatch(ctx)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch publishes one batch of pending events and returns how many
// made it to the broker.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) int {
	events, err := p.store.PendingEvents(ctx, p.config.BatchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to read pending events", log.FieldError, err)
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	p.logger.DebugContext(ctx, "Processing outbox batch", "count", len(events))

	published := 0
	for _, item := range events {
		if ctx.Err() != nil {
			return published
		}

		if err := p.broker.PublishLedgerEvent(ctx, item.Event); err != nil {
			p.handleFailure(ctx, item, err)
			continue
		}
		if err := p.store.MarkPublished(ctx, item.Event.ID); err != nil {
			// Consumers dedupe on event id, so a second publish is harmless.
			p.logger.ErrorContext(ctx, "Failed to mark event published",
				log.FieldEventID, item.Event.ID, log.FieldError, err)
			continue
		}
		published++
	}
	return published
}

func (p *OutboxProcessor) handleFailure(ctx context.Context, item storage.OutboxEvent, cause error) {
	attempt := item.Attempts + 1
	p.logger.WarnContext(ctx, "Outbox publish failed",
		log.FieldEventID, item.Event.ID,
		log.FieldAttempt, attempt,
		log.FieldError, cause)

	if err := p.store.MarkFailed(ctx, item.Event.ID, cause, p.config.MaxRetries); err != nil {
		p.logger.ErrorContext(ctx, "Failed to record outbox failure",
			log.FieldEventID, item.Event.ID, log.FieldError, err)
		return
	}
	if attempt >= p.config.MaxRetries {
		p.logger.ErrorContext(ctx, "Outbox event failed permanently after max retries",
			log.FieldEventID, item.Event.ID,
			log.FieldEventType, item.Event.Type,
			"attempts", attempt)
	}
}

// Stats returns the outbox size per status.
func (p *OutboxProcessor) Stats(ctx context.Context) (map[string]int, error) {
	return p.store.CountByStatus(ctx)
}
