// Package worker mirrors ledger events from the broker into the ledger sheet.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"membership/internal/amqp"
	"membership/internal/core"
	"membership/internal/log"
	"membership/internal/sheets"
)

// Consumer delivers broker messages to a handler until ctx is done.
type Consumer interface {
	ConsumeLedgerEvents(ctx context.Context, handler amqp.Handler) error
}

type MirrorWorker struct {
	consumer Consumer
	writer   sheets.LedgerWriter
	logger   *log.Logger

	mirrored atomic.Int64
	failed   atomic.Int64
}

func NewMirrorWorker(consumer Consumer, writer sheets.LedgerWriter, logger *log.Logger) *MirrorWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &MirrorWorker{
		consumer: consumer,
		writer:   writer,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// Run blocks until ctx is cancelled.
func (w *MirrorWorker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Mirror worker consuming ledger events")
	err := w.consumer.ConsumeLedgerEvents(ctx, w.HandleEvent)
	w.logger.InfoContext(ctx, "Mirror worker stopped",
		"mirrored", w.mirrored.Load(),
		"failed", w.failed.Load())
	return err
}

// HandleEvent writes one event to the sheet. The writer dedupes on event id,
// so redelivered messages are safe.
func (w *MirrorWorker) HandleEvent(ctx context.Context, ev core.LedgerEvent) error {
	ref, err := w.writer.AppendEvent(ctx, ev)
	if err != nil {
		w.failed.Add(1)
		w.logger.ErrorContext(ctx, "Failed to mirror ledger event",
			log.FieldEventID, ev.ID,
			log.FieldEventType, ev.Type,
			log.FieldMemberID, ev.MemberID,
			log.FieldError, err)
		return fmt.Errorf("mirror event %s: %w", ev.ID, err)
	}
	w.mirrored.Add(1)
	w.logger.InfoContext(ctx, "Ledger event mirrored",
		log.FieldEventID, ev.ID,
		log.FieldEventType, ev.Type,
		log.FieldSheetRange, ref)
	return nil
}

// Counts returns how many events were mirrored and how many failed.
func (w *MirrorWorker) Counts() (mirrored, failed int64) {
	return w.mirrored.Load(), w.failed.Load()
}
