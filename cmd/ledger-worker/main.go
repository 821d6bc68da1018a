package main

import (
	"context"
	"errors"
	"os"

	"membership/internal/backend"
	"membership/internal/cli"
	"membership/internal/log"
	"membership/internal/worker"
)

func main() {
	cfg, logger := cli.MustLoad()
	logger.Info("Starting ledger-worker", "ledger_backend", cfg.LedgerBackend)

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}

	ctx, cancel := cli.WithShutdownSignals(logger)
	defer cancel()

	factory := backend.NewFactory(logger)
	writer, err := factory.LedgerWriter(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize ledger writer", log.FieldError, err)
		os.Exit(1)
	}

	consumer, err := factory.Consumer(bcfg)
	if err != nil {
		logger.Error("Failed to initialize AMQP consumer", log.FieldError, err)
		os.Exit(1)
	}
	defer consumer.Close()

	w := worker.NewMirrorWorker(consumer, writer, logger)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Ledger worker stopped with error", log.FieldError, err)
		os.Exit(1)
	}

	mirrored, failed := w.Counts()
	logger.Info("Ledger worker stopped", "mirrored", mirrored, "failed", failed)
}
