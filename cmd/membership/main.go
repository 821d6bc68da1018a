package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"membership/internal/backend"
	"membership/internal/cli"
	apphttp "membership/internal/http"
	"membership/internal/log"
	"membership/internal/members"
	"membership/internal/session"
)

func main() {
	cfg, logger := cli.MustLoad()

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("Invalid timezone", log.FieldError, err, "timezone", cfg.Timezone)
		os.Exit(1)
	}

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}

	ctx, cancel := cli.WithShutdownSignals(logger)
	defer cancel()

	stack, err := backend.NewFactory(logger).Server(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err)
		os.Exit(1)
	}
	defer func() {
		if err := stack.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()

	svc := members.New(stack.Remote, stack.Publisher, members.Config{
		PageLimit:  cfg.PageLimit,
		SearchMode: cfg.SearchMode,
		Location:   loc,
		CacheSize:  cfg.CacheSize,
		CacheTTL:   cfg.CacheTTL,
	}, logger)
	svc.StartCacheCleanup(5 * time.Minute)
	defer svc.Close()

	if stack.Outbox != nil {
		if err := stack.Outbox.Start(ctx); err != nil {
			logger.Error("Failed to start outbox processor", log.FieldError, err)
			os.Exit(1)
		}
	}

	srv := apphttp.NewServer(apphttp.Options{
		Addr:               ":" + cfg.Port,
		Members:            svc,
		Gate:               session.NewGate(stack.Sessions, nil),
		Logger:             logger,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Ready:              stack.Ready,
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting membership server",
			"port", cfg.Port,
			"api", cfg.APIBaseURL,
			"session_backend", cfg.SessionBackend,
			"search_mode", cfg.SearchMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", log.FieldError, err)
	}
	if stack.Outbox != nil {
		if err := stack.Outbox.Stop(shutdownCtx); err != nil {
			logger.Error("Outbox processor shutdown error", log.FieldError, err)
		}
	}
	logger.Info("Server stopped gracefully")
}
