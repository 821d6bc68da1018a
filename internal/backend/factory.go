package backend

import (
	"context"
	"errors"
	"fmt"

	"membership/internal/adapters"
	"membership/internal/amqp"
	"membership/internal/log"
	"membership/internal/remote"
	"membership/internal/services"
	"membership/internal/session"
	"membership/internal/sheets"
	gsheet "membership/internal/sheets/google"
	"membership/internal/sheets/memory"
	"membership/internal/storage"
)

// Factory opens backends and logs what it chose.
type Factory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) *Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &Factory{logger: logger.WithComponent(log.ComponentBackend)}
}

// Server opens the session store, the API client and the event path.
// A broker that cannot be reached at startup is not fatal: events are
// parked in the outbox and drained by the next process that connects.
func (f *Factory) Server(ctx context.Context, cfg Config) (*ServerStack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		repo     *storage.SQLiteRepository
		cleanups []CleanupFunc
		err      error
	)
	cleanup := func() error {
		var errs []error
		for i := len(cleanups) - 1; i >= 0; i-- {
			errs = append(errs, cleanups[i]())
		}
		return errors.Join(errs...)
	}

	if cfg.needsSQLite() {
		repo, err = storage.NewSQLiteRepository(cfg.SQLiteDBPath, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		cleanups = append(cleanups, repo.Close)
	}

	stack := &ServerStack{Sessions: session.NewMemoryStore()}
	if cfg.Session == SQLiteBackend {
		stack.Sessions = repo
	}

	stack.Remote, err = remote.NewClient(remote.Config{
		BaseURL:    cfg.APIBaseURL,
		Timeout:    cfg.APITimeout,
		AuthScheme: cfg.AuthScheme,
		Logger:     f.logger,
	}, stack.Sessions)
	if err != nil {
		_ = cleanup()
		return nil, fmt.Errorf("failed to initialize API client: %w", err)
	}

	if cfg.AMQPURL != "" {
		var broker adapters.Broker
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, f.logger)
		if err != nil {
			f.logger.Warn("AMQP unavailable, ledger events will wait in the outbox", log.FieldError, err)
		} else {
			broker = client
			cleanups = append(cleanups, client.Close)
			stack.Outbox = services.NewOutboxProcessor(repo, client, cfg.Outbox, f.logger)
		}
		stack.Publisher = adapters.NewOutboxPublisher(broker, repo, f.logger)
	}

	stack.Ready = func(ctx context.Context) error {
		if repo == nil {
			return nil
		}
		return repo.Ping(ctx)
	}
	stack.Cleanup = cleanup

	f.logger.InfoContext(ctx, "Initialized server backend",
		"session", cfg.Session,
		"api", cfg.APIBaseURL,
		"events", stack.Publisher != nil,
		"outbox_processor", stack.Outbox != nil)
	return stack, nil
}

// LedgerWriter opens the mirror target for ledger events.
func (f *Factory) LedgerWriter(ctx context.Context, cfg Config) (sheets.LedgerWriter, error) {
	switch cfg.Ledger {
	case SheetsBackend:
		cli, err := gsheet.New(ctx, gsheet.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
		}, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized Google Sheets ledger", "spreadsheet_id", cfg.GoogleSpreadsheetID)
		return cli, nil
	case MemoryBackend:
		f.logger.InfoContext(ctx, "Initialized memory ledger")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported ledger backend: %s", cfg.Ledger)
	}
}

// Consumer connects to the broker for the mirror worker.
func (f *Factory) Consumer(cfg Config) (*amqp.Client, error) {
	if cfg.AMQPURL == "" {
		return nil, errors.New("AMQP_URL is required to consume ledger events")
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP: %w", err)
	}
	return client, nil
}
