package backend

import (
	"errors"
	"fmt"
	"strings"

	"membership/internal/config"
	"membership/internal/services"
)

// FromAppConfig converts the application config to backend config.
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, errors.New("app config is nil")
	}

	scheme := ""
	if appConfig.BearerAuth() {
		scheme = "Bearer"
	}

	cfg := Config{
		Session:      BackendType(appConfig.SessionBackend),
		SQLiteDBPath: appConfig.SQLiteDBPath,

		APIBaseURL: appConfig.APIBaseURL,
		APITimeout: appConfig.APITimeout,
		AuthScheme: scheme,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,

		Outbox: services.OutboxProcessorConfig{
			PollInterval: appConfig.OutboxInterval,
			BatchSize:    appConfig.OutboxBatchSize,
			MaxRetries:   appConfig.OutboxMaxRetries,
		},

		Ledger:                   BackendType(appConfig.LedgerBackend),
		GoogleSpreadsheetID:      appConfig.GoogleSpreadsheetID,
		GoogleSheetName:          appConfig.GoogleSheetName,
		GoogleServiceAccountJSON: appConfig.GoogleServiceAccountJSON,
		GoogleServiceAccountFile: appConfig.GoogleServiceAccountFile,
	}
	return cfg, cfg.Validate()
}

// Validate checks the combinations the factory cannot build.
func (c Config) Validate() error {
	var errs []string

	switch c.Session {
	case MemoryBackend, SQLiteBackend:
	default:
		errs = append(errs, fmt.Sprintf("invalid session backend: %q", c.Session))
	}
	if c.needsSQLite() && c.SQLiteDBPath == "" {
		errs = append(errs, "SQLite database path is required for the session store or outbox")
	}

	switch c.Ledger {
	case MemoryBackend:
	case SheetsBackend:
		if c.GoogleSpreadsheetID == "" {
			errs = append(errs, "Google Spreadsheet ID is required for the sheets ledger")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
			errs = append(errs, "service account JSON or file is required for the sheets ledger")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid ledger backend: %q", c.Ledger))
	}

	if len(errs) > 0 {
		return fmt.Errorf("backend config: %s", strings.Join(errs, "; "))
	}
	return nil
}
