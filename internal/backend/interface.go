// Package backend builds the stores, transports and publishers the binaries
// run on, chosen by configuration.
package backend

import (
	"context"
	"time"

	"membership/internal/members"
	"membership/internal/remote"
	"membership/internal/services"
	"membership/internal/session"
)

// CleanupFunc releases what a factory call opened.
type CleanupFunc func() error

// BackendType names a storage choice.
type BackendType string

const (
	MemoryBackend BackendType = "memory"
	SQLiteBackend BackendType = "sqlite"
	SheetsBackend BackendType = "sheets"
)

func (bt BackendType) String() string {
	return string(bt)
}

// Config holds what the factory needs, lifted out of the app config.
type Config struct {
	// Session store: memory or sqlite
	Session      BackendType
	SQLiteDBPath string

	// Membership API
	APIBaseURL string
	APITimeout time.Duration
	AuthScheme string

	// AMQP is optional; without it events only reach the outbox.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	Outbox services.OutboxProcessorConfig

	// Ledger mirror: memory or sheets
	Ledger                   BackendType
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
}

// needsSQLite reports whether a SQLite file must be opened: for sessions, or
// to host the outbox whenever events are published.
func (c Config) needsSQLite() bool {
	return c.Session == SQLiteBackend || c.AMQPURL != ""
}

// ServerStack is everything the admin server runs on. Publisher and Outbox
// are nil when ledger events are disabled.
type ServerStack struct {
	Sessions  session.Store
	Remote    *remote.Client
	Publisher members.Publisher
	Outbox    *services.OutboxProcessor
	Ready     func(context.Context) error
	Cleanup   CleanupFunc
}
