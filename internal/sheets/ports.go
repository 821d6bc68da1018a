package sheets

import (
	"context"

	"membership/internal/core"
)

// LedgerWriter mirrors ledger events to an append-only sink, one row per
// event. Appending an event id that is already present is a no-op that
// returns the existing reference.
type LedgerWriter interface {
	AppendEvent(ctx context.Context, ev core.LedgerEvent) (rowRef string, err error)
}
