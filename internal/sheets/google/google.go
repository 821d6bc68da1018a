// Package google mirrors ledger events into a Google spreadsheet, one sheet
// per year ("2024 Ledger") and one row per event.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"membership/internal/core"
	"membership/internal/log"
	"membership/internal/sheets"
)

var _ sheets.LedgerWriter = (*Client)(nil)

var ErrNotInitialized = errors.New("sheets service not initialized")

type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
	// IDCacheTTL bounds how long the known event ids of a sheet are trusted
	// before they are read again.
	IDCacheTTL time.Duration
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string
	logger        *log.Logger

	mu       sync.Mutex
	ttl      time.Duration
	known    map[string]map[string]string // sheet -> event id -> row ref
	loadedAt map[string]time.Time
}

func New(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentSheets)

	creds, err := credentials(cfg)
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	logger.InfoContext(ctx, "Google Sheets service created", "spreadsheet_id", cfg.SpreadsheetID)

	return newClient(svc, cfg, logger), nil
}

func newClient(svc *gsheet.Service, cfg Config, logger *log.Logger) *Client {
	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = "Ledger"
	}
	ttl := cfg.IDCacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Client{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetBase:     base,
		logger:        logger,
		ttl:           ttl,
		known:         make(map[string]map[string]string),
		loadedAt:      make(map[string]time.Time),
	}
}

func credentials(cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return []byte(cfg.CredentialsJSON), nil
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}
}

// AppendEvent appends ev to the sheet of the year it occurred in.
func (c *Client) AppendEvent(ctx context.Context, ev core.LedgerEvent) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", ErrNotInitialized
	}

	sheet := sheets.SheetName(c.sheetBase, ev.OccurredAt.Year())
	known, err := c.knownIDs(ctx, sheet)
	if err != nil {
		return "", err
	}
	if ref, ok := known[ev.ID]; ok {
		return ref, nil
	}

	values := [][]any{toValues(sheets.Row(ev))}
	if len(known) == 0 {
		values = append([][]any{toValues(sheets.Header)}, values...)
	}

	resp, err := c.svc.Spreadsheets.Values.
		Append(c.spreadsheetID, fmt.Sprintf("%s!A:J", sheet), &gsheet.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		c.forget(sheet)
		return "", fmt.Errorf("append to %s: %w", sheet, err)
	}

	ref := sheet
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	c.remember(sheet, ev.ID, ref)
	c.logger.InfoContext(ctx, "Ledger event mirrored",
		log.FieldEventID, ev.ID,
		log.FieldEventType, ev.Type,
		log.FieldSheetRange, ref)
	return ref, nil
}

// knownIDs returns the event ids already present in sheet.
func (c *Client) knownIDs(ctx context.Context, sheet string) (map[string]string, error) {
	c.mu.Lock()
	ids, ok := c.known[sheet]
	fresh := ok && time.Since(c.loadedAt[sheet]) < c.ttl
	c.mu.Unlock()
	if fresh {
		return ids, nil
	}

	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, fmt.Sprintf("%s!A:A", sheet)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read event ids of %s: %w", sheet, err)
	}
	ids = parseEventIDs(sheet, resp.Values)

	c.mu.Lock()
	c.known[sheet] = ids
	c.loadedAt[sheet] = time.Now()
	c.mu.Unlock()
	return ids, nil
}

func (c *Client) remember(sheet, id, ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.known[sheet] == nil {
		c.known[sheet] = make(map[string]string)
		c.loadedAt[sheet] = time.Now()
	}
	c.known[sheet][id] = ref
}

func (c *Client) forget(sheet string) {
	c.mu.Lock()
	delete(c.known, sheet)
	delete(c.loadedAt, sheet)
	c.mu.Unlock()
}

// parseEventIDs maps the ids in column A to their row reference, skipping
// the header and blank cells.
func parseEventIDs(sheet string, values [][]any) map[string]string {
	out := make(map[string]string, len(values))
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		id := strings.TrimSpace(fmt.Sprint(row[0]))
		if id == "" || id == sheets.Header[0] {
			continue
		}
		out[id] = fmt.Sprintf("%s!A%d:J%d", sheet, i+1, i+1)
	}
	return out
}

func toValues(row []string) []any {
	out := make([]any, len(row))
	for i, v := range row {
		out[i] = v
	}
	return out
}
