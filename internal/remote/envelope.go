package remote

import (
	"bytes"
	"encoding/json"
	"fmt"

	"membership/internal/query"
)

// Envelope is the wrapper around every response of the membership API.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Meta    *query.Meta     `json:"meta,omitempty"`
}

type pagedData struct {
	Data json.RawMessage `json:"data"`
	Meta *query.Meta     `json:"meta"`
}

// decodePage reads a paged payload. The API nests it as data:{data,meta};
// a bare data array with a top-level meta is accepted too.
func decodePage[T any](env Envelope, page *query.Page[T]) error {
	raw := bytes.TrimSpace(env.Data)
	items := raw
	meta := env.Meta

	if len(raw) > 0 && raw[0] == '{' {
		var pd pagedData
		if err := json.Unmarshal(raw, &pd); err != nil {
			return fmt.Errorf("decode page: %w", err)
		}
		items = pd.Data
		if pd.Meta != nil {
			meta = pd.Meta
		}
	}

	var data []T
	if len(items) > 0 && !bytes.Equal(items, []byte("null")) {
		if err := json.Unmarshal(items, &data); err != nil {
			return fmt.Errorf("decode page items: %w", err)
		}
	}
	if data == nil {
		data = []T{}
	}

	page.Data = data
	if meta != nil {
		page.Meta = *meta
	} else {
		page.Meta = query.Meta{Total: len(data), Page: 1, Limit: len(data)}
	}
	if page.Meta.TotalPages == 0 {
		page.Meta.TotalPages = query.TotalPagesFor(page.Meta.Total, page.Meta.Limit)
	}
	return nil
}
