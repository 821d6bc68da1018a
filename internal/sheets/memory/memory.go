// Package memory is an in-process LedgerWriter used in development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"membership/internal/core"
	"membership/internal/sheets"
)

var _ sheets.LedgerWriter = (*Store)(nil)

type Store struct {
	mu   sync.Mutex
	rows [][]string
	refs map[string]string
}

func New() *Store {
	return &Store{refs: make(map[string]string)}
}

func (s *Store) AppendEvent(_ context.Context, ev core.LedgerEvent) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref, ok := s.refs[ev.ID]; ok {
		return ref, nil
	}
	s.rows = append(s.rows, sheets.Row(ev))
	ref := fmt.Sprintf("mem:%d", len(s.rows))
	s.refs[ev.ID] = ref
	return ref, nil
}

// Rows returns a copy of the appended rows, oldest first.
func (s *Store) Rows() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.rows))
	for i, r := range s.rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}
