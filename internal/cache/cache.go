// Package cache provides the tagged read-through cache behind the member views.
package cache

import (
	"sync"
	"time"

	"membership/internal/log"
)

// Tag names a family of cached views. A mutation invalidates the tags of
// every view it can have changed.
type Tag string

const (
	TagMembers      Tag = "members"
	TagMember       Tag = "member"
	TagMeatStatus   Tag = "meatStatus"
	TagTransactions Tag = "transactions"
)

// Strings converts tags for headers and logs.
func Strings(tags []Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = string(t)
	}
	return out
}

type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	SetTagged(key string, data T, tags ...Tag)
	Delete(key string)
	Size() int
}

// Store is the part of a cache the Manager drives.
type Store interface {
	CleanExpired() int
	InvalidateTags(tags ...Tag) int
}

// Manager owns a set of caches: it fans tag invalidation out to all of
// them and periodically evicts expired entries.
type Manager struct {
	mu          sync.Mutex
	stores      []Store
	logger      *log.Logger
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	started     bool
	stopped     bool

	// fillMu orders fills against invalidation.
	fillMu      sync.Mutex
	generations map[Tag]uint64
}

func NewManager(logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Discard()
	}
	return &Manager{
		logger:      logger.WithComponent(log.ComponentCache),
		generations: make(map[Tag]uint64),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
}

func (m *Manager) Register(s Store) {
	m.mu.Lock()
	m.stores = append(m.stores, s)
	m.mu.Unlock()
}

// Invalidate drops every entry tagged with any of tags across all stores
// and bumps the generation of each tag.
func (m *Manager) Invalidate(tags ...Tag) int {
	m.mu.Lock()
	stores := append([]Store(nil), m.stores...)
	m.mu.Unlock()

	m.fillMu.Lock()
	for _, t := range tags {
		m.generations[t]++
	}
	removed := 0
	for _, s := range stores {
		removed += s.InvalidateTags(tags...)
	}
	m.fillMu.Unlock()

	if len(tags) > 0 {
		m.logger.Debug("Cache tags invalidated", log.FieldTags, Strings(tags), "removed", removed)
	}
	return removed
}

// Generation returns a value that changes whenever any of tags is
// invalidated. Read it before fetching and hand it to Fill.
func (m *Manager) Generation(tags ...Tag) uint64 {
	m.fillMu.Lock()
	defer m.fillMu.Unlock()
	return m.generation(tags)
}

func (m *Manager) generation(tags []Tag) uint64 {
	var g uint64
	for _, t := range tags {
		g += m.generations[t]
	}
	return g
}

// Fill runs set only if none of tags was invalidated since gen was read,
// so a fetch that raced a mutation never caches its stale result.
func (m *Manager) Fill(gen uint64, tags []Tag, set func()) bool {
	m.fillMu.Lock()
	defer m.fillMu.Unlock()
	if m.generation(tags) != gen {
		return false
	}
	set()
	return true
}

func (m *Manager) StartCleanup(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped || interval <= 0 {
		return
	}
	m.started = true
	go m.cleanup(interval)
}

func (m *Manager) cleanup(interval time.Duration) {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			stores := append([]Store(nil), m.stores...)
			m.mu.Unlock()

			cleaned := 0
			for _, s := range stores {
				cleaned += s.CleanExpired()
			}
			if cleaned > 0 {
				m.logger.Debug("Expired cache entries removed", "count", cleaned)
			}
		case <-m.stopCleanup:
			return
		}
	}
}

// Stop ends the cleanup loop if it was started.
func (m *Manager) Stop() {
	m.mu.Lock()
	running := m.started && !m.stopped
	m.stopped = true
	m.mu.Unlock()
	if running {
		close(m.stopCleanup)
		<-m.cleanupDone
	}
}
