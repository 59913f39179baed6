// Package memory provides in-process stores. They are intended for tests and
// dev environments; nothing survives a restart.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/period"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/types"
)

// ErrInjected is returned by a CounterStore after FailSaves(true).
var ErrInjected = errors.New("memory: injected save failure")

type CounterStore struct {
	mu       sync.Mutex
	counts   types.Counts
	saves    int
	failSave bool
}

func NewCounterStore() *CounterStore {
	return &CounterStore{}
}

func (s *CounterStore) Load(_ context.Context) (types.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts, nil
}

func (s *CounterStore) Save(_ context.Context, c types.Counts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return ErrInjected
	}
	s.counts = c
	s.saves++
	return nil
}

// FailSaves makes subsequent Save calls fail. Test-only helper.
func (s *CounterStore) FailSaves(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSave = fail
}

// Saves reports how many successful saves happened. Test-only helper.
func (s *CounterStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// ActivityLog keeps one slice of entries per period plus archived copies.
type ActivityLog struct {
	mu       sync.Mutex
	logs     map[period.Key][]store.LogEntry
	archived map[period.Key][]store.LogEntry
	skipped  map[period.Key]int
}

func NewActivityLog() *ActivityLog {
	return &ActivityLog{
		logs:     make(map[period.Key][]store.LogEntry),
		archived: make(map[period.Key][]store.LogEntry),
		skipped:  make(map[period.Key]int),
	}
}

func (l *ActivityLog) Append(_ context.Context, key period.Key, e store.LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs[key] = append(l.logs[key], e)
	return nil
}

func (l *ActivityLog) Entries(_ context.Context, key period.Key) (store.LogSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, ok := l.logs[key]
	if !ok {
		return store.LogSnapshot{}, store.ErrNotFound
	}
	out := make([]store.LogEntry, len(entries))
	copy(out, entries)
	return store.LogSnapshot{Entries: out, Skipped: l.skipped[key]}, nil
}

func (l *ActivityLog) Archive(_ context.Context, key period.Key) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, ok := l.logs[key]
	if !ok {
		return store.ErrNotFound
	}
	cp := make([]store.LogEntry, len(entries))
	copy(cp, entries)
	l.archived[key] = cp
	return nil
}

// Archived returns the archived copy for key. Test-only helper.
func (l *ActivityLog) Archived(key period.Key) ([]store.LogEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.archived[key]
	return e, ok
}

// MarkSkipped simulates malformed lines in a period's log. Test-only helper.
func (l *ActivityLog) MarkSkipped(key period.Key, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.skipped[key] = n
}

type RollupArchive struct {
	mu   sync.RWMutex
	data map[period.Key]int
}

func NewRollupArchive() *RollupArchive {
	return &RollupArchive{data: make(map[period.Key]int)}
}

func (a *RollupArchive) Write(_ context.Context, rec store.RollupRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[rec.Period] = rec.Total
	return nil
}

func (a *RollupArchive) ReadAll(_ context.Context) ([]store.RollupRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]store.RollupRecord, 0, len(a.data))
	for k, v := range a.data {
		out = append(out, store.RollupRecord{Period: k, Total: v})
	}
	store.SortRollups(out)
	return out, nil
}

// Settings holds the period marker and the location identity.
type Settings struct {
	mu       sync.RWMutex
	lastSeen period.Key
	hasLast  bool
	location string
}

func NewSettings() *Settings {
	return &Settings{}
}

func (s *Settings) LastSeen(_ context.Context) (period.Key, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen, s.hasLast, nil
}

func (s *Settings) SetLastSeen(_ context.Context, key period.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = key
	s.hasLast = true
	return nil
}

func (s *Settings) Location(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.location, nil
}

func (s *Settings) SetLocation(_ context.Context, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = location
	return nil
}

// Backend is a memory store.Backend whose parts stay reachable for tests.
type Backend struct {
	Counters *CounterStore
	Log      *ActivityLog
	Rollups  *RollupArchive
	Settings *Settings
}

func New() *Backend {
	return &Backend{
		Counters: NewCounterStore(),
		Log:      NewActivityLog(),
		Rollups:  NewRollupArchive(),
		Settings: NewSettings(),
	}
}

func (b *Backend) Stores() store.Backend {
	return store.Backend{
		Counters: b.Counters,
		Log:      b.Log,
		Rollups:  b.Rollups,
		Marker:   b.Settings,
		Identity: b.Settings,
	}
}
