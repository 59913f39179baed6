package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/period"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/types"
)

var (
	// ErrNotFound is returned when a period has no activity log.
	ErrNotFound = errors.New("not found")

	// ErrCorruptState is returned alongside zero counts when persisted
	// counter state cannot be decoded. Callers log it and carry on.
	ErrCorruptState = errors.New("corrupt counter state")
)

// CounterStore persists the live counts for the current period.
type CounterStore interface {
	Load(ctx context.Context) (types.Counts, error)
	// Save writes both categories or neither.
	Save(ctx context.Context, c types.Counts) error
}

// LogEntry is one audit line. Total is the combined count after the action.
type LogEntry struct {
	At       time.Time
	Operator string
	Location string
	Action   string
	Total    int
}

// LogSnapshot is the readable content of one period's log. Skipped counts
// lines that could not be parsed.
type LogSnapshot struct {
	Entries []LogEntry
	Skipped int
}

// ActivityLog is an append-only journal, one per period key.
type ActivityLog interface {
	Append(ctx context.Context, key period.Key, e LogEntry) error
	Entries(ctx context.Context, key period.Key) (LogSnapshot, error)
	// Archive copies the period's log to cold storage. The original stays.
	Archive(ctx context.Context, key period.Key) error
}

type RollupRecord struct {
	Period period.Key
	Total  int
}

// RollupArchive holds one aggregate total per closed period.
type RollupArchive interface {
	// Write upserts; the last write for a period wins.
	Write(ctx context.Context, rec RollupRecord) error
	// ReadAll returns records in chronological order.
	ReadAll(ctx context.Context) ([]RollupRecord, error)
}

// PeriodMarker persists the most recently processed period key.
type PeriodMarker interface {
	LastSeen(ctx context.Context) (period.Key, bool, error)
	SetLastSeen(ctx context.Context, key period.Key) error
}

// IdentityStore persists the install's location name.
type IdentityStore interface {
	Location(ctx context.Context) (string, error)
	SetLocation(ctx context.Context, location string) error
}

// Backend bundles every store a service instance needs.
type Backend struct {
	Counters CounterStore
	Log      ActivityLog
	Rollups  RollupArchive
	Marker   PeriodMarker
	Identity IdentityStore
}

// SortRollups orders records by period, oldest first.
func SortRollups(recs []RollupRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Period.Before(recs[j].Period) })
}
