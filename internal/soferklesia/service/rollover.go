package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/BrandonDHaskell/Soferklesia/internal/metrics"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/period"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/types"
)

var ErrInvalidRule = errors.New("rollup rule must be last or sum")

// TotalRule decides how a closed week's log is reduced to one total. Each log
// line already carries the cumulative total at that moment.
type TotalRule int

const (
	// RuleLast takes the total on the final line: the attendance the week
	// actually ended with.
	RuleLast TotalRule = iota
	// RuleSum adds the totals of every line. This matches rollup files
	// produced by earlier releases and overstates attendance; it is kept
	// only so old and new rollups can be compared.
	RuleSum
)

func ParseTotalRule(s string) (TotalRule, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "last":
		return RuleLast, nil
	case "sum":
		return RuleSum, nil
	}
	return RuleLast, fmt.Errorf("%w: %q", ErrInvalidRule, s)
}

func (r TotalRule) String() string {
	if r == RuleSum {
		return "sum"
	}
	return "last"
}

// Total reduces entries in log order. An empty log totals zero.
func (r TotalRule) Total(entries []store.LogEntry) int {
	if len(entries) == 0 {
		return 0
	}
	if r == RuleSum {
		sum := 0
		for _, e := range entries {
			sum += e.Total
		}
		return sum
	}
	return entries[len(entries)-1].Total
}

// RolloverResult describes one invocation of the rollover check.
type RolloverResult struct {
	From          period.Key
	To            period.Key
	FirstRun      bool // no marker existed; To was adopted without closing anything
	Rolled        bool // a boundary was crossed and counters were reset
	RollupWritten bool
	Total         int
	Skipped       int // malformed log lines ignored while totalling
}

// Rollover closes the last-seen week when the clock has moved past it. It is
// not synchronised; CounterService runs it inside its critical section.
type Rollover struct {
	stores  store.Backend
	rule    TotalRule
	logger  *log.Logger
	metrics *metrics.Metrics
}

func NewRollover(stores store.Backend, rule TotalRule, logger *log.Logger, m *metrics.Metrics) *Rollover {
	return &Rollover{stores: stores, rule: rule, logger: logger, metrics: m}
}

// Run compares the persisted marker with current and, on a change, archives
// the old log, writes its rollup, zeroes the counters and advances the
// marker, in that order. A missing or unreadable old log only produces a
// warning. Errors are returned for failed writes only, before the marker
// moves, so the next call repeats the same work and arrives at the same
// rollup.
func (r *Rollover) Run(ctx context.Context, current period.Key) (RolloverResult, error) {
	res := RolloverResult{To: current}

	last, ok, err := r.stores.Marker.LastSeen(ctx)
	if err != nil {
		r.logger.Printf("WARN rollover: unreadable period marker, adopting %s: %v", current, err)
		ok = false
	}
	if !ok {
		res.FirstRun = true
		if err := r.stores.Marker.SetLastSeen(ctx, current); err != nil {
			return res, fmt.Errorf("rollover: write period marker: %w", err)
		}
		return res, nil
	}

	res.From = last
	if last.Equal(current) {
		return res, nil
	}
	if current.Before(last) {
		r.logger.Printf("WARN rollover: clock moved back from %s to %s", last, current)
	}

	total, skipped, found, err := r.closePeriod(ctx, last)
	if err != nil {
		return res, err
	}
	res.RollupWritten = found
	res.Total = total
	res.Skipped = skipped

	if err := r.stores.Counters.Save(ctx, types.Counts{}); err != nil {
		return res, fmt.Errorf("rollover: reset counters: %w", err)
	}
	if err := r.stores.Marker.SetLastSeen(ctx, current); err != nil {
		return res, fmt.Errorf("rollover: write period marker: %w", err)
	}
	res.Rolled = true

	r.metrics.Rollover(res.RollupWritten, res.Total)
	if res.RollupWritten {
		r.logger.Printf("rollover %s -> %s: rollup total=%d rule=%s", last, current, total, r.rule)
	} else {
		r.logger.Printf("rollover %s -> %s: counters reset without rollup", last, current)
	}
	return res, nil
}

// Rebuild recomputes the rollup for key from its retained log.
func (r *Rollover) Rebuild(ctx context.Context, key period.Key) (store.RollupRecord, error) {
	total, _, found, err := r.closePeriod(ctx, key)
	if err != nil {
		return store.RollupRecord{}, err
	}
	if !found {
		return store.RollupRecord{}, fmt.Errorf("rebuild %s: %w", key, store.ErrNotFound)
	}
	return store.RollupRecord{Period: key, Total: total}, nil
}

// closePeriod archives key's log and upserts its rollup. found is false when
// there was no readable log, in which case nothing is written.
func (r *Rollover) closePeriod(ctx context.Context, key period.Key) (total, skipped int, found bool, err error) {
	if err := r.stores.Log.Archive(ctx, key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Printf("WARN rollover: no activity log for %s; week will have no rollup", key)
			return 0, 0, false, nil
		}
		// The original log is still in place, so the total can be derived.
		r.logger.Printf("WARN rollover: archive log %s: %v", key, err)
	}

	snap, err := r.stores.Log.Entries(ctx, key)
	if err != nil {
		r.logger.Printf("WARN rollover: unreadable activity log for %s; week will have no rollup: %v", key, err)
		return 0, 0, false, nil
	}
	if snap.Skipped > 0 {
		r.logger.Printf("WARN rollover: skipped %d malformed line(s) in log %s", snap.Skipped, key)
	}

	total = r.rule.Total(snap.Entries)
	if err := r.stores.Rollups.Write(ctx, store.RollupRecord{Period: key, Total: total}); err != nil {
		return 0, 0, false, fmt.Errorf("rollover: write rollup %s: %w", key, err)
	}
	return total, snap.Skipped, true, nil
}
