package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/BrandonDHaskell/Soferklesia/internal/metrics"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/period"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/types"
)

var (
	ErrInvalidOperator  = errors.New("operator is required")
	ErrInvalidDelta     = errors.New("delta must be between 1 and 1000")
	ErrCountLimit       = errors.New("count would exceed the maximum")
	ErrInvalidLocation  = errors.New("location is required")
	ErrLocationRequired = errors.New("set the location before counting")
	ErrOpenPeriod       = errors.New("period is still open")

	// ErrPersist wraps every failed write. These are the only errors a
	// counting user must see.
	ErrPersist = errors.New("could not save attendance")
)

// DetectionOperator is the operator name written for detection updates.
const DetectionOperator = "AI detection"

const (
	// MaxDelta bounds a single increment or decrement.
	MaxDelta = 1000
	// MaxCount bounds a single category for one week.
	MaxCount = 1_000_000
)

// Locker is an exclusive lock shared with other processes, e.g. *flock.Flock.
type Locker interface {
	Lock() error
	Unlock() error
}

// State is the live view of the current week.
type State struct {
	Period   period.Key
	Counts   types.Counts
	Location string
}

type Options struct {
	Stores   store.Backend
	Clock    *period.Clock
	Rule     TotalRule
	FileLock Locker // optional
	Logger   *log.Logger
	Metrics  *metrics.Metrics
}

// CounterService owns all counter state for the process. Every operation
// runs the rollover check, then load, mutate, persist and log, under one
// lock.
type CounterService struct {
	mu       sync.Mutex
	fileLock Locker

	stores   store.Backend
	clock    *period.Clock
	rollover *Rollover
	logger   *log.Logger
	metrics  *metrics.Metrics
}

func NewCounterService(opts Options) *CounterService {
	clock := opts.Clock
	if clock == nil {
		clock = period.NewClock(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &CounterService{
		fileLock: opts.FileLock,
		stores:   opts.Stores,
		clock:    clock,
		rollover: NewRollover(opts.Stores, opts.Rule, logger, opts.Metrics),
		logger:   logger,
		metrics:  opts.Metrics,
	}
}

func (s *CounterService) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fileLock != nil {
		if err := s.fileLock.Lock(); err != nil {
			return fmt.Errorf("%w: acquire lock: %v", ErrPersist, err)
		}
		defer func() {
			if err := s.fileLock.Unlock(); err != nil {
				s.logger.Printf("WARN release lock: %v", err)
			}
		}()
	}
	return fn()
}

// Rollover runs the week-boundary check on its own.
func (s *CounterService) Rollover(ctx context.Context) (RolloverResult, error) {
	var res RolloverResult
	err := s.withLock(func() error {
		var err error
		res, err = s.rolloverLocked(ctx)
		return err
	})
	return res, err
}

func (s *CounterService) rolloverLocked(ctx context.Context) (RolloverResult, error) {
	res, err := s.rollover.Run(ctx, s.clock.Current())
	if err != nil {
		s.metrics.PersistError()
		return res, fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if res.Rolled {
		s.metrics.SetAttendance(0, 0)
	}
	return res, nil
}

// RebuildRollup recomputes and rewrites the rollup of a closed week from its
// retained log. The rule in effect now is applied.
func (s *CounterService) RebuildRollup(ctx context.Context, key period.Key) (store.RollupRecord, error) {
	var rec store.RollupRecord
	err := s.withLock(func() error {
		res, err := s.rolloverLocked(ctx)
		if err != nil {
			return err
		}
		if !key.Before(res.To) {
			return fmt.Errorf("%w: %s", ErrOpenPeriod, key)
		}
		rec, err = s.rollover.Rebuild(ctx, key)
		return err
	})
	return rec, err
}

// Snapshot returns the current week's state after any pending rollover.
func (s *CounterService) Snapshot(ctx context.Context) (State, error) {
	var st State
	err := s.withLock(func() error {
		res, err := s.rolloverLocked(ctx)
		if err != nil {
			return err
		}
		st.Period = res.To
		st.Counts = s.loadCounts(ctx)
		st.Location, err = s.stores.Identity.Location(ctx)
		return err
	})
	return st, err
}

// Entries returns the current week's activity log; an empty week yields no
// entries.
func (s *CounterService) Entries(ctx context.Context) (period.Key, store.LogSnapshot, error) {
	var (
		key  period.Key
		snap store.LogSnapshot
	)
	err := s.withLock(func() error {
		res, err := s.rolloverLocked(ctx)
		if err != nil {
			return err
		}
		key = res.To
		snap, err = s.stores.Log.Entries(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			snap, err = store.LogSnapshot{}, nil
		}
		return err
	})
	return key, snap, err
}

func (s *CounterService) Location(ctx context.Context) (string, error) {
	return s.stores.Identity.Location(ctx)
}

func (s *CounterService) SetLocation(ctx context.Context, location string) error {
	location = strings.TrimSpace(location)
	if location == "" {
		return ErrInvalidLocation
	}
	return s.withLock(func() error {
		if err := s.stores.Identity.SetLocation(ctx, location); err != nil {
			s.metrics.PersistError()
			return fmt.Errorf("%w: %v", ErrPersist, err)
		}
		return nil
	})
}

// Increment adds delta (default 1) to cat.
func (s *CounterService) Increment(ctx context.Context, operator string, cat types.Category, delta int) (State, error) {
	return s.adjust(ctx, operator, cat, delta, +1)
}

// Decrement subtracts delta (default 1) from cat, stopping at zero.
func (s *CounterService) Decrement(ctx context.Context, operator string, cat types.Category, delta int) (State, error) {
	return s.adjust(ctx, operator, cat, delta, -1)
}

func (s *CounterService) adjust(ctx context.Context, operator string, cat types.Category, delta, sign int) (State, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return State{}, ErrInvalidOperator
	}
	if cat != types.Male && cat != types.Female {
		return State{}, types.ErrInvalidCategory
	}
	if delta == 0 {
		delta = 1
	}
	if delta < 0 || delta > MaxDelta {
		return State{}, ErrInvalidDelta
	}

	var st State
	err := s.withLock(func() error {
		res, err := s.rolloverLocked(ctx)
		if err != nil {
			return err
		}
		location, err := s.stores.Identity.Location(ctx)
		if err != nil {
			return fmt.Errorf("%w: read location: %v", ErrPersist, err)
		}
		if strings.TrimSpace(location) == "" {
			return ErrLocationRequired
		}
		id := types.Identity{Operator: operator, Location: location}

		cur := s.loadCounts(ctx)
		v := cur.Get(cat) + sign*delta
		if v > MaxCount {
			return ErrCountLimit
		}
		next := cur.With(cat, v)
		if err := s.save(ctx, next); err != nil {
			return err
		}

		verb, mark := "Add", "+"
		if sign < 0 {
			verb, mark = "Remove", "-"
		}
		action := fmt.Sprintf("%s %s: %s%d", verb, cat, mark, delta)
		if err := s.appendLog(ctx, res.To, id, action, next.Total()); err != nil {
			return err
		}

		s.metrics.Mutation("manual")
		st = State{Period: res.To, Counts: next, Location: location}
		return nil
	})
	return st, err
}

// ApplySnapshot overwrites each category the detection service reported.
// Categories that are absent, or already hold the reported value, are left
// alone and produce no log entry.
func (s *CounterService) ApplySnapshot(ctx context.Context, snap types.DetectionSnapshot) (State, error) {
	var st State
	err := s.withLock(func() error {
		res, err := s.rolloverLocked(ctx)
		if err != nil {
			return err
		}
		location, err := s.stores.Identity.Location(ctx)
		if err != nil {
			return fmt.Errorf("%w: read location: %v", ErrPersist, err)
		}
		if strings.TrimSpace(location) == "" {
			location = "-"
		}

		cur := s.loadCounts(ctx)
		next := cur

		type change struct {
			action string
			total  int
		}
		var changes []change
		for _, u := range []struct {
			cat types.Category
			v   *int
		}{{types.Male, snap.Male}, {types.Female, snap.Female}} {
			if u.v == nil {
				continue
			}
			if *u.v > MaxCount {
				s.logger.Printf("WARN detection reported %s=%d above %d; ignored", u.cat, *u.v, MaxCount)
				continue
			}
			updated := next.With(u.cat, *u.v)
			if updated == next {
				continue
			}
			next = updated
			changes = append(changes, change{
				action: fmt.Sprintf("Detection: %s set to %d", u.cat, next.Get(u.cat)),
				total:  next.Total(),
			})
		}

		st = State{Period: res.To, Counts: next, Location: location}
		if len(changes) == 0 {
			return nil
		}
		if err := s.save(ctx, next); err != nil {
			return err
		}
		id := types.Identity{Operator: DetectionOperator, Location: location}
		for _, c := range changes {
			if err := s.appendLog(ctx, res.To, id, c.action, c.total); err != nil {
				return err
			}
			s.metrics.Mutation("detection")
		}
		return nil
	})
	return st, err
}

// loadCounts fails soft: unreadable state counts as zero.
func (s *CounterService) loadCounts(ctx context.Context) types.Counts {
	c, err := s.stores.Counters.Load(ctx)
	if err != nil {
		s.logger.Printf("WARN counter state unreadable, starting from zero: %v", err)
		return types.Counts{}
	}
	return c
}

func (s *CounterService) save(ctx context.Context, c types.Counts) error {
	if err := s.stores.Counters.Save(ctx, c); err != nil {
		s.metrics.PersistError()
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	s.metrics.SetAttendance(c.Male, c.Female)
	return nil
}

func (s *CounterService) appendLog(ctx context.Context, key period.Key, id types.Identity, action string, total int) error {
	err := s.stores.Log.Append(ctx, key, store.LogEntry{
		At:       s.clock.Time(),
		Operator: id.Operator,
		Location: id.Location,
		Action:   action,
		Total:    total,
	})
	if err != nil {
		s.metrics.PersistError()
		return fmt.Errorf("%w: activity log: %v", ErrPersist, err)
	}
	return nil
}
