package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// RolloverRunner is the part of CounterService the scheduler drives.
type RolloverRunner interface {
	Rollover(ctx context.Context) (RolloverResult, error)
}

// RolloverScheduler triggers the rollover check on a cron schedule so a week
// is closed even when nobody touches the counters on Monday.
type RolloverScheduler struct {
	cron   *cron.Cron
	runner RolloverRunner
	logger *log.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRolloverScheduler parses spec (standard five-field cron) in loc. An
// empty spec defaults to the top of every hour.
func NewRolloverScheduler(spec string, loc *time.Location, runner RolloverRunner, logger *log.Logger) (*RolloverScheduler, error) {
	if spec == "" {
		spec = "0 * * * *"
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = log.Default()
	}

	s := &RolloverScheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cron.PrintfLogger(logger)),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
		),
		runner: runner,
		logger: logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		s.cancel()
		return nil, fmt.Errorf("rollover schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *RolloverScheduler) run() {
	res, err := s.runner.Rollover(s.ctx)
	if err != nil {
		s.logger.Printf("scheduled rollover error: %v", err)
		return
	}
	if res.Rolled {
		s.logger.Printf("scheduled rollover closed %s", res.From)
	}
}

// Start runs the scheduler in its own goroutine.
func (s *RolloverScheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running check to finish.
func (s *RolloverScheduler) Stop() {
	done := s.cron.Stop()
	<-done.Done()
	s.cancel()
}
