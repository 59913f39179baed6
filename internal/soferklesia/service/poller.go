package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/Soferklesia/internal/metrics"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/types"
)

// Detector fetches the latest per-category counts from a detection service.
type Detector interface {
	Fetch(ctx context.Context) (types.DetectionSnapshot, error)
}

// SnapshotApplier is the part of CounterService the poller writes through.
type SnapshotApplier interface {
	ApplySnapshot(ctx context.Context, snap types.DetectionSnapshot) (State, error)
}

// HealthReporter receives the poller's view of the detection service.
type HealthReporter interface {
	SetDetectionServing(serving bool)
}

// DetectionPoller fetches detection snapshots on a fixed interval and hands
// them to the counter service. Fetching and applying run on separate
// goroutines joined by a one-slot queue, so a slow detection service never
// holds the counter lock and a slow apply only ever sees the newest snapshot.
//
// The poller is safe to stop via its context or the Stop method.
type DetectionPoller struct {
	detector Detector
	applier  SnapshotApplier
	health   HealthReporter
	interval time.Duration
	timeout  time.Duration
	enabled  bool
	logger   *log.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// PollerConfig holds the parameters for NewDetectionPoller.
type PollerConfig struct {
	// Enabled false leaves the poller idle; Start returns immediately.
	Enabled bool

	// Interval between fetches. Defaults to 10s.
	Interval time.Duration

	// Timeout bounds a single fetch. Defaults to 3s.
	Timeout time.Duration

	Health  HealthReporter
	Metrics *metrics.Metrics
}

// NewDetectionPoller creates a poller but does not start it.
func NewDetectionPoller(d Detector, a SnapshotApplier, cfg PollerConfig, logger *log.Logger) *DetectionPoller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &DetectionPoller{
		detector: d,
		applier:  a,
		health:   cfg.Health,
		interval: interval,
		timeout:  timeout,
		enabled:  cfg.Enabled,
		logger:   logger,
		metrics:  cfg.Metrics,
		done:     make(chan struct{}),
	}
}

// Start begins polling. The first fetch happens immediately, then every
// interval, until ctx is cancelled or Stop is called.
func (p *DetectionPoller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	if !p.enabled {
		p.logger.Printf("detection poller disabled")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	queue := make(chan types.DetectionSnapshot, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(queue)
		p.fetchLoop(gctx, queue)
		return nil
	})
	g.Go(func() error {
		p.applyLoop(gctx, queue)
		return nil
	})
	go func() {
		_ = g.Wait()
		close(p.done)
	}()

	p.logger.Printf("detection poller started (interval=%s, timeout=%s)", p.interval, p.timeout)
}

// Stop signals the poller to exit and waits for both goroutines. It is a
// no-op if Start was never called.
func (p *DetectionPoller) Stop() {
	p.mu.Lock()
	started, cancel := p.started, p.cancel
	p.mu.Unlock()
	if !started {
		return
	}
	if cancel != nil {
		cancel()
	}
	<-p.done
}

// Done is closed once the poller has fully exited.
func (p *DetectionPoller) Done() <-chan struct{} {
	return p.done
}

func (p *DetectionPoller) fetchLoop(ctx context.Context, queue chan types.DetectionSnapshot) {
	p.poll(ctx, queue)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, queue)
		}
	}
}

func (p *DetectionPoller) poll(ctx context.Context, queue chan types.DetectionSnapshot) {
	fctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	snap, err := p.detector.Fetch(fctx)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		p.metrics.Poll("error", elapsed)
		p.setHealth(false)
		p.logger.Printf("detection poll error: %v", err)
		return
	case snap.Empty():
		p.metrics.Poll("empty", elapsed)
		p.setHealth(true)
		return
	}
	p.metrics.Poll("ok", elapsed)
	p.setHealth(true)

	// Keep only the newest snapshot if the applier has fallen behind.
	for {
		select {
		case queue <- snap:
			return
		case <-ctx.Done():
			return
		default:
		}
		select {
		case <-queue:
		default:
		}
	}
}

func (p *DetectionPoller) applyLoop(ctx context.Context, queue <-chan types.DetectionSnapshot) {
	for snap := range queue {
		if ctx.Err() != nil {
			// Drain so the fetch side never blocks on a full queue.
			continue
		}
		if _, err := p.applier.ApplySnapshot(ctx, snap); err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			p.logger.Printf("detection apply error: %v", err)
		}
	}
}

func (p *DetectionPoller) setHealth(serving bool) {
	if p.health != nil {
		p.health.SetDetectionServing(serving)
	}
}
