package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/BrandonDHaskell/Soferklesia/internal/config"
	"github.com/BrandonDHaskell/Soferklesia/internal/db"
	"github.com/BrandonDHaskell/Soferklesia/internal/health"
	"github.com/BrandonDHaskell/Soferklesia/internal/httpapi"
	"github.com/BrandonDHaskell/Soferklesia/internal/metrics"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/detection"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/period"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/service"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store/file"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store/sqlite"
)

func main() {
	bootLogger := log.New(os.Stdout, "soferklesia-server ", log.LstdFlags)
	cfg := config.FromEnv(bootLogger)

	logger, closeLog := newLogger(cfg)
	defer closeLog()

	if err := run(cfg, logger); err != nil {
		logger.Printf("fatal: %v", err)
		closeLog()
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) (*log.Logger, func()) {
	if cfg.LogFile == "" {
		return log.New(os.Stdout, "soferklesia-server ", log.LstdFlags), func() {}
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     90, // days
	}
	w := io.MultiWriter(os.Stdout, rotator)
	return log.New(w, "soferklesia-server ", log.LstdFlags), func() { _ = rotator.Close() }
}

func run(cfg config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc := cfg.Location()
	clock := period.NewClock(loc)

	rule, err := service.ParseTotalRule(cfg.RollupRule)
	if err != nil {
		logger.Printf("WARN %v; using %s", err, service.RuleLast)
		rule = service.RuleLast
	}
	if rule == service.RuleSum {
		logger.Printf("WARN rollup rule %q adds every log line's running total and overstates attendance", rule)
	}

	stores, fileLock, closeStores, err := openStores(ctx, cfg, loc, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	m := metrics.New()
	hs := health.New(logger)

	counters := service.NewCounterService(service.Options{
		Stores:   stores,
		Clock:    clock,
		Rule:     rule,
		FileLock: fileLock,
		Logger:   logger,
		Metrics:  m,
	})

	// Close any week that ended while the server was down before serving.
	if res, err := counters.Rollover(ctx); err != nil {
		logger.Printf("WARN startup rollover: %v", err)
	} else if res.FirstRun {
		logger.Printf("first run: tracking %s", res.To)
	}
	if st, err := counters.Snapshot(ctx); err == nil {
		m.SetAttendance(st.Counts.Male, st.Counts.Female)
	}

	scheduler, err := service.NewRolloverScheduler(cfg.RolloverSchedule, loc, counters, logger)
	if err != nil {
		return err
	}

	var poller *service.DetectionPoller
	if cfg.DetectionEnabled {
		client, err := detection.NewClient(cfg.DetectionHost, cfg.DetectionPort, cfg.DetectionTimeout)
		if err != nil {
			return err
		}
		logger.Printf("detection source %s", client.URL())
		poller = service.NewDetectionPoller(client, counters, service.PollerConfig{
			Enabled:  true,
			Interval: cfg.DetectionInterval,
			Timeout:  cfg.DetectionTimeout,
			Health:   hs,
			Metrics:  m,
		}, logger)
	} else {
		poller = service.NewDetectionPoller(nil, nil, service.PollerConfig{}, logger)
	}

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:   logger,
		Addr:     cfg.HTTPAddr,
		Counters: counters,
		Rollups:  stores.Rollups,
		Clock:    clock,
		Metrics:  m,
		Health:   hs,
	})

	if cfg.GRPCEnabled() {
		if err := hs.Listen(cfg.GRPCAddr); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.GRPCEnabled() {
		g.Go(func() error { return hs.Serve(gctx) })
	}

	g.Go(func() error {
		scheduler.Start()
		logger.Printf("rollover schedule %q in %s", cfg.RolloverSchedule, loc)
		<-gctx.Done()
		scheduler.Stop()
		return nil
	})
	g.Go(func() error {
		poller.Start(gctx)
		<-gctx.Done()
		poller.Stop()
		return nil
	})

	return g.Wait()
}

// openStores builds the configured backend. The file backend also returns
// the directory lock shared with any other process using the same data dir.
func openStores(ctx context.Context, cfg config.Config, loc *time.Location, logger *log.Logger) (store.Backend, service.Locker, func(), error) {
	switch cfg.Store {
	case "sqlite":
		conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
		if err != nil {
			return store.Backend{}, nil, nil, fmt.Errorf("open database: %w", err)
		}
		writer := db.NewWorker(conn)
		logger.Printf("store: sqlite at %s", cfg.DBPath)
		return sqlite.Stores(conn, writer), nil, func() {
			writer.Close()
			_ = conn.Close()
		}, nil
	default:
		fb, err := file.New(cfg.DataDir, loc)
		if err != nil {
			return store.Backend{}, nil, nil, fmt.Errorf("open data dir: %w", err)
		}
		logger.Printf("store: files in %s", fb.Dir())
		return fb.Stores(), fb.Lock(), func() {}, nil
	}
}
