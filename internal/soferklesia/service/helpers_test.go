package service_test

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/period"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/service"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store/memory"
)

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Wednesday of ISO week 2026-W05.
var week5 = time.Date(2026, time.January, 28, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, rule service.TotalRule) (*service.CounterService, *memory.Backend, *fakeClock) {
	t.Helper()
	mb := memory.New()
	fc := &fakeClock{now: week5}
	svc := service.NewCounterService(service.Options{
		Stores: mb.Stores(),
		Clock:  &period.Clock{Location: time.UTC, Now: fc.Now},
		Rule:   rule,
		Logger: silentLogger(),
	})
	if err := svc.SetLocation(context.Background(), "Main Hall"); err != nil {
		t.Fatalf("SetLocation: %v", err)
	}
	return svc, mb, fc
}

func mustKey(t *testing.T, s string) period.Key {
	t.Helper()
	k, err := period.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return k
}
