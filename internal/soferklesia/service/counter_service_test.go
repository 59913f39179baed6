package service_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/service"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store/memory"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/types"
)

func intPtr(v int) *int { return &v }

var ignoreTime = cmpopts.IgnoreFields(store.LogEntry{}, "At")

// ── Manual counting ─────────────────────────────────────────────────────────

func TestIncrementDecrement_LogsCumulativeTotals(t *testing.T) {
	ctx := context.Background()
	svc, mb, _ := newTestService(t, service.RuleLast)

	if _, err := svc.Increment(ctx, "usher1", types.Male, 0); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if _, err := svc.Increment(ctx, "usher2", types.Female, 3); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	st, err := svc.Decrement(ctx, "usher1", types.Female, 1)
	if err != nil {
		t.Fatalf("Decrement: %v", err)
	}

	if diff := cmp.Diff(types.Counts{Male: 1, Female: 2}, st.Counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
	if st.Period.String() != "2026-W05" {
		t.Errorf("expected period 2026-W05, got %s", st.Period)
	}

	snap, err := mb.Log.Entries(ctx, st.Period)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	want := []store.LogEntry{
		{Operator: "usher1", Location: "Main Hall", Action: "Add male: +1", Total: 1},
		{Operator: "usher2", Location: "Main Hall", Action: "Add female: +3", Total: 4},
		{Operator: "usher1", Location: "Main Hall", Action: "Remove female: -1", Total: 3},
	}
	if diff := cmp.Diff(want, snap.Entries, ignoreTime); diff != "" {
		t.Errorf("log mismatch (-want +got):\n%s", diff)
	}
	for _, e := range snap.Entries {
		if !e.At.Equal(week5) {
			t.Errorf("expected entry stamped with clock time, got %s", e.At)
		}
	}
}

func TestDecrement_ClampsAtZeroAndStillLogs(t *testing.T) {
	ctx := context.Background()
	svc, mb, _ := newTestService(t, service.RuleLast)

	st, err := svc.Decrement(ctx, "usher1", types.Male, 2)
	if err != nil {
		t.Fatalf("Decrement: %v", err)
	}
	if st.Counts.Male != 0 {
		t.Errorf("expected male=0, got %d", st.Counts.Male)
	}

	snap, _ := mb.Log.Entries(ctx, st.Period)
	if len(snap.Entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(snap.Entries))
	}
	if snap.Entries[0].Total != 0 || snap.Entries[0].Action != "Remove male: -2" {
		t.Errorf("unexpected entry %+v", snap.Entries[0])
	}
}

func TestAdjust_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	svc, mb, _ := newTestService(t, service.RuleLast)

	tests := []struct {
		name     string
		operator string
		cat      types.Category
		delta    int
		want     error
	}{
		{"missing operator", "  ", types.Male, 1, service.ErrInvalidOperator},
		{"negative delta", "usher1", types.Male, -1, service.ErrInvalidDelta},
		{"delta above cap", "usher1", types.Male, service.MaxDelta + 1, service.ErrInvalidDelta},
		{"max int delta", "usher1", types.Male, math.MaxInt, service.ErrInvalidDelta},
		{"unknown category", "usher1", types.Category("child"), 1, types.ErrInvalidCategory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Increment(ctx, tt.operator, tt.cat, tt.delta); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if mb.Counters.Saves() != 0 {
		t.Errorf("expected no saves, got %d", mb.Counters.Saves())
	}
}

func TestIncrement_HugeDeltaLeavesCountAlone(t *testing.T) {
	ctx := context.Background()
	svc, mb, _ := newTestService(t, service.RuleLast)
	if _, err := svc.Increment(ctx, "usher1", types.Male, 5); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Increment(ctx, "usher1", types.Male, math.MaxInt); !errors.Is(err, service.ErrInvalidDelta) {
		t.Fatalf("expected ErrInvalidDelta, got %v", err)
	}
	st, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(types.Counts{Male: 5}, st.Counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
	snap, _ := mb.Log.Entries(ctx, st.Period)
	if len(snap.Entries) != 1 {
		t.Errorf("expected 1 log entry, got %d", len(snap.Entries))
	}
}

func TestIncrement_RejectsCountAboveLimit(t *testing.T) {
	ctx := context.Background()
	svc, mb, _ := newTestService(t, service.RuleLast)
	if _, err := svc.ApplySnapshot(ctx, types.DetectionSnapshot{Male: intPtr(service.MaxCount - 1)}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Increment(ctx, "usher1", types.Male, 1); err != nil {
		t.Fatalf("increment up to the limit: %v", err)
	}
	saves := mb.Counters.Saves()

	if _, err := svc.Increment(ctx, "usher1", types.Male, 1); !errors.Is(err, service.ErrCountLimit) {
		t.Fatalf("expected ErrCountLimit, got %v", err)
	}
	if mb.Counters.Saves() != saves {
		t.Error("expected no write past the limit")
	}
	st, _ := svc.Snapshot(ctx)
	if st.Counts.Male != service.MaxCount {
		t.Errorf("expected male=%d, got %d", service.MaxCount, st.Counts.Male)
	}

	// Decrementing from the ceiling still works.
	if _, err := svc.Decrement(ctx, "usher1", types.Male, 1); err != nil {
		t.Errorf("Decrement: %v", err)
	}
}

func TestApplySnapshot_IgnoresValuesAboveLimit(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, service.RuleLast)

	st, err := svc.ApplySnapshot(ctx, types.DetectionSnapshot{Male: intPtr(math.MaxInt), Female: intPtr(4)})
	if err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}
	if diff := cmp.Diff(types.Counts{Female: 4}, st.Counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
}

func TestIncrement_RequiresLocation(t *testing.T) {
	ctx := context.Background()
	mb := memory.New()
	svc := service.NewCounterService(service.Options{Stores: mb.Stores(), Logger: silentLogger()})

	if _, err := svc.Increment(ctx, "usher1", types.Male, 1); !errors.Is(err, service.ErrLocationRequired) {
		t.Fatalf("expected ErrLocationRequired, got %v", err)
	}
	if mb.Counters.Saves() != 0 {
		t.Error("expected no counter write without a location")
	}
	if err := svc.SetLocation(ctx, "   "); !errors.Is(err, service.ErrInvalidLocation) {
		t.Errorf("expected ErrInvalidLocation, got %v", err)
	}
}

func TestIncrement_PersistFailureIsReportedAndNotLogged(t *testing.T) {
	ctx := context.Background()
	svc, mb, _ := newTestService(t, service.RuleLast)
	// Let the first-run marker settle before failing writes.
	if _, err := svc.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	mb.Counters.FailSaves(true)

	_, err := svc.Increment(ctx, "usher1", types.Male, 1)
	if !errors.Is(err, service.ErrPersist) {
		t.Fatalf("expected ErrPersist, got %v", err)
	}
	if _, err := mb.Log.Entries(ctx, mustKey(t, "2026-W05")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected no log for a failed write, got %v", err)
	}
}

func TestIncrement_ConcurrentUpdatesAreNotLost(t *testing.T) {
	ctx := context.Background()
	svc, mb, _ := newTestService(t, service.RuleLast)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Increment(ctx, "usher", types.Female, 1); err != nil {
				t.Errorf("Increment: %v", err)
			}
		}()
	}
	wg.Wait()

	st, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if st.Counts.Female != 50 {
		t.Errorf("expected female=50, got %d", st.Counts.Female)
	}
	snap, _ := mb.Log.Entries(ctx, st.Period)
	if got := snap.Entries[len(snap.Entries)-1].Total; got != 50 {
		t.Errorf("expected last logged total 50, got %d", got)
	}
}

// ── Detection snapshots ─────────────────────────────────────────────────────

func TestApplySnapshot_OverwritesReportedCategoryOnly(t *testing.T) {
	ctx := context.Background()
	svc, mb, _ := newTestService(t, service.RuleLast)
	if _, err := svc.Increment(ctx, "usher1", types.Male, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Increment(ctx, "usher1", types.Female, 3); err != nil {
		t.Fatal(err)
	}

	before, _ := mb.Log.Entries(ctx, mustKey(t, "2026-W05"))

	st, err := svc.ApplySnapshot(ctx, types.DetectionSnapshot{Male: intPtr(7)})
	if err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}
	if diff := cmp.Diff(types.Counts{Male: 7, Female: 3}, st.Counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}

	snap, _ := mb.Log.Entries(ctx, st.Period)
	if got, want := len(snap.Entries), len(before.Entries)+1; got != want {
		t.Fatalf("expected exactly one new log entry: %d entries, want %d", got, want)
	}
	last := snap.Entries[len(snap.Entries)-1]
	want := store.LogEntry{
		Operator: service.DetectionOperator,
		Location: "Main Hall",
		Action:   "Detection: male set to 7",
		Total:    10,
	}
	if diff := cmp.Diff(want, last, ignoreTime); diff != "" {
		t.Errorf("detection entry mismatch (-want +got):\n%s", diff)
	}
}

func TestApplySnapshot_UnchangedAndEmptyAreNoOps(t *testing.T) {
	ctx := context.Background()
	svc, mb, _ := newTestService(t, service.RuleLast)
	if _, err := svc.ApplySnapshot(ctx, types.DetectionSnapshot{Male: intPtr(4), Female: intPtr(5)}); err != nil {
		t.Fatal(err)
	}
	saves := mb.Counters.Saves()

	if _, err := svc.ApplySnapshot(ctx, types.DetectionSnapshot{Male: intPtr(4)}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ApplySnapshot(ctx, types.DetectionSnapshot{}); err != nil {
		t.Fatal(err)
	}
	if mb.Counters.Saves() != saves {
		t.Errorf("expected no extra saves, got %d more", mb.Counters.Saves()-saves)
	}

	snap, _ := mb.Log.Entries(ctx, mustKey(t, "2026-W05"))
	totals := make([]int, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		totals = append(totals, e.Total)
	}
	if diff := cmp.Diff([]int{4, 9}, totals); diff != "" {
		t.Errorf("totals mismatch (-want +got):\n%s", diff)
	}
}

func TestApplySnapshot_NegativeClampsAndNeedsNoLocation(t *testing.T) {
	ctx := context.Background()
	mb := memory.New()
	svc := service.NewCounterService(service.Options{Stores: mb.Stores(), Logger: silentLogger()})
	_ = mb.Counters.Save(ctx, types.Counts{Female: 2})

	st, err := svc.ApplySnapshot(ctx, types.DetectionSnapshot{Female: intPtr(-3)})
	if err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}
	if st.Counts.Female != 0 {
		t.Errorf("expected female clamped to 0, got %d", st.Counts.Female)
	}
	snap, _ := mb.Log.Entries(ctx, st.Period)
	if len(snap.Entries) != 1 || snap.Entries[0].Location != "-" {
		t.Errorf("expected one entry with placeholder location, got %+v", snap.Entries)
	}
}
