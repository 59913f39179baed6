package file_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/period"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store/file"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/types"
)

func newTestBackend(t *testing.T) (*file.Backend, store.Backend) {
	t.Helper()
	b, err := file.New(t.TempDir(), time.UTC)
	if err != nil {
		t.Fatalf("file.New: %v", err)
	}
	return b, b.Stores()
}

func writeRaw(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// CounterStore
// ═══════════════════════════════════════════════════════════════════════════

func TestCounterStore_MissingFileLoadsZero(t *testing.T) {
	_, st := newTestBackend(t)

	c, err := st.Counters.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c != (types.Counts{}) {
		t.Errorf("expected zero counts, got %+v", c)
	}
}

func TestCounterStore_SaveLoadRoundTrip(t *testing.T) {
	b, st := newTestBackend(t)
	ctx := context.Background()

	if err := st.Counters.Save(ctx, types.Counts{Male: 12, Female: 30}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(b.Dir(), "counts.txt"))
	if err != nil {
		t.Fatalf("read counts.txt: %v", err)
	}
	if string(raw) != "12,30" {
		t.Errorf("counts.txt = %q, want %q", raw, "12,30")
	}

	c, err := st.Counters.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Male != 12 || c.Female != 30 {
		t.Errorf("unexpected counts %+v", c)
	}
}

func TestCounterStore_CorruptFileFailsSoft(t *testing.T) {
	for _, raw := range []string{"garbage", "1", "1,x", "-3,4", ",,"} {
		b, st := newTestBackend(t)
		writeRaw(t, filepath.Join(b.Dir(), "counts.txt"), raw)

		c, err := st.Counters.Load(context.Background())
		if !errors.Is(err, store.ErrCorruptState) {
			t.Errorf("%q: expected ErrCorruptState, got %v", raw, err)
		}
		if c != (types.Counts{}) {
			t.Errorf("%q: expected zero counts, got %+v", raw, c)
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// ActivityLog
// ═══════════════════════════════════════════════════════════════════════════

func TestActivityLog_AppendWritesReadableLine(t *testing.T) {
	b, st := newTestBackend(t)
	key := period.Key{Year: 2024, Week: 10}
	at := time.Date(2024, 3, 10, 9, 15, 2, 0, time.UTC)

	err := st.Log.Append(context.Background(), key, store.LogEntry{
		At:       at,
		Operator: "Maria",
		Location: "GKI Makassar",
		Action:   "Add male: +1",
		Total:    12,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(b.Dir(), "log", "log-2024-W10.txt"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	want := "[2024-03-10 09:15:02] Maria @ GKI Makassar: Add male: +1 -> total: 12\n"
	if string(raw) != want {
		t.Errorf("log line = %q, want %q", raw, want)
	}
}

func TestActivityLog_EntriesParsesAndSkipsMalformed(t *testing.T) {
	b, st := newTestBackend(t)
	key := period.Key{Year: 2024, Week: 1}

	writeRaw(t, filepath.Join(b.Dir(), "log", "log-2024-W01.txt"), strings.Join([]string{
		"[2024-01-01 08:00:00] Ana @ Gereja: Add male: +1 -> total: 3",
		"this line has no total",
		"",
		"[2024-01-01 08:05:00] Ana @ Gereja: Add female: +1 -> total: five",
		"[2024-01-01 08:10:00] Ana @ Gereja: Add female: +1 -> total: 5",
		"[2024-01-01 08:20:00] AI @ Gereja: Detection: male set to 7 -> total: 9",
	}, "\n")+"\n")

	snap, err := st.Log.Entries(context.Background(), key)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if snap.Skipped != 2 {
		t.Errorf("expected 2 skipped lines, got %d", snap.Skipped)
	}

	var totals []int
	for _, e := range snap.Entries {
		totals = append(totals, e.Total)
	}
	if diff := cmp.Diff([]int{3, 5, 9}, totals); diff != "" {
		t.Errorf("totals mismatch (-want +got):\n%s", diff)
	}

	first := snap.Entries[0]
	if first.Operator != "Ana" || first.Location != "Gereja" || first.Action != "Add male: +1" {
		t.Errorf("unexpected parsed entry %+v", first)
	}
	if !first.At.Equal(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected timestamp %v", first.At)
	}
}

func TestActivityLog_AppendKeepsOneLinePerEntry(t *testing.T) {
	_, st := newTestBackend(t)
	ctx := context.Background()
	key := period.Key{Year: 2024, Week: 2}

	if err := st.Log.Append(ctx, key, store.LogEntry{Operator: "Ana\nBudi", Action: "Add male: +1", Total: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	snap, err := st.Log.Entries(ctx, key)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(snap.Entries) != 1 || snap.Skipped != 0 {
		t.Fatalf("expected a single clean entry, got %+v", snap)
	}
	if snap.Entries[0].Operator != "Ana Budi" {
		t.Errorf("operator = %q", snap.Entries[0].Operator)
	}
}

func TestActivityLog_MissingLogIsNotFound(t *testing.T) {
	_, st := newTestBackend(t)
	key := period.Key{Year: 2020, Week: 20}

	if _, err := st.Log.Entries(context.Background(), key); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Entries: expected ErrNotFound, got %v", err)
	}
	if err := st.Log.Archive(context.Background(), key); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Archive: expected ErrNotFound, got %v", err)
	}
}

func TestActivityLog_ArchiveCopiesAndKeepsOriginal(t *testing.T) {
	b, st := newTestBackend(t)
	ctx := context.Background()
	key := period.Key{Year: 2024, Week: 3}

	if err := st.Log.Append(ctx, key, store.LogEntry{Operator: "Ana", Location: "X", Action: "Add male: +1", Total: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := st.Log.Archive(ctx, key); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	orig, err := os.ReadFile(filepath.Join(b.Dir(), "log", "log-2024-W03.txt"))
	if err != nil {
		t.Fatalf("original log gone: %v", err)
	}
	backup, err := os.ReadFile(filepath.Join(b.Dir(), "backup", "log-2024-W03.txt"))
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if string(orig) != string(backup) {
		t.Errorf("backup differs from original:\n%q\n%q", orig, backup)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// RollupArchive
// ═══════════════════════════════════════════════════════════════════════════

func TestRollupArchive_UpsertLastWriteWins(t *testing.T) {
	_, st := newTestBackend(t)
	ctx := context.Background()
	key := period.Key{Year: 2024, Week: 10}

	if err := st.Rollups.Write(ctx, store.RollupRecord{Period: key, Total: 120}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := st.Rollups.Write(ctx, store.RollupRecord{Period: key, Total: 135}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	recs, err := st.Rollups.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := []store.RollupRecord{{Period: key, Total: 135}}
	if diff := cmp.Diff(want, recs); diff != "" {
		t.Errorf("rollups mismatch (-want +got):\n%s", diff)
	}
}

func TestRollupArchive_ReadAllChronologicalAndSkipsJunk(t *testing.T) {
	b, st := newTestBackend(t)
	ctx := context.Background()

	for _, rec := range []store.RollupRecord{
		{Period: period.Key{Year: 2024, Week: 2}, Total: 20},
		{Period: period.Key{Year: 2023, Week: 52}, Total: 52},
		{Period: period.Key{Year: 2024, Week: 1}, Total: 10},
	} {
		if err := st.Rollups.Write(ctx, rec); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	writeRaw(t, filepath.Join(b.Dir(), "rollup", "notes.txt"), "hello")
	writeRaw(t, filepath.Join(b.Dir(), "rollup", "rollup-2024-W09.txt"), "no total here\n")

	recs, err := st.Rollups.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	var got []string
	for _, r := range recs {
		got = append(got, r.Period.String())
	}
	if diff := cmp.Diff([]string{"2023-W52", "2024-W01", "2024-W02"}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Settings + lock
// ═══════════════════════════════════════════════════════════════════════════

func TestSettings_MarkerAndLocation(t *testing.T) {
	_, st := newTestBackend(t)
	ctx := context.Background()

	if _, ok, err := st.Marker.LastSeen(ctx); err != nil || ok {
		t.Fatalf("fresh marker: ok=%v err=%v", ok, err)
	}
	key := period.Key{Year: 2024, Week: 7}
	if err := st.Marker.SetLastSeen(ctx, key); err != nil {
		t.Fatalf("SetLastSeen: %v", err)
	}
	got, ok, err := st.Marker.LastSeen(ctx)
	if err != nil || !ok || got != key {
		t.Errorf("LastSeen = %v %v %v", got, ok, err)
	}

	if err := st.Identity.SetLocation(ctx, "GKI Makassar"); err != nil {
		t.Fatalf("SetLocation: %v", err)
	}
	loc, err := st.Identity.Location(ctx)
	if err != nil || loc != "GKI Makassar" {
		t.Errorf("Location = %q %v", loc, err)
	}
}

func TestBackend_LockIsExclusiveAcrossHandles(t *testing.T) {
	b, _ := newTestBackend(t)

	first := b.Lock()
	if err := first.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer first.Unlock()

	second := b.Lock()
	ok, err := second.TryLock()
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if ok {
		_ = second.Unlock()
		t.Fatal("expected second handle to be locked out")
	}
}
