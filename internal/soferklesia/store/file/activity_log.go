package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/period"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store"
)

const (
	timestampLayout = "2006-01-02 15:04:05"
	totalMarker     = "total:"
)

// ActivityLog writes one human-readable line per action:
//
//	[2024-03-10 09:15:02] Maria @ GKI Makassar: Add male: +1 -> total: 12
//
// Only the trailing total is required when reading back; a line without a
// parsable "total:" suffix is counted as skipped.
type ActivityLog struct {
	b *Backend
}

func logName(key period.Key) string {
	return "log-" + key.String() + ".txt"
}

func (l *ActivityLog) Append(_ context.Context, key period.Key, e store.LogEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	path := l.b.path(logDir, logName(key))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log %s: %w", key, err)
	}
	if _, err := f.WriteString(formatLine(e, l.b.loc) + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("append log %s: %w", key, err)
	}
	return f.Close()
}

func (l *ActivityLog) Entries(_ context.Context, key period.Key) (store.LogSnapshot, error) {
	f, err := os.Open(l.b.path(logDir, logName(key)))
	if errors.Is(err, os.ErrNotExist) {
		return store.LogSnapshot{}, store.ErrNotFound
	}
	if err != nil {
		return store.LogSnapshot{}, fmt.Errorf("open log %s: %w", key, err)
	}
	defer f.Close()

	var snap store.LogSnapshot
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		e, ok := parseLine(line, l.b.loc)
		if !ok {
			snap.Skipped++
			continue
		}
		snap.Entries = append(snap.Entries, e)
	}
	if err := sc.Err(); err != nil {
		return store.LogSnapshot{}, fmt.Errorf("read log %s: %w", key, err)
	}
	return snap, nil
}

func (l *ActivityLog) Archive(_ context.Context, key period.Key) error {
	src := l.b.path(logDir, logName(key))
	if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		return store.ErrNotFound
	}
	if err := l.b.copyFile(src, l.b.path(backupDir, logName(key))); err != nil {
		return fmt.Errorf("archive log %s: %w", key, err)
	}
	return nil
}

func formatLine(e store.LogEntry, loc *time.Location) string {
	return fmt.Sprintf("[%s] %s @ %s: %s -> %s %d",
		e.At.In(loc).Format(timestampLayout),
		oneLine(e.Operator), oneLine(e.Location), oneLine(e.Action),
		totalMarker, e.Total)
}

func oneLine(s string) string {
	s = strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
	return strings.TrimSpace(s)
}

func parseLine(line string, loc *time.Location) (store.LogEntry, bool) {
	i := strings.LastIndex(line, totalMarker)
	if i < 0 {
		return store.LogEntry{}, false
	}
	total, err := strconv.Atoi(strings.TrimSpace(line[i+len(totalMarker):]))
	if err != nil || total < 0 {
		return store.LogEntry{}, false
	}
	e := store.LogEntry{Total: total}

	// The remaining fields are best effort.
	head := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line[:i]), "->"))
	if strings.HasPrefix(head, "[") {
		if end := strings.Index(head, "]"); end > 0 {
			if t, err := time.ParseInLocation(timestampLayout, head[1:end], loc); err == nil {
				e.At = t
			}
			head = strings.TrimSpace(head[end+1:])
		}
	}
	who, action, ok := strings.Cut(head, ": ")
	if ok {
		e.Action = strings.TrimSpace(action)
	} else {
		who = head
	}
	op, where, _ := strings.Cut(who, " @ ")
	e.Operator = strings.TrimSpace(op)
	e.Location = strings.TrimSpace(where)
	return e, true
}
