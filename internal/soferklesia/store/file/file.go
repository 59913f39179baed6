// Package file stores dashboard state as plain files in one data directory:
//
//	counts.txt               live counts, "male,female"
//	period.txt               last processed period key
//	location.txt             install location name
//	log/log-{key}.txt        append-only activity log per period
//	backup/log-{key}.txt     archived copy taken at rollover
//	rollup/rollup-{key}.txt  aggregate total per closed period
//	.lock                    advisory lock shared by every writer
//
// Whole-file writes go through natefinch/atomic so readers never observe a
// half-written file.
package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"

	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store"
)

const (
	countsFile   = "counts.txt"
	periodFile   = "period.txt"
	locationFile = "location.txt"
	lockFile     = ".lock"

	logDir    = "log"
	backupDir = "backup"
	rollupDir = "rollup"
)

// Backend implements every store contract on top of one directory.
type Backend struct {
	dir string
	loc *time.Location
}

// New prepares dir and its subdirectories. loc is the timezone used for log
// timestamps.
func New(dir string, loc *time.Location) (*Backend, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "./data"
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, sub := range []string{"", logDir, backupDir, rollupDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir data dir: %w", err)
		}
	}
	return &Backend{dir: dir, loc: loc}, nil
}

func (b *Backend) Dir() string { return b.dir }

// Lock returns the advisory lock guarding counter mutations in dir. Every
// process writing to the same directory must hold it.
func (b *Backend) Lock() *flock.Flock {
	return flock.New(filepath.Join(b.dir, lockFile))
}

func (b *Backend) Stores() store.Backend {
	return store.Backend{
		Counters: &CounterStore{b: b},
		Log:      &ActivityLog{b: b},
		Rollups:  &RollupArchive{b: b},
		Marker:   &Settings{b: b},
		Identity: &Settings{b: b},
	}
}

func (b *Backend) path(parts ...string) string {
	return filepath.Join(append([]string{b.dir}, parts...)...)
}

// readScalar returns the trimmed file content, or "" when the file is absent.
func (b *Backend) readScalar(name string) (string, error) {
	data, err := os.ReadFile(b.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (b *Backend) writeFile(path, content string) error {
	if err := atomic.WriteFile(path, strings.NewReader(content)); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (b *Backend) copyFile(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	return atomic.WriteFile(dst, f)
}
