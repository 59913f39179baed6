package file

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/period"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store"
)

const rollupTotalPrefix = "Total attendance:"

// RollupArchive keeps one rollup-{key}.txt per closed period. Rewriting a
// file replaces it, which makes Write an upsert.
type RollupArchive struct {
	b *Backend
}

func rollupName(key period.Key) string {
	return "rollup-" + key.String() + ".txt"
}

func (a *RollupArchive) Write(_ context.Context, rec store.RollupRecord) error {
	content := fmt.Sprintf("Attendance rollup for week %s\n%s %d\n",
		rec.Period, rollupTotalPrefix, rec.Total)
	return a.b.writeFile(a.b.path(rollupDir, rollupName(rec.Period)), content)
}

// ReadAll skips files whose name or content does not parse.
func (a *RollupArchive) ReadAll(_ context.Context) ([]store.RollupRecord, error) {
	entries, err := os.ReadDir(a.b.path(rollupDir))
	if err != nil {
		return nil, fmt.Errorf("read rollup dir: %w", err)
	}

	var out []store.RollupRecord
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "rollup-") || !strings.HasSuffix(name, ".txt") {
			continue
		}
		key, err := period.Parse(strings.TrimSuffix(strings.TrimPrefix(name, "rollup-"), ".txt"))
		if err != nil {
			continue
		}
		total, ok, err := a.readTotal(name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, store.RollupRecord{Period: key, Total: total})
	}
	store.SortRollups(out)
	return out, nil
}

func (a *RollupArchive) readTotal(name string) (int, bool, error) {
	f, err := os.Open(a.b.path(rollupDir, name))
	if err != nil {
		return 0, false, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, rollupTotalPrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, rollupTotalPrefix)))
		if err != nil {
			return 0, false, nil
		}
		return n, true, nil
	}
	return 0, false, sc.Err()
}
