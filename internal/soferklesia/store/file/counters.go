package file

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/types"
)

type CounterStore struct {
	b *Backend
}

// Load reads counts.txt. A missing file is a fresh install and yields zero
// counts; anything unparsable yields zero counts and store.ErrCorruptState.
func (s *CounterStore) Load(_ context.Context) (types.Counts, error) {
	raw, err := s.b.readScalar(countsFile)
	if err != nil {
		return types.Counts{}, err
	}
	if raw == "" {
		return types.Counts{}, nil
	}
	c, ok := parseCounts(raw)
	if !ok {
		return types.Counts{}, fmt.Errorf("%w: %q", store.ErrCorruptState, raw)
	}
	return c, nil
}

func (s *CounterStore) Save(_ context.Context, c types.Counts) error {
	return s.b.writeFile(s.b.path(countsFile), formatCounts(c))
}

func formatCounts(c types.Counts) string {
	return fmt.Sprintf("%d,%d", c.Male, c.Female)
}

func parseCounts(raw string) (types.Counts, bool) {
	m, f, ok := strings.Cut(raw, ",")
	if !ok {
		return types.Counts{}, false
	}
	male, err := strconv.Atoi(strings.TrimSpace(m))
	if err != nil || male < 0 {
		return types.Counts{}, false
	}
	female, err := strconv.Atoi(strings.TrimSpace(f))
	if err != nil || female < 0 {
		return types.Counts{}, false
	}
	return types.Counts{Male: male, Female: female}, true
}
