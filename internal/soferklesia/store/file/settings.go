package file

import (
	"context"
	"fmt"

	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/period"
)

// Settings holds the single-value files: the last processed period and the
// install location.
type Settings struct {
	b *Backend
}

func (s *Settings) LastSeen(_ context.Context) (period.Key, bool, error) {
	raw, err := s.b.readScalar(periodFile)
	if err != nil || raw == "" {
		return period.Key{}, false, err
	}
	k, err := period.Parse(raw)
	if err != nil {
		return period.Key{}, false, fmt.Errorf("read %s: %w", periodFile, err)
	}
	return k, true, nil
}

func (s *Settings) SetLastSeen(_ context.Context, key period.Key) error {
	return s.b.writeFile(s.b.path(periodFile), key.String())
}

func (s *Settings) Location(_ context.Context) (string, error) {
	return s.b.readScalar(locationFile)
}

func (s *Settings) SetLocation(_ context.Context, location string) error {
	return s.b.writeFile(s.b.path(locationFile), location)
}
