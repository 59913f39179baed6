package sqlite

import (
	"context"
	"fmt"

	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/period"
)

func (s *Settings) LastSeen(ctx context.Context) (period.Key, bool, error) {
	raw, ok, err := s.get(ctx, settingLastSeen)
	if err != nil || !ok {
		return period.Key{}, false, err
	}
	k, err := period.Parse(raw)
	if err != nil {
		return period.Key{}, false, fmt.Errorf("read %s: %w", settingLastSeen, err)
	}
	return k, true, nil
}

func (s *Settings) SetLastSeen(ctx context.Context, key period.Key) error {
	return s.set(ctx, settingLastSeen, key.String())
}

func (s *Settings) Location(ctx context.Context) (string, error) {
	v, _, err := s.get(ctx, settingLocation)
	return v, err
}

func (s *Settings) SetLocation(ctx context.Context, location string) error {
	return s.set(ctx, settingLocation, location)
}
