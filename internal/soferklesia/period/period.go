// Package period derives the weekly reporting period that partitions
// counters, activity logs and rollups.
//
// Weeks follow ISO-8601 numbering (Monday start, week 1 contains the first
// Thursday of the year). Every component formats and compares keys through
// this package so filenames and markers always agree.
package period

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidKey = errors.New("invalid period key")

// Key identifies one ISO week, e.g. 2024-W10.
type Key struct {
	Year int
	Week int
}

// FromTime returns the ISO week containing t as observed in loc.
func FromTime(t time.Time, loc *time.Location) Key {
	if loc == nil {
		loc = time.UTC
	}
	y, w := t.In(loc).ISOWeek()
	return Key{Year: y, Week: w}
}

// Parse accepts the form produced by Key.String.
func Parse(s string) (Key, error) {
	s = strings.TrimSpace(s)
	year, week, ok := strings.Cut(s, "-W")
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	y, err := strconv.Atoi(year)
	if err != nil || y <= 0 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	w, err := strconv.Atoi(week)
	if err != nil || w < 1 || w > 53 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return Key{Year: y, Week: w}, nil
}

func (k Key) String() string {
	return fmt.Sprintf("%04d-W%02d", k.Year, k.Week)
}

func (k Key) IsZero() bool { return k.Year == 0 && k.Week == 0 }

func (k Key) Equal(o Key) bool { return k == o }

// Before orders keys by (year, week).
func (k Key) Before(o Key) bool {
	if k.Year != o.Year {
		return k.Year < o.Year
	}
	return k.Week < o.Week
}

// Monday returns midnight of the first day of the week in loc.
func (k Key) Monday(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	// Jan 4th is always in ISO week 1.
	jan4 := time.Date(k.Year, time.January, 4, 0, 0, 0, 0, loc)
	offset := (int(jan4.Weekday()) + 6) % 7
	week1 := jan4.AddDate(0, 0, -offset)
	return week1.AddDate(0, 0, (k.Week-1)*7)
}

// Month reports the calendar month that owns the week. A week belongs to the
// month containing its Thursday, the same rule ISO uses to assign years.
func (k Key) Month() (int, time.Month) {
	thu := k.Monday(time.UTC).AddDate(0, 0, 3)
	return thu.Year(), thu.Month()
}

// Clock yields the current key in a fixed timezone.
type Clock struct {
	Location *time.Location
	Now      func() time.Time
}

func NewClock(loc *time.Location) *Clock {
	return &Clock{Location: loc, Now: time.Now}
}

func (c *Clock) Time() time.Time {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	return now().In(loc)
}

func (c *Clock) Current() Key {
	return FromTime(c.Time(), c.Location)
}
