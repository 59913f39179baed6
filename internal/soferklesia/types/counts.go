package types

import (
	"errors"
	"strings"
)

var ErrInvalidCategory = errors.New("category must be male or female")

// Category is one tracked group of attendees.
type Category string

const (
	Male   Category = "male"
	Female Category = "female"
)

func ParseCategory(s string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case Male:
		return Male, nil
	case Female:
		return Female, nil
	}
	return "", ErrInvalidCategory
}

// Counts is the live counter state for the current period. Both fields are
// kept non-negative by every mutation path.
type Counts struct {
	Male   int `json:"male"`
	Female int `json:"female"`
}

func (c Counts) Total() int { return c.Male + c.Female }

func (c Counts) Get(cat Category) int {
	if cat == Female {
		return c.Female
	}
	return c.Male
}

// With returns a copy with cat set to v, clamped at zero.
func (c Counts) With(cat Category, v int) Counts {
	if v < 0 {
		v = 0
	}
	switch cat {
	case Male:
		c.Male = v
	case Female:
		c.Female = v
	}
	return c
}

// Identity names who performed an action and where. Operator comes from the
// request; Location is the persisted install identity.
type Identity struct {
	Operator string
	Location string
}
