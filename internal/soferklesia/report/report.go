// Package report turns the rollup archive and live counters into the
// dashboard's charts and summaries.
package report

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/period"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/types"
)

var ErrNotEnoughData = errors.New("report: at least two closed weeks are needed")

// Scale of the text bars: one '#' per this many attendees.
const (
	WeeklyScale  = 10
	MonthlyScale = 10
	YearlyScale  = 50
)

// Bar is one row of a text chart.
type Bar struct {
	Label string `json:"label"`
	Total int    `json:"total"`
	Bar   string `json:"bar"`
}

func newBar(label string, total, scale int) Bar {
	n := 0
	if total > 0 {
		n = total / scale
	}
	return Bar{Label: label, Total: total, Bar: strings.Repeat("#", n)}
}

// Weekly lists every closed week in chronological order.
func Weekly(recs []store.RollupRecord) []Bar {
	sorted := sortedCopy(recs)
	out := make([]Bar, 0, len(sorted))
	for _, r := range sorted {
		out = append(out, newBar(r.Period.String(), r.Total, WeeklyScale))
	}
	return out
}

// Monthly sums weeks into the month that holds each week's Thursday.
func Monthly(recs []store.RollupRecord) []Bar {
	return group(recs, MonthlyScale, func(k period.Key) string {
		y, m := k.Month()
		return fmt.Sprintf("%04d-%02d", y, int(m))
	})
}

// Yearly sums weeks by ISO year.
func Yearly(recs []store.RollupRecord) []Bar {
	return group(recs, YearlyScale, func(k period.Key) string {
		return fmt.Sprintf("%04d", k.Year)
	})
}

func group(recs []store.RollupRecord, scale int, label func(period.Key) string) []Bar {
	totals := make(map[string]int)
	for _, r := range recs {
		totals[label(r.Period)] += r.Total
	}
	labels := make([]string, 0, len(totals))
	for l := range totals {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	out := make([]Bar, 0, len(labels))
	for _, l := range labels {
		out = append(out, newBar(l, totals[l], scale))
	}
	return out
}

// Text renders bars the way the dashboard prints them.
func Text(bars []Bar) string {
	var b strings.Builder
	for _, bar := range bars {
		fmt.Fprintf(&b, "%10s | %s (%d)\n", bar.Label, bar.Bar, bar.Total)
	}
	return b.String()
}

// Projection is a forecast total for a future week.
type Projection struct {
	Period period.Key `json:"-"`
	Week   string     `json:"week"`
	Total  int        `json:"total"`
}

// Forecast fits a least-squares line through the weekly totals and projects
// the n weeks following the latest one. Weeks are placed on the x axis by
// their distance from the first week, so gaps do not skew the slope.
func Forecast(recs []store.RollupRecord, n int) ([]Projection, error) {
	sorted := sortedCopy(recs)
	if len(sorted) < 2 {
		return nil, ErrNotEnoughData
	}
	if n <= 0 {
		return nil, nil
	}

	origin := sorted[0].Period.Monday(time.UTC)
	xs := make([]float64, len(sorted))
	ys := make([]float64, len(sorted))
	for i, r := range sorted {
		xs[i] = weeksBetween(origin, r.Period.Monday(time.UTC))
		ys[i] = float64(r.Total)
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)

	lastMonday := sorted[len(sorted)-1].Period.Monday(time.UTC)
	out := make([]Projection, 0, n)
	for i := 1; i <= n; i++ {
		monday := lastMonday.AddDate(0, 0, 7*i)
		y := alpha + beta*weeksBetween(origin, monday)
		total := int(math.Round(y))
		if total < 0 {
			total = 0
		}
		key := period.FromTime(monday, time.UTC)
		out = append(out, Projection{Period: key, Week: key.String(), Total: total})
	}
	return out, nil
}

func weeksBetween(from, to time.Time) float64 {
	return math.Round(to.Sub(from).Hours() / (24 * 7))
}

// Share is the male/female split of the live count.
type Share struct {
	Total     int     `json:"total"`
	Male      int     `json:"male"`
	Female    int     `json:"female"`
	MalePct   float64 `json:"male_pct"`
	FemalePct float64 `json:"female_pct"`
}

// Breakdown reports each category's share of the total in percent, rounded to
// one decimal. A zero total yields zero percentages.
func Breakdown(c types.Counts) Share {
	s := Share{Total: c.Total(), Male: c.Male, Female: c.Female}
	if s.Total == 0 {
		return s
	}
	s.MalePct = round1(float64(c.Male) / float64(s.Total) * 100)
	s.FemalePct = round1(float64(c.Female) / float64(s.Total) * 100)
	return s
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func sortedCopy(recs []store.RollupRecord) []store.RollupRecord {
	out := make([]store.RollupRecord, len(recs))
	copy(out, recs)
	store.SortRollups(out)
	return out
}
