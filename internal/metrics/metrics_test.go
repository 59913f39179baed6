package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/BrandonDHaskell/Soferklesia/internal/metrics"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	m.SetAttendance(1, 2)
	m.Mutation("manual")
	m.PersistError()
	m.Rollover(true, 10)
	m.Poll("ok", time.Millisecond)

	h := m.WrapHandler("x", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("expected passthrough handler, got %d", rec.Code)
	}
}

func TestMetricsExposition(t *testing.T) {
	m := metrics.New()
	m.SetAttendance(7, 9)
	m.Mutation("detection")
	m.Rollover(true, 42)
	m.Rollover(false, 0)

	h := m.WrapHandler("counts", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))

	expected := `
# HELP soferklesia_attendance Live attendance count for the current week by category.
# TYPE soferklesia_attendance gauge
soferklesia_attendance{category="female"} 9
soferklesia_attendance{category="male"} 7
# HELP soferklesia_rollovers_total Week rollovers performed, by outcome (rollup, missing_log).
# TYPE soferklesia_rollovers_total counter
soferklesia_rollovers_total{outcome="missing_log"} 1
soferklesia_rollovers_total{outcome="rollup"} 1
# HELP soferklesia_last_rollup_total Total attendance of the most recently closed week.
# TYPE soferklesia_last_rollup_total gauge
soferklesia_last_rollup_total 42
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"soferklesia_attendance", "soferklesia_rollovers_total", "soferklesia_last_rollup_total",
	); err != nil {
		t.Error(err)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `soferklesia_http_requests_total{route="counts",status="201"} 1`) {
		t.Errorf("expected http request counter in exposition, got:\n%s", body)
	}
	if !strings.Contains(body, `soferklesia_counter_mutations_total{source="detection"} 1`) {
		t.Error("expected detection mutation counter in exposition")
	}
}
