package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Soferklesia/internal/health"
	"github.com/BrandonDHaskell/Soferklesia/internal/metrics"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/period"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/report"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/service"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/store"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/types"
)

const (
	defaultForecastWeeks = 4
	maxForecastWeeks     = 52
)

type Dependencies struct {
	Logger   *log.Logger
	Addr     string
	Counters *service.CounterService
	Rollups  store.RollupArchive
	Clock    *period.Clock
	Metrics  *metrics.Metrics
	Health   *health.Server // optional
}

type Server struct {
	httpServer *http.Server
	logger     *log.Logger
	mux        *http.ServeMux
	counters   *service.CounterService
	rollups    store.RollupArchive
	clock      *period.Clock
	metrics    *metrics.Metrics
	health     *health.Server
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()
	clock := d.Clock
	if clock == nil {
		clock = period.NewClock(nil)
	}

	s := &Server{
		logger:   d.Logger,
		mux:      mux,
		counters: d.Counters,
		rollups:  d.Rollups,
		clock:    clock,
		metrics:  d.Metrics,
		health:   d.Health,
	}

	s.handle("GET /v1/counts", "counts", s.handleCounts)
	s.handle("POST /v1/counts/{category}/increment", "increment", s.handleIncrement)
	s.handle("POST /v1/counts/{category}/decrement", "decrement", s.handleDecrement)
	s.handle("GET /v1/log", "log", s.handleLog)
	s.handle("GET /v1/location", "location", s.handleGetLocation)
	s.handle("PUT /v1/location", "location", s.handlePutLocation)
	s.handle("POST /v1/rollover", "rollover", s.handleRollover)
	s.handle("POST /v1/rollups/{period}/rebuild", "rebuild", s.handleRebuild)
	s.handle("GET /v1/reports/weekly", "report", s.chartHandler(report.Weekly))
	s.handle("GET /v1/reports/monthly", "report", s.chartHandler(report.Monthly))
	s.handle("GET /v1/reports/yearly", "report", s.chartHandler(report.Yearly))
	s.handle("GET /v1/reports/forecast", "report", s.handleForecast)
	s.handle("GET /v1/reports/breakdown", "report", s.handleBreakdown)
	s.handle("GET /healthz", "healthz", s.handleHealthz)
	mux.Handle("GET /metrics", d.Metrics.Handler())

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) handle(pattern, route string, fn http.HandlerFunc) {
	s.mux.Handle(pattern, s.metrics.WrapHandler(route, fn))
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── Counting ─────────────────────────────────────────────────────────────────

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	st, err := s.counters.Snapshot(r.Context())
	if err != nil {
		s.writeServiceError(w, "counts", err)
		return
	}
	s.respond(w, r, http.StatusOK, s.countsResponse(st))
}

func (s *Server) handleIncrement(w http.ResponseWriter, r *http.Request) {
	s.adjust(w, r, s.counters.Increment)
}

func (s *Server) handleDecrement(w http.ResponseWriter, r *http.Request) {
	s.adjust(w, r, s.counters.Decrement)
}

type adjustFunc func(ctx context.Context, operator string, cat types.Category, delta int) (service.State, error)

func (s *Server) adjust(w http.ResponseWriter, r *http.Request, fn adjustFunc) {
	cat, err := types.ParseCategory(r.PathValue("category"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_category", err.Error())
		return
	}

	req, ok := s.decodeCountRequest(w, r)
	if !ok {
		return
	}

	st, err := fn(r.Context(), req.Operator, cat, req.Delta)
	if err != nil {
		s.writeServiceError(w, "count", err)
		return
	}
	s.respond(w, r, http.StatusOK, s.countsResponse(st))
}

func (s *Server) decodeCountRequest(w http.ResponseWriter, r *http.Request) (types.CountRequest, bool) {
	if isProtobuf(r) {
		req, err := readCountRequestProto(r)
		if errors.Is(err, service.ErrInvalidDelta) {
			s.writeServiceError(w, "count", err)
			return types.CountRequest{}, false
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_protobuf", err.Error())
			return types.CountRequest{}, false
		}
		return req, true
	}

	var req types.CountRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return types.CountRequest{}, false
	}
	return req, true
}

func (s *Server) countsResponse(st service.State) types.CountsResponse {
	return types.CountsResponse{
		OK:         true,
		Period:     st.Period.String(),
		Male:       st.Counts.Male,
		Female:     st.Counts.Female,
		Total:      st.Counts.Total(),
		Location:   st.Location,
		ServerTime: s.clock.Time().Format(time.RFC3339),
	}
}

// ── Activity log and identity ────────────────────────────────────────────────

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	key, snap, err := s.counters.Entries(r.Context())
	if err != nil {
		s.writeServiceError(w, "log", err)
		return
	}

	resp := types.LogResponse{
		Period:  key.String(),
		Entries: make([]types.LogEntryResponse, 0, len(snap.Entries)),
		Skipped: snap.Skipped,
	}
	for _, e := range snap.Entries {
		resp.Entries = append(resp.Entries, types.LogEntryResponse{
			Timestamp: e.At.Format(time.RFC3339),
			Operator:  e.Operator,
			Location:  e.Location,
			Action:    e.Action,
			Total:     e.Total,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := s.counters.Location(r.Context())
	if err != nil {
		s.writeServiceError(w, "location", err)
		return
	}
	writeJSON(w, http.StatusOK, types.LocationResponse{Location: loc})
}

func (s *Server) handlePutLocation(w http.ResponseWriter, r *http.Request) {
	var req types.LocationRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if err := s.counters.SetLocation(r.Context(), req.Location); err != nil {
		s.writeServiceError(w, "location", err)
		return
	}
	writeJSON(w, http.StatusOK, types.LocationResponse{Location: strings.TrimSpace(req.Location)})
}

// ── Rollover ─────────────────────────────────────────────────────────────────

func (s *Server) handleRollover(w http.ResponseWriter, r *http.Request) {
	res, err := s.counters.Rollover(r.Context())
	if err != nil {
		s.writeServiceError(w, "rollover", err)
		return
	}
	resp := types.RolloverResponse{
		To:            res.To.String(),
		Rolled:        res.Rolled,
		RollupWritten: res.RollupWritten,
		Total:         res.Total,
	}
	if !res.From.IsZero() {
		resp.From = res.From.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	key, err := period.Parse(r.PathValue("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_period", err.Error())
		return
	}
	rec, err := s.counters.RebuildRollup(r.Context(), key)
	if err != nil {
		s.writeServiceError(w, "rebuild", err)
		return
	}
	writeJSON(w, http.StatusOK, rollupResponse{Period: rec.Period.String(), Total: rec.Total})
}

type rollupResponse struct {
	Period string `json:"period"`
	Total  int    `json:"total"`
}

// ── Reports ──────────────────────────────────────────────────────────────────

type chartResponse struct {
	Bars []report.Bar `json:"bars"`
}

func (s *Server) chartHandler(chart func([]store.RollupRecord) []report.Bar) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, ok := s.readRollups(w, r)
		if !ok {
			return
		}
		bars := chart(recs)
		if r.URL.Query().Get("format") == "text" {
			writeText(w, http.StatusOK, report.Text(bars))
			return
		}
		writeJSON(w, http.StatusOK, chartResponse{Bars: bars})
	}
}

type forecastResponse struct {
	Weeks []report.Projection `json:"weeks"`
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	n := defaultForecastWeeks
	if v := r.URL.Query().Get("weeks"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > maxForecastWeeks {
			writeError(w, http.StatusBadRequest, "invalid_weeks", "weeks must be between 1 and 52")
			return
		}
		n = parsed
	}

	recs, ok := s.readRollups(w, r)
	if !ok {
		return
	}
	proj, err := report.Forecast(recs, n)
	if err != nil {
		if errors.Is(err, report.ErrNotEnoughData) {
			writeError(w, http.StatusUnprocessableEntity, "not_enough_data", err.Error())
			return
		}
		s.logger.Printf("forecast error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, forecastResponse{Weeks: proj})
}

func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	st, err := s.counters.Snapshot(r.Context())
	if err != nil {
		s.writeServiceError(w, "breakdown", err)
		return
	}
	writeJSON(w, http.StatusOK, report.Breakdown(st.Counts))
}

func (s *Server) readRollups(w http.ResponseWriter, r *http.Request) ([]store.RollupRecord, bool) {
	recs, err := s.rollups.ReadAll(r.Context())
	if err != nil {
		s.logger.Printf("read rollups error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not read rollups")
		return nil, false
	}
	return recs, true
}

// ── Health ───────────────────────────────────────────────────────────────────

type healthResponse struct {
	Status    string `json:"status"`
	Detection string `json:"detection"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	overall, err := s.health.Status(r.Context(), "")
	if err != nil {
		overall = "UNKNOWN"
	}
	detection, err := s.health.Status(r.Context(), health.DetectionService)
	if err != nil {
		detection = "UNKNOWN"
	}

	status := http.StatusOK
	if overall != "SERVING" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{Status: overall, Detection: detection})
}

// ── Errors ───────────────────────────────────────────────────────────────────

func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidOperator):
		writeError(w, http.StatusBadRequest, "invalid_operator", err.Error())
	case errors.Is(err, service.ErrInvalidDelta):
		writeError(w, http.StatusBadRequest, "invalid_delta", err.Error())
	case errors.Is(err, types.ErrInvalidCategory):
		writeError(w, http.StatusBadRequest, "invalid_category", err.Error())
	case errors.Is(err, service.ErrInvalidLocation):
		writeError(w, http.StatusBadRequest, "invalid_location", err.Error())
	case errors.Is(err, service.ErrCountLimit):
		writeError(w, http.StatusConflict, "count_limit", err.Error())
	case errors.Is(err, service.ErrLocationRequired):
		writeError(w, http.StatusConflict, "location_required", err.Error())
	case errors.Is(err, service.ErrOpenPeriod):
		writeError(w, http.StatusConflict, "period_open", err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no activity log for that week")
	case errors.Is(err, service.ErrPersist):
		s.logger.Printf("%s persistence error: %v", op, err)
		writeError(w, http.StatusInternalServerError, "persistence_error", service.ErrPersist.Error())
	default:
		s.logger.Printf("%s error: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}
