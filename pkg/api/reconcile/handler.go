// Package reconcile serves reconciliation runs, stored results, reports and metric
// lookups over HTTP.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"edgar_reconciler/pkg/core/lookup"
	"edgar_reconciler/pkg/core/report"
	"edgar_reconciler/pkg/core/store"
	"edgar_reconciler/pkg/models"
)

// Runner executes one reconciliation. *pipeline.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, req models.Request) (*models.Result, error)
}

// ResultLoader reads stored runs. *store.ResultStore implements it.
type ResultLoader interface {
	Load(ctx context.Context, req models.Request) (*models.Result, error)
}

// MetricFinder answers metric queries against a result. *lookup.Finder implements it.
type MetricFinder interface {
	Find(result *models.Result, metric, dateType string) ([]lookup.MetricMatch, error)
}

type Handler struct {
	runner   Runner
	results  ResultLoader
	finder   MetricFinder
	metrics  http.Handler
	validate *validator.Validate
	logger   zerolog.Logger
	timeout  time.Duration

	// runSlot admits one run at a time; runs are bound by the SEC request rate.
	runSlot chan struct{}
}

type Option func(*Handler)

func WithLogger(l zerolog.Logger) Option {
	return func(h *Handler) { h.logger = l.With().Str("component", "api").Logger() }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithRunTimeout bounds a single POST /api/reconcile, queueing included.
func WithRunTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

func NewHandler(runner Runner, results ResultLoader, finder MetricFinder, opts ...Option) *Handler {
	h := &Handler{
		runner:   runner,
		results:  results,
		finder:   finder,
		validate: validator.New(),
		logger:   zerolog.Nop(),
		timeout:  5 * time.Minute,
		runSlot:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router returns a router with every endpoint registered.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.requestID, h.logRequests)

	r.HandleFunc("/healthz", h.HandleHealth).Methods(http.MethodGet)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/reconcile", h.HandleRun).Methods(http.MethodPost)
	api.HandleFunc("/reconcile/report", h.HandleReport).Methods(http.MethodGet)
	api.HandleFunc("/reconcile/{ticker}/{year:[0-9]{4}}/{quarter:[1-4]}", h.HandleGet).Methods(http.MethodGet)
	api.HandleFunc("/metric", h.HandleMetric).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "no such endpoint", "")
	})
	return r
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleRun handles POST /api/reconcile.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req models.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	req = req.Normalize()
	if err := h.check(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), string(models.StageValidate))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	select {
	case h.runSlot <- struct{}{}:
		defer func() { <-h.runSlot }()
	case <-ctx.Done():
		writeError(w, http.StatusServiceUnavailable, "another reconciliation is running", "")
		return
	}

	result, err := h.runner.Run(ctx, req)
	if err != nil {
		status, stage := runStatus(err)
		h.logger.Warn().Err(err).Int("status", status).Msg("reconciliation failed")
		writeError(w, status, err.Error(), stage)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleGet handles GET /api/reconcile/{ticker}/{year}/{quarter}?full_year=true.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	year, _ := strconv.Atoi(vars["year"])
	quarter, _ := strconv.Atoi(vars["quarter"])
	req := models.Request{
		Ticker:     vars["ticker"],
		FiscalYear: year,
		Quarter:    quarter,
		FullYear:   queryBool(r, "full_year"),
	}.Normalize()

	result, ok := h.load(w, r, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleReport handles GET /api/reconcile/report?ticker=&year=&quarter=[&full_year=true].
func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	req, err := requestFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	result, ok := h.load(w, r, req)
	if !ok {
		return
	}

	page, err := report.HTML(result)
	if err != nil {
		h.logger.Error().Err(err).Msg("report rendering failed")
		writeError(w, http.StatusInternalServerError, "report rendering failed", "")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%s</title></head><body>\n%s</body></html>\n",
		html.EscapeString(req.Key()), page)
}

// HandleMetric handles GET /api/metric?ticker=&year=&quarter=&metric=[&date_type=][&full_year=true].
func (h *Handler) HandleMetric(w http.ResponseWriter, r *http.Request) {
	req, err := requestFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	result, ok := h.load(w, r, req)
	if !ok {
		return
	}

	q := r.URL.Query()
	matches, err := h.finder.Find(result, q.Get("metric"), q.Get("date_type"))
	switch {
	case errors.Is(err, lookup.ErrMetricRequired):
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	case errors.Is(err, lookup.ErrMetricNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ticker":      req.Ticker,
		"fiscal_year": req.FiscalYear,
		"quarter":     req.Quarter,
		"accession":   result.Filing.AccessionNumber,
		"matches":     matches,
	})
}

func (h *Handler) check(req models.Request) error {
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed on %s", models.ErrInvalidRequest, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	return nil
}

// load writes the error response itself and reports whether the caller should go on.
func (h *Handler) load(w http.ResponseWriter, r *http.Request, req models.Request) (*models.Result, bool) {
	if err := h.check(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return nil, false
	}
	result, err := h.results.Load(r.Context(), req)
	if errors.Is(err, store.ErrResultNotFound) {
		writeError(w, http.StatusNotFound, err.Error(), "")
		return nil, false
	}
	if err != nil {
		h.logger.Error().Err(err).Str("key", req.Key()).Msg("failed to load result")
		writeError(w, http.StatusInternalServerError, "failed to load result", "")
		return nil, false
	}
	return result, true
}

func requestFromQuery(r *http.Request) (models.Request, error) {
	q := r.URL.Query()
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil {
		return models.Request{}, fmt.Errorf("year must be a number")
	}
	quarter, err := strconv.Atoi(q.Get("quarter"))
	if err != nil {
		return models.Request{}, fmt.Errorf("quarter must be a number")
	}
	return models.Request{
		Ticker:     q.Get("ticker"),
		FiscalYear: year,
		Quarter:    quarter,
		FullYear:   queryBool(r, "full_year"),
	}.Normalize(), nil
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

// runStatus maps a pipeline failure to an HTTP status and the failing stage.
func runStatus(err error) (int, string) {
	var runErr *models.RunError
	stage := ""
	if errors.As(err, &runErr) {
		stage = string(runErr.Stage)
	}
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest, stage
	case errors.Is(err, models.ErrFilingNotFound), errors.Is(err, models.ErrNoDocumentFound):
		return http.StatusNotFound, stage
	case errors.Is(err, models.ErrNoFactsExtracted):
		return http.StatusUnprocessableEntity, stage
	case errors.Is(err, models.ErrUpstreamUnavailable):
		return http.StatusBadGateway, stage
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, stage
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, stage
	}
	return http.StatusInternalServerError, stage
}

type errorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg, stage string) {
	writeJSON(w, status, errorResponse{Error: msg, Stage: stage})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type requestIDKey struct{}

func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()[:8]
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		id, _ := r.Context().Value(requestIDKey{}).(string)
		ev := h.logger.Info()
		if sw.status >= 500 {
			ev = h.logger.Warn()
		}
		if strings.HasPrefix(r.URL.Path, "/metrics") || r.URL.Path == "/healthz" {
			ev = h.logger.Debug()
		}
		ev.Str("request_id", id).Str("method", r.Method).Str("path", r.URL.Path).
			Int("status", sw.status).Dur("took", time.Since(start)).Msg("request")
	})
}
