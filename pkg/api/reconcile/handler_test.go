package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgar_reconciler/pkg/core/lookup"
	"edgar_reconciler/pkg/core/store"
	"edgar_reconciler/pkg/models"
)

type MockRunner struct {
	RunFunc func(ctx context.Context, req models.Request) (*models.Result, error)
}

func (m *MockRunner) Run(ctx context.Context, req models.Request) (*models.Result, error) {
	if m.RunFunc != nil {
		return m.RunFunc(ctx, req)
	}
	return &models.Result{RunID: "run-1", Request: req}, nil
}

type MockLoader struct {
	LoadFunc func(ctx context.Context, req models.Request) (*models.Result, error)
	loaded   []string
}

func (m *MockLoader) Load(ctx context.Context, req models.Request) (*models.Result, error) {
	m.loaded = append(m.loaded, req.Key())
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx, req)
	}
	return nil, fmt.Errorf("%w: %s", store.ErrResultNotFound, req.Key())
}

type MockFinder struct {
	FindFunc func(result *models.Result, metric, dateType string) ([]lookup.MetricMatch, error)
}

func (m *MockFinder) Find(result *models.Result, metric, dateType string) ([]lookup.MetricMatch, error) {
	if m.FindFunc != nil {
		return m.FindFunc(result, metric, dateType)
	}
	return nil, lookup.ErrMetricNotFound
}

func f(v float64) *float64 { return &v }

func storedResult(req models.Request) *models.Result {
	return &models.Result{
		RunID:   "run-7",
		Request: req,
		Filing: models.Filing{
			Ticker: req.Ticker, CompanyName: "Apple Inc.", Form: models.FormQuarterly,
			AccessionNumber: "0000320193-24-000069", FiscalYear: req.FiscalYear, FiscalQuarter: req.Quarter,
		},
		Pairs: []models.MatchedPair{{
			Concept: "us-gaap:Revenues", Class: models.ClassQuarter,
			CurrentValue: 90753, PriorValue: f(94836), VisualCurrent: 90753, VisualPrior: f(94836),
			MatchType: models.MatchExact, Confidence: 1,
		}},
	}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHandleRun(t *testing.T) {
	type testCase struct {
		name           string
		body           string
		runErr         error
		expectedStatus int
		expectedStage  string
		check          func(t *testing.T, got models.Request)
	}

	tests := []testCase{
		{
			name:           "normalized request runs",
			body:           `{"ticker":" aapl ","fiscal_year":2024,"quarter":2,"full_year":true}`,
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, got models.Request) {
				assert.Equal(t, "AAPL", got.Ticker)
				assert.False(t, got.FullYear)
			},
		},
		{
			name:           "quarter out of range",
			body:           `{"ticker":"AAPL","fiscal_year":2024,"quarter":5}`,
			expectedStatus: http.StatusBadRequest,
			expectedStage:  "validate",
		},
		{
			name:           "missing ticker",
			body:           `{"fiscal_year":2024,"quarter":1}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "malformed body",
			body:           `{"ticker":`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "filing not found",
			body:           `{"ticker":"AAPL","fiscal_year":2024,"quarter":1}`,
			runErr:         models.NewRunError(models.StageLocate, models.Request{}, models.ErrFilingNotFound),
			expectedStatus: http.StatusNotFound,
			expectedStage:  "locate",
		},
		{
			name:           "upstream down",
			body:           `{"ticker":"AAPL","fiscal_year":2024,"quarter":1}`,
			runErr:         models.NewRunError(models.StageFetch, models.Request{}, models.ErrUpstreamUnavailable),
			expectedStatus: http.StatusBadGateway,
			expectedStage:  "fetch",
		},
		{
			name:           "no facts",
			body:           `{"ticker":"AAPL","fiscal_year":2024,"quarter":1}`,
			runErr:         models.NewRunError(models.StageExtract, models.Request{}, models.ErrNoFactsExtracted),
			expectedStatus: http.StatusUnprocessableEntity,
			expectedStage:  "extract",
		},
		{
			name:           "unexpected failure",
			body:           `{"ticker":"AAPL","fiscal_year":2024,"quarter":1}`,
			runErr:         errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *models.Request
			runner := &MockRunner{RunFunc: func(ctx context.Context, req models.Request) (*models.Result, error) {
				got = &req
				if tt.runErr != nil {
					return nil, tt.runErr
				}
				return &models.Result{RunID: "run-1", Request: req}, nil
			}}
			h := NewHandler(runner, &MockLoader{}, &MockFinder{}).Router()

			rec := do(t, h, http.MethodPost, "/api/reconcile", tt.body)
			require.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

			body := decode(t, rec)
			if tt.expectedStatus != http.StatusOK {
				assert.NotEmpty(t, body["error"])
				if tt.expectedStage != "" {
					assert.Equal(t, tt.expectedStage, body["stage"])
				}
				return
			}
			assert.Equal(t, "run-1", body["run_id"])
			require.NotNil(t, got)
			tt.check(t, *got)
		})
	}
}

func TestHandleRun_OneRunAtATime(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var mu sync.Mutex
	running, peak := 0, 0

	runner := &MockRunner{RunFunc: func(ctx context.Context, req models.Request) (*models.Result, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		started <- struct{}{}
		<-release
		mu.Lock()
		running--
		mu.Unlock()
		return &models.Result{Request: req}, nil
	}}
	h := NewHandler(runner, &MockLoader{}, &MockFinder{}).Router()

	var wg sync.WaitGroup
	codes := make([]int, 2)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = do(t, h, http.MethodPost, "/api/reconcile", `{"ticker":"AAPL","fiscal_year":2024,"quarter":1}`).Code
		}(i)
	}

	<-started
	select {
	case <-started:
		t.Fatal("second run started while the first was in progress")
	case <-time.After(50 * time.Millisecond):
	}
	release <- struct{}{}
	<-started
	release <- struct{}{}
	wg.Wait()

	assert.Equal(t, []int{http.StatusOK, http.StatusOK}, codes)
	assert.Equal(t, 1, peak)
}

func TestHandleRun_QueueTimeout(t *testing.T) {
	release := make(chan struct{})
	runner := &MockRunner{RunFunc: func(ctx context.Context, req models.Request) (*models.Result, error) {
		<-release
		return &models.Result{Request: req}, nil
	}}
	h := NewHandler(runner, &MockLoader{}, &MockFinder{}, WithRunTimeout(20*time.Millisecond))
	h.runSlot <- struct{}{}
	defer close(release)

	rec := do(t, h.Router(), http.MethodPost, "/api/reconcile", `{"ticker":"AAPL","fiscal_year":2024,"quarter":1}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleGet(t *testing.T) {
	loader := &MockLoader{LoadFunc: func(ctx context.Context, req models.Request) (*models.Result, error) {
		if req.Key() == "AAPL_2024_Q4_FY" {
			return storedResult(req), nil
		}
		return nil, fmt.Errorf("%w: %s", store.ErrResultNotFound, req.Key())
	}}
	h := NewHandler(&MockRunner{}, loader, &MockFinder{}).Router()

	rec := do(t, h, http.MethodGet, "/api/reconcile/aapl/2024/4?full_year=true", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "run-7", decode(t, rec)["run_id"])

	rec = do(t, h, http.MethodGet, "/api/reconcile/AAPL/2024/4", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/reconcile/AAPL/2024/5", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/reconcile/AAPL/2015/1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, []string{"AAPL_2024_Q4_FY", "AAPL_2024_Q4"}, loader.loaded)
}

func TestHandleGet_LoadFailure(t *testing.T) {
	loader := &MockLoader{LoadFunc: func(ctx context.Context, req models.Request) (*models.Result, error) {
		return nil, errors.New("connection reset")
	}}
	rec := do(t, NewHandler(&MockRunner{}, loader, &MockFinder{}).Router(), http.MethodGet, "/api/reconcile/AAPL/2024/1", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestHandleReport(t *testing.T) {
	loader := &MockLoader{LoadFunc: func(ctx context.Context, req models.Request) (*models.Result, error) {
		return storedResult(req), nil
	}}
	h := NewHandler(&MockRunner{}, loader, &MockFinder{}).Router()

	rec := do(t, h, http.MethodGet, "/api/reconcile/report?ticker=AAPL&year=2024&quarter=3", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "<title>AAPL_2024_Q3</title>")
	assert.Contains(t, body, "<table>")
	assert.Contains(t, body, "us-gaap:Revenues")

	rec = do(t, h, http.MethodGet, "/api/reconcile/report?ticker=AAPL&year=x&quarter=3", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleMetric(t *testing.T) {
	loader := &MockLoader{LoadFunc: func(ctx context.Context, req models.Request) (*models.Result, error) {
		return storedResult(req), nil
	}}
	finder := &MockFinder{FindFunc: func(result *models.Result, metric, dateType string) ([]lookup.MetricMatch, error) {
		switch metric {
		case "":
			return nil, lookup.ErrMetricRequired
		case "revenue":
			assert.Equal(t, "Q", dateType)
			return []lookup.MetricMatch{{Metric: "us-gaap:Revenues", DateType: "Q", Current: 90753, Prior: f(94836)}}, nil
		}
		return nil, fmt.Errorf("%w: %q", lookup.ErrMetricNotFound, metric)
	}}
	h := NewHandler(&MockRunner{}, loader, finder).Router()

	rec := do(t, h, http.MethodGet, "/api/metric?ticker=AAPL&year=2024&quarter=2&metric=revenue&date_type=Q", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "0000320193-24-000069", body["accession"])
	matches, ok := body["matches"].([]any)
	require.True(t, ok)
	assert.Len(t, matches, 1)

	rec = do(t, h, http.MethodGet, "/api/metric?ticker=AAPL&year=2024&quarter=2", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/metric?ticker=AAPL&year=2024&quarter=2&metric=ebitda", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "edgar_reconciler_runs_total 0\n")
	})
	h := NewHandler(&MockRunner{}, &MockLoader{}, &MockFinder{}, WithMetricsHandler(metrics)).Router()

	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	rec = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "edgar_reconciler_runs_total")

	rec = do(t, h, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
