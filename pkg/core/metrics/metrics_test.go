package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgar_reconciler/pkg/models"
)

func scrape(t *testing.T, r *Registry) string {
	t.Helper()
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRegistry_Exposition(t *testing.T) {
	r := NewRegistry()
	r.ObserveStage(models.StageFetch, true, 1500*time.Millisecond)
	r.ObserveStage(models.StageLocate, false, time.Millisecond)
	r.ObserveRun(true)
	r.ObserveRun(false)
	r.ObserveRun(false)
	r.AddFacts(models.StageExtract, 812)
	r.AddFacts(models.StageMatch, 0)
	r.CIKLookup("hit")
	r.UpstreamResponse("2xx")
	r.UpstreamResponse("2xx")

	body := scrape(t, r)
	assert.Contains(t, body, `edgar_reconciler_stage_duration_seconds_count{result="ok",stage="fetch"} 1`)
	assert.Contains(t, body, `edgar_reconciler_stage_duration_seconds_count{result="error",stage="locate"} 1`)
	assert.Contains(t, body, `edgar_reconciler_runs_total{result="error"} 2`)
	assert.Contains(t, body, `edgar_reconciler_runs_total{result="ok"} 1`)
	assert.Contains(t, body, `edgar_reconciler_facts_total{stage="extract"} 812`)
	assert.NotContains(t, body, `stage="match"}`)
	assert.Contains(t, body, `edgar_reconciler_cik_lookups_total{result="hit"} 1`)
	assert.Contains(t, body, `edgar_reconciler_upstream_requests_total{status="2xx"} 2`)
}

func TestRegistry_Independent(t *testing.T) {
	a, b := NewRegistry(), NewRegistry()
	a.ObserveRun(true)

	families, err := b.Gatherer().Gather()
	require.NoError(t, err)
	for _, f := range families {
		assert.NotEqual(t, "edgar_reconciler_runs_total", f.GetName())
	}
}
