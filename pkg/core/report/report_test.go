package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgar_reconciler/pkg/models"
)

func sample() *models.Result {
	prior := -8796.0
	ytd := 300.0
	return &models.Result{
		Request: models.Request{Ticker: "AAPL", FiscalYear: 2024, Quarter: 4, FullYear: true},
		Filing: models.Filing{
			Ticker: "AAPL", CompanyName: "Apple Inc.", AccessionNumber: "0000320193-24-000123",
			Form: models.FormAnnual, FiscalYear: 2024, FiscalQuarter: 4, PeriodEnd: time.Date(2024, 9, 28, 0, 0, 0, 0, time.UTC),
		},
		Pairs: []models.MatchedPair{{
			Concept: "us-gaap:PaymentsToAcquirePropertyPlantAndEquipment", Class: models.ClassFullYear,
			AxisKey: "a=b|c=d", VisualCurrent: -9447, VisualPrior: &prior,
			MatchType: models.MatchFuzzy, Confidence: 0.9, Collision: true, SignFlipped: true,
		}},
		Reconciled: []models.ReconciledQuarter{{
			Concept: "us-gaap:Revenues", Method: models.MethodSubtraction,
			FullYearValue: 391035, YTDValue: &ytd, Q4Value: 390735,
		}},
		Incomplete: []models.IncompleteReconciliation{{Concept: "us-gaap:IncomeTaxesPaid", Missing: models.ClassYTD}},
		Metrics:    models.RunMetrics{FactsExtracted: 1200, PairsMatched: 1, MatchRate: 0.875},
	}
}

func TestMarkdown(t *testing.T) {
	out := Markdown(sample())

	assert.True(t, strings.HasPrefix(out, "# Apple Inc.: AAPL 10-K FY2024 full-year reconciliation\n"))
	assert.Contains(t, out, "period ended 2024-09-28")
	assert.Contains(t, out, "| Match rate | 87.5% |")
	assert.Contains(t, out, `| a=b\|c=d |`)
	assert.Contains(t, out, "| -9,447 | -8,796 | fuzzy | 0.90 | collision, sign flipped |")
	assert.Contains(t, out, "| us-gaap:Revenues |  | subtraction | 391,035 | 300 | 390,735 | – |")
	assert.Contains(t, out, "incomplete: no ytd")
	assert.NotContains(t, out, "Prior balance sheet")
}

func TestMarkdown_NamesSourceFilings(t *testing.T) {
	r := sample()
	r.Companion = &models.Filing{AccessionNumber: "q3-24", PeriodEnd: time.Date(2024, 6, 29, 0, 0, 0, 0, time.UTC)}
	r.PriorCompanion = &models.Filing{AccessionNumber: "q3-23"}

	out := Markdown(r)
	assert.Contains(t, out, "Year to date from `q3-24`, period ended 2024-06-29.")
	assert.Contains(t, out, "Prior balance sheet from `q3-23`, period ended unknown.")
}

func TestHTML_RendersTables(t *testing.T) {
	out, err := HTML(sample())
	require.NoError(t, err)
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<h2>Fourth quarter</h2>")
	assert.Contains(t, out, "<td>us-gaap:Revenues</td>")
}

func TestNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{-1234567.5, "-1,234,567.5"},
		{1.4, "1.4"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, number(tt.in))
	}
}
