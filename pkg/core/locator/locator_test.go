package locator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgar_reconciler/pkg/core/edgar"
	"edgar_reconciler/pkg/models"
)

type MockResolver struct {
	ResolveFunc func(ctx context.Context, ticker string) (string, error)
}

func (m *MockResolver) Resolve(ctx context.Context, ticker string) (string, error) {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, ticker)
	}
	return "0000320193", nil
}

type MockLister struct {
	FetchSubmissionsFunc func(ctx context.Context, cik string) (*edgar.SubmissionsResponse, error)
	FetchMasterIndexFunc func(ctx context.Context, year, quarter int) ([]edgar.MasterIndexEntry, error)
	masterCalls          int
}

func (m *MockLister) FetchSubmissions(ctx context.Context, cik string) (*edgar.SubmissionsResponse, error) {
	if m.FetchSubmissionsFunc != nil {
		return m.FetchSubmissionsFunc(ctx, cik)
	}
	return &edgar.SubmissionsResponse{}, nil
}

func (m *MockLister) FetchMasterIndex(ctx context.Context, year, quarter int) ([]edgar.MasterIndexEntry, error) {
	m.masterCalls++
	if m.FetchMasterIndexFunc != nil {
		return m.FetchMasterIndexFunc(ctx, year, quarter)
	}
	return nil, &edgar.StatusError{URL: "master.gz", Code: http.StatusNotFound}
}

type row struct {
	accession, form, filed, reported string
}

// appleRecent is a September fiscal year feed, newest first.
func appleRecent() *edgar.SubmissionsResponse {
	rows := []row{
		{"k24", "10-K", "2024-11-01", "2024-09-28"},
		{"q3-24", "10-Q", "2024-08-02", "2024-06-29"},
		{"8k", "8-K", "2024-05-30", "2024-05-30"},
		{"q2-24", "10-Q", "2024-05-03", "2024-03-30"},
		{"q1-24", "10-Q", "2024-02-02", "2023-12-30"},
		{"k23", "10-K", "2023-11-03", "2023-09-30"},
		{"q3-23", "10-Q", "2023-08-04", "2023-07-01"},
		{"q2-23", "10-Q", "2023-05-05", "2023-04-01"},
		{"q1-23", "10-Q", "2023-02-03", "2022-12-31"},
		{"k22", "10-K", "2022-10-28", "2022-09-24"},
	}
	resp := &edgar.SubmissionsResponse{CIK: "320193", Name: "Apple Inc."}
	r := &resp.Filings.Recent
	for _, row := range rows {
		r.AccessionNumber = append(r.AccessionNumber, row.accession)
		r.Form = append(r.Form, row.form)
		r.FilingDate = append(r.FilingDate, row.filed)
		r.ReportDate = append(r.ReportDate, row.reported)
		r.PrimaryDocument = append(r.PrimaryDocument, row.accession+".htm")
	}
	return resp
}

func date(s string) time.Time {
	t, _ := time.Parse(models.DateLayout, s)
	return t
}

func shallow() Option {
	return WithConfig(Config{N10Q: 6, N10K: 3, MasterIndexFallback: true})
}

func TestLocate(t *testing.T) {
	type testCase struct {
		name          string
		req           models.Request
		submissions   func() (*edgar.SubmissionsResponse, error)
		expectedError error
		check         func(t *testing.T, res *Resolution)
	}

	tests := []testCase{
		{
			name:        "quarterly filing",
			req:         models.Request{Ticker: "aapl", FiscalYear: 2024, Quarter: 2},
			submissions: func() (*edgar.SubmissionsResponse, error) { return appleRecent(), nil },
			check: func(t *testing.T, res *Resolution) {
				assert.Equal(t, "q2-24", res.Filing.AccessionNumber)
				assert.Equal(t, "AAPL", res.Filing.Ticker)
				assert.Equal(t, "Apple Inc.", res.Filing.CompanyName)
				assert.Equal(t, "0000320193", res.Filing.CIK)
				assert.Equal(t, 2, res.Filing.FiscalQuarter)
				assert.Equal(t, "q2-24.htm", res.Filing.PrimaryDocument)
				assert.True(t, date("2023-10-01").Equal(res.Windows.YTD.Start))
				assert.Nil(t, res.Companion)

				require.NotNil(t, res.PriorCompanion)
				assert.Equal(t, "q2-23", res.PriorCompanion.AccessionNumber)
				require.NotNil(t, res.PriorCompanionWindows)
				assert.True(t, date("2023-04-01").Equal(res.PriorCompanionWindows.PeriodEnd))
			},
		},
		{
			name:        "no prior-year 10-Q in history",
			req:         models.Request{Ticker: "AAPL", FiscalYear: 2023, Quarter: 1},
			submissions: func() (*edgar.SubmissionsResponse, error) { return appleRecent(), nil },
			check: func(t *testing.T, res *Resolution) {
				assert.Equal(t, "q1-23", res.Filing.AccessionNumber)
				assert.Nil(t, res.PriorCompanion)
				assert.Nil(t, res.PriorCompanionWindows)
			},
		},
		{
			name:        "fourth quarter without full year reads the 10-K quarterly",
			req:         models.Request{Ticker: "AAPL", FiscalYear: 2024, Quarter: 4},
			submissions: func() (*edgar.SubmissionsResponse, error) { return appleRecent(), nil },
			check: func(t *testing.T, res *Resolution) {
				assert.Equal(t, "k24", res.Filing.AccessionNumber)
				assert.False(t, res.Windows.FullYear)
				assert.Nil(t, res.Companion)
				assert.Nil(t, res.PriorCompanion)
			},
		},
		{
			name:        "full year carries the Q3 companion",
			req:         models.Request{Ticker: "AAPL", FiscalYear: 2024, Quarter: 4, FullYear: true},
			submissions: func() (*edgar.SubmissionsResponse, error) { return appleRecent(), nil },
			check: func(t *testing.T, res *Resolution) {
				assert.Equal(t, "k24", res.Filing.AccessionNumber)
				assert.True(t, res.Windows.FullYear)
				require.NotNil(t, res.Companion)
				assert.Equal(t, "q3-24", res.Companion.AccessionNumber)
				require.NotNil(t, res.CompanionWindows)
				assert.False(t, res.CompanionWindows.FullYear)
				assert.True(t, date("2023-10-01").Equal(res.CompanionWindows.YTD.Start))
			},
		},
		{
			name:          "fiscal year not in history",
			req:           models.Request{Ticker: "AAPL", FiscalYear: 2021, Quarter: 2},
			submissions:   func() (*edgar.SubmissionsResponse, error) { return appleRecent(), nil },
			expectedError: models.ErrFilingNotFound,
		},
		{
			name: "full year without Q3",
			req:  models.Request{Ticker: "AAPL", FiscalYear: 2024, Quarter: 4, FullYear: true},
			submissions: func() (*edgar.SubmissionsResponse, error) {
				resp := appleRecent()
				resp.Filings.Recent.Form[1] = "10-Q/A"
				return resp, nil
			},
			expectedError: models.ErrFilingNotFound,
		},
		{
			name: "unknown CIK",
			req:  models.Request{Ticker: "AAPL", FiscalYear: 2024, Quarter: 2},
			submissions: func() (*edgar.SubmissionsResponse, error) {
				return nil, fmt.Errorf("failed to fetch submissions: %w", &edgar.StatusError{Code: http.StatusNotFound})
			},
			expectedError: models.ErrFilingNotFound,
		},
		{
			name: "SEC unreachable",
			req:  models.Request{Ticker: "AAPL", FiscalYear: 2024, Quarter: 2},
			submissions: func() (*edgar.SubmissionsResponse, error) {
				return nil, &edgar.StatusError{Code: http.StatusForbidden}
			},
			expectedError: models.ErrUpstreamUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lister := &MockLister{
				FetchSubmissionsFunc: func(ctx context.Context, cik string) (*edgar.SubmissionsResponse, error) {
					assert.Equal(t, "0000320193", cik)
					return tt.submissions()
				},
			}
			loc := New(&MockResolver{}, lister, shallow())

			res, err := loc.Locate(context.Background(), tt.req)
			if tt.expectedError != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.expectedError), "got %v", err)
				return
			}
			require.NoError(t, err)
			tt.check(t, res)
			assert.Zero(t, lister.masterCalls)
		})
	}
}

func TestLocate_ResolverErrorPassesThrough(t *testing.T) {
	resolver := &MockResolver{ResolveFunc: func(ctx context.Context, ticker string) (string, error) {
		return "", fmt.Errorf("%w: ticker %s", models.ErrFilingNotFound, ticker)
	}}
	_, err := New(resolver, &MockLister{}).Locate(context.Background(), models.Request{Ticker: "ZZZZ", FiscalYear: 2024, Quarter: 1})
	assert.ErrorIs(t, err, models.ErrFilingNotFound)
}

func TestLocate_MasterIndexFallback(t *testing.T) {
	index := map[string][]edgar.MasterIndexEntry{
		"2023Q4": {
			{CIK: "320193", Form: "10-K", DateFiled: date("2023-11-03"), AccessionNumber: "k23"},
			{CIK: "789019", Form: "10-Q", DateFiled: date("2023-10-24"), AccessionNumber: "other"},
		},
		"2024Q1": {{CIK: "320193", Form: "10-Q", DateFiled: date("2024-02-02"), AccessionNumber: "q1"}},
		"2024Q2": {{CIK: "320193", Form: "10-Q", DateFiled: date("2024-05-03"), AccessionNumber: "q2"}},
		"2024Q3": {
			{CIK: "320193", Form: "10-Q", DateFiled: date("2024-08-02"), AccessionNumber: "q3"},
			{CIK: "320193", Form: "8-K", DateFiled: date("2024-08-01"), AccessionNumber: "8k"},
		},
		"2024Q4": {{CIK: "320193", Form: "10-K", DateFiled: date("2024-11-01"), AccessionNumber: "k24"}},
	}

	var requested []string
	lister := &MockLister{
		FetchMasterIndexFunc: func(ctx context.Context, year, quarter int) ([]edgar.MasterIndexEntry, error) {
			key := fmt.Sprintf("%dQ%d", year, quarter)
			requested = append(requested, key)
			if entries, ok := index[key]; ok {
				return entries, nil
			}
			return nil, fmt.Errorf("failed to fetch master index: %w", &edgar.StatusError{Code: http.StatusNotFound})
		},
	}

	loc := New(&MockResolver{}, lister,
		WithConfig(Config{N10Q: 4, N10K: 2, MasterIndexFallback: true}),
		withClock(func() time.Time { return date("2024-12-15") }),
	)
	res, err := loc.Locate(context.Background(), models.Request{Ticker: "AAPL", FiscalYear: 2024, Quarter: 3})
	require.NoError(t, err)

	assert.Equal(t, "q3", res.Filing.AccessionNumber)
	assert.Equal(t, 3, res.Filing.FiscalQuarter)
	assert.True(t, date("2024-08-02").Equal(res.Filing.PeriodEnd))
	assert.Len(t, requested, 8, "2023 and 2024 scanned, 2025 not yet published")
}

func TestLocate_MasterIndexOutageFails(t *testing.T) {
	lister := &MockLister{
		FetchMasterIndexFunc: func(ctx context.Context, year, quarter int) ([]edgar.MasterIndexEntry, error) {
			return nil, fmt.Errorf("%w: 503", models.ErrUpstreamUnavailable)
		},
	}
	loc := New(&MockResolver{}, lister, withClock(func() time.Time { return date("2024-12-15") }))
	_, err := loc.Locate(context.Background(), models.Request{Ticker: "AAPL", FiscalYear: 2024, Quarter: 3})
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
	assert.Equal(t, 1, lister.masterCalls)
}

func TestLimit(t *testing.T) {
	loc := New(&MockResolver{}, &MockLister{}, WithConfig(Config{N10Q: 2, N10K: 1}))
	refs := appleRecent().Filings.Recent.Refs(models.FormQuarterly, models.FormAnnual)

	got := loc.limit(refs, 2024)
	var ids []string
	for _, r := range got {
		ids = append(ids, r.AccessionNumber)
	}
	assert.Equal(t, []string{"k24", "q3-24", "q2-24"}, ids)

	old := loc.limit(refs, 2021)
	require.Len(t, old, 2)
	assert.Equal(t, "q1-23", old[0].AccessionNumber)
	assert.Equal(t, "k22", old[1].AccessionNumber)
}
