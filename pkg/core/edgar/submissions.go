package edgar

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"edgar_reconciler/pkg/models"
)

// SubmissionsResponse from the SEC submissions API.
type SubmissionsResponse struct {
	CIK     string   `json:"cik"`
	Name    string   `json:"name"`
	Tickers []string `json:"tickers"`
	Filings Filings  `json:"filings"`
}

// Filings contains filing information
type Filings struct {
	Recent RecentFilings `json:"recent"`
}

// RecentFilings holds the parallel arrays of the most recent filings.
type RecentFilings struct {
	AccessionNumber []string `json:"accessionNumber"`
	FilingDate      []string `json:"filingDate"`
	ReportDate      []string `json:"reportDate"`
	Form            []string `json:"form"`
	PrimaryDocument []string `json:"primaryDocument"`
}

// FilingRef is one row of a filing listing, from either the submissions feed or the master index.
type FilingRef struct {
	AccessionNumber string
	Form            models.FormType
	FilingDate      time.Time
	ReportDate      time.Time
	PrimaryDocument string
}

// FetchSubmissions loads the submissions feed for a CIK.
func (c *Client) FetchSubmissions(ctx context.Context, cik string) (*SubmissionsResponse, error) {
	url := fmt.Sprintf("%s/submissions/CIK%s.json", c.dataBaseURL, PadCIK(cik))
	body, err := c.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch submissions: %w", err)
	}

	var resp SubmissionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse submissions JSON: %w", err)
	}
	return &resp, nil
}

// Refs zips the parallel arrays into rows for the requested forms, in feed order
// (newest first). Amendments and rows with unparseable dates are skipped.
func (r RecentFilings) Refs(forms ...models.FormType) []FilingRef {
	want := make(map[string]bool, len(forms))
	for _, f := range forms {
		want[string(f)] = true
	}

	n := minLen(len(r.AccessionNumber), len(r.FilingDate), len(r.ReportDate), len(r.Form))
	refs := make([]FilingRef, 0, n)
	for i := 0; i < n; i++ {
		form := strings.TrimSpace(r.Form[i])
		if !want[form] {
			continue
		}
		filed, err := time.Parse(models.DateLayout, r.FilingDate[i])
		if err != nil {
			continue
		}
		reported, err := time.Parse(models.DateLayout, r.ReportDate[i])
		if err != nil {
			continue
		}
		ref := FilingRef{
			AccessionNumber: r.AccessionNumber[i],
			Form:            models.FormType(form),
			FilingDate:      filed,
			ReportDate:      reported,
		}
		if i < len(r.PrimaryDocument) {
			ref.PrimaryDocument = r.PrimaryDocument[i]
		}
		refs = append(refs, ref)
	}
	return refs
}

func minLen(lens ...int) int {
	m := lens[0]
	for _, l := range lens[1:] {
		if l < m {
			m = l
		}
	}
	return m
}

// TickerEntry is one row of company_tickers.json.
type TickerEntry struct {
	CIK    int    `json:"cik_str"`
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
}

// FetchTickerMap loads the full ticker list from SEC as TICKER -> padded CIK.
// Format: {"0": {"cik_str": 320193, "ticker": "AAPL", "title": "Apple Inc."}, ...}
func (c *Client) FetchTickerMap(ctx context.Context) (map[string]string, error) {
	body, err := c.Get(ctx, c.wwwBaseURL+"/files/company_tickers.json")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch company tickers: %w", err)
	}

	var resp map[string]TickerEntry
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse ticker JSON: %w", err)
	}

	tickers := make(map[string]string, len(resp))
	for _, entry := range resp {
		if entry.Ticker == "" {
			continue
		}
		tickers[strings.ToUpper(entry.Ticker)] = fmt.Sprintf("%010d", entry.CIK)
	}
	return tickers, nil
}
