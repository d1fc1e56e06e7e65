package models

import (
	"fmt"
	"strings"
	"time"
)

// FormType is the SEC form of a periodic report.
type FormType string

const (
	FormQuarterly FormType = "10-Q"
	FormAnnual    FormType = "10-K"
)

// DateLayout is the layout SEC uses for every date field we read.
const DateLayout = "2006-01-02"

// Filing identifies the one document a run fetches.
type Filing struct {
	CIK             string    `json:"cik"`
	Ticker          string    `json:"ticker"`
	CompanyName     string    `json:"company_name,omitempty"`
	AccessionNumber string    `json:"accession_number"`
	Form            FormType  `json:"form"`
	FilingDate      time.Time `json:"filing_date"`
	PeriodEnd       time.Time `json:"period_end"`
	FiscalYear      int       `json:"fiscal_year"`
	FiscalQuarter   int       `json:"fiscal_quarter"` // 4 for annual reports
	PrimaryDocument string    `json:"primary_document,omitempty"`
}

// AccessionNoDash is the accession number as it appears in archive paths.
func (f Filing) AccessionNoDash() string {
	return strings.ReplaceAll(f.AccessionNumber, "-", "")
}

// Label is a short human readable identity, e.g. "AAPL 10-Q FY2024 Q2".
func (f Filing) Label() string {
	if f.Form == FormAnnual {
		return fmt.Sprintf("%s %s FY%d", f.Ticker, f.Form, f.FiscalYear)
	}
	return fmt.Sprintf("%s %s FY%d Q%d", f.Ticker, f.Form, f.FiscalYear, f.FiscalQuarter)
}

// Request is the core entry point input.
// The ticker is assumed to be validated against a known-ticker set by the caller.
type Request struct {
	Ticker     string `json:"ticker" validate:"required,max=10"`
	FiscalYear int    `json:"fiscal_year" validate:"required,gte=2019,lte=2100"`
	Quarter    int    `json:"quarter" validate:"required,gte=1,lte=4"`
	FullYear   bool   `json:"full_year"`
	Debug      bool   `json:"debug,omitempty"`
}

// Normalize upper-cases the ticker and clears FullYear for quarters 1-3.
func (r Request) Normalize() Request {
	r.Ticker = strings.ToUpper(strings.TrimSpace(r.Ticker))
	if r.Quarter != 4 {
		r.FullYear = false
	}
	return r
}

// Key is the storage key for a run: TICKER_YYYY_Qn, suffixed _FY in the full-year workflow.
func (r Request) Key() string {
	key := fmt.Sprintf("%s_%d_Q%d", strings.ToUpper(r.Ticker), r.FiscalYear, r.Quarter)
	if r.FullYear {
		key += "_FY"
	}
	return key
}
