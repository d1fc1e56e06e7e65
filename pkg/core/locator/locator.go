// Package locator finds the filing that answers a reconciliation request.
package locator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"edgar_reconciler/pkg/core/edgar"
	"edgar_reconciler/pkg/core/fiscal"
	"edgar_reconciler/pkg/models"
)

// Scan depth defaults.
const (
	DefaultN10Q = 12
	DefaultN10K = 4
)

// CIKResolver maps a ticker to a zero-padded CIK.
type CIKResolver interface {
	Resolve(ctx context.Context, ticker string) (string, error)
}

// FilingLister lists a company's filings. *edgar.Client implements it.
type FilingLister interface {
	FetchSubmissions(ctx context.Context, cik string) (*edgar.SubmissionsResponse, error)
	FetchMasterIndex(ctx context.Context, year, quarter int) ([]edgar.MasterIndexEntry, error)
}

// Config bounds how far back the locator looks.
type Config struct {
	N10Q int `mapstructure:"n_10q" validate:"gte=1"`
	N10K int `mapstructure:"n_10k" validate:"gte=1"`
	// MasterIndexFallback scans quarterly master indexes when the recent feed is too short.
	MasterIndexFallback bool `mapstructure:"master_index_fallback"`
}

func DefaultConfig() Config {
	return Config{N10Q: DefaultN10Q, N10K: DefaultN10K, MasterIndexFallback: true}
}

// Resolution is the located filing plus everything needed to classify its facts.
type Resolution struct {
	Filing   models.Filing
	Windows  fiscal.PeriodWindows
	Calendar *fiscal.Calendar

	// Set in the full-year workflow: the same fiscal year's Q3 10-Q.
	Companion        *models.Filing
	CompanionWindows *fiscal.PeriodWindows

	// Set for 10-Q targets when the history has the same quarter one fiscal year
	// earlier. Its current-period instants and year-to-date facts are the target's
	// prior side.
	PriorCompanion        *models.Filing
	PriorCompanionWindows *fiscal.PeriodWindows
}

type Locator struct {
	resolver CIKResolver
	lister   FilingLister
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time
}

type Option func(*Locator)

func WithLogger(l zerolog.Logger) Option {
	return func(loc *Locator) { loc.logger = l.With().Str("component", "locator").Logger() }
}

func WithConfig(cfg Config) Option {
	return func(loc *Locator) {
		if cfg.N10Q > 0 {
			loc.cfg.N10Q = cfg.N10Q
		}
		if cfg.N10K > 0 {
			loc.cfg.N10K = cfg.N10K
		}
		loc.cfg.MasterIndexFallback = cfg.MasterIndexFallback
	}
}

func withClock(now func() time.Time) Option {
	return func(loc *Locator) { loc.now = now }
}

func New(resolver CIKResolver, lister FilingLister, opts ...Option) *Locator {
	loc := &Locator{
		resolver: resolver,
		lister:   lister,
		cfg:      DefaultConfig(),
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(loc)
	}
	return loc
}

// Locate resolves the request to a filing. A request with no matching filing
// fails with models.ErrFilingNotFound and is not retried.
func (l *Locator) Locate(ctx context.Context, req models.Request) (*Resolution, error) {
	req = req.Normalize()

	cik, err := l.resolver.Resolve(ctx, req.Ticker)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", req.Ticker, err)
	}

	subs, err := l.lister.FetchSubmissions(ctx, cik)
	if err != nil {
		return nil, upstreamErr(err)
	}

	refs := l.limit(subs.Filings.Recent.Refs(models.FormQuarterly, models.FormAnnual), req.FiscalYear)
	if l.cfg.MasterIndexFallback && l.short(refs) {
		fallback, err := l.scanMasterIndex(ctx, cik, req.FiscalYear)
		if err != nil {
			return nil, err
		}
		if len(fallback) > 0 {
			l.logger.Info().Str("ticker", req.Ticker).Int("recent", len(refs)).Int("master_index", len(fallback)).
				Msg("recent feed too short, using master index listing")
			refs = l.limit(fallback, req.FiscalYear)
		}
	}

	cal := fiscal.NewCalendar(toReports(refs))

	form, quarter := models.FormQuarterly, req.Quarter
	if req.Quarter == 4 {
		form = models.FormAnnual
	}
	report, ok := cal.Find(form, req.FiscalYear, quarter)
	if !ok {
		return nil, fmt.Errorf("%w: no %s for %s FY%d Q%d among %d filings",
			models.ErrFilingNotFound, form, req.Ticker, req.FiscalYear, req.Quarter, len(refs))
	}

	res := &Resolution{
		Filing:   toFiling(report, cik, req.Ticker, subs.Name),
		Windows:  cal.Windows(report, req.FullYear),
		Calendar: cal,
	}

	if req.FullYear {
		q3, ok := cal.Find(models.FormQuarterly, req.FiscalYear, 3)
		if !ok {
			return nil, fmt.Errorf("%w: full-year reconciliation of %s FY%d needs the Q3 10-Q",
				models.ErrFilingNotFound, req.Ticker, req.FiscalYear)
		}
		companion := toFiling(q3, cik, req.Ticker, subs.Name)
		w := cal.Windows(q3, false)
		res.Companion = &companion
		res.CompanionWindows = &w
	}

	if form == models.FormQuarterly {
		if prev, ok := cal.Find(models.FormQuarterly, req.FiscalYear-1, quarter); ok {
			prior := toFiling(prev, cik, req.Ticker, subs.Name)
			w := cal.Windows(prev, false)
			res.PriorCompanion = &prior
			res.PriorCompanionWindows = &w
		} else {
			l.logger.Debug().Str("ticker", req.Ticker).Int("fiscal_year", req.FiscalYear-1).Int("quarter", quarter).
				Msg("no prior-year 10-Q, prior side comes from the target filing only")
		}
	}

	l.logger.Debug().
		Str("filing", res.Filing.Label()).
		Str("accession", res.Filing.AccessionNumber).
		Time("period_end", res.Filing.PeriodEnd).
		Msg("filing located")
	return res, nil
}

// limit keeps the newest N10Q quarterly and N10K annual reports whose report year
// is at most one past the requested fiscal year.
func (l *Locator) limit(refs []edgar.FilingRef, fiscalYear int) []edgar.FilingRef {
	sorted := make([]edgar.FilingRef, len(refs))
	copy(sorted, refs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ReportDate.After(sorted[j].ReportDate) })

	var out []edgar.FilingRef
	seen := make(map[string]bool)
	nq, nk := 0, 0
	for _, r := range sorted {
		if r.ReportDate.Year() > fiscalYear+1 || seen[r.AccessionNumber] {
			continue
		}
		switch r.Form {
		case models.FormQuarterly:
			if nq >= l.cfg.N10Q {
				continue
			}
			nq++
		case models.FormAnnual:
			if nk >= l.cfg.N10K {
				continue
			}
			nk++
		default:
			continue
		}
		seen[r.AccessionNumber] = true
		out = append(out, r)
	}
	return out
}

func (l *Locator) short(refs []edgar.FilingRef) bool {
	nq, nk := 0, 0
	for _, r := range refs {
		if r.Form == models.FormAnnual {
			nk++
		} else {
			nq++
		}
	}
	return nq < l.cfg.N10Q || nk < l.cfg.N10K
}

// scanMasterIndex reads the quarterly indexes for fiscalYear-(N10K-1) through
// fiscalYear+1. Quarters not yet published are skipped.
func (l *Locator) scanMasterIndex(ctx context.Context, cik string, fiscalYear int) ([]edgar.FilingRef, error) {
	now := l.now()
	var refs []edgar.FilingRef
	for year := fiscalYear - (l.cfg.N10K - 1); year <= fiscalYear+1; year++ {
		for q := 1; q <= 4; q++ {
			if time.Date(year, time.Month(3*(q-1)+1), 1, 0, 0, 0, 0, time.UTC).After(now) {
				continue
			}
			entries, err := l.lister.FetchMasterIndex(ctx, year, q)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				if errors.Is(err, models.ErrUpstreamUnavailable) && !edgar.IsNotFound(err) {
					return nil, err
				}
				l.logger.Warn().Err(err).Int("year", year).Int("quarter", q).Msg("master index unavailable, skipping")
				continue
			}
			refs = append(refs, edgar.FilterMasterIndex(entries, cik)...)
		}
	}
	return refs, nil
}

func toReports(refs []edgar.FilingRef) []fiscal.Report {
	reports := make([]fiscal.Report, 0, len(refs))
	for _, r := range refs {
		reports = append(reports, fiscal.Report{
			AccessionNumber: r.AccessionNumber,
			Form:            r.Form,
			PeriodEnd:       r.ReportDate,
			FilingDate:      r.FilingDate,
			PrimaryDocument: r.PrimaryDocument,
		})
	}
	return reports
}

func toFiling(r fiscal.Report, cik, ticker, company string) models.Filing {
	return models.Filing{
		CIK:             cik,
		Ticker:          ticker,
		CompanyName:     company,
		AccessionNumber: r.AccessionNumber,
		Form:            r.Form,
		FilingDate:      r.FilingDate,
		PeriodEnd:       r.PeriodEnd,
		FiscalYear:      r.FiscalYear,
		FiscalQuarter:   r.Quarter,
		PrimaryDocument: r.PrimaryDocument,
	}
}

// upstreamErr classifies a submissions failure. An unknown CIK is a missing filing;
// anything else means SEC could not be reached.
func upstreamErr(err error) error {
	switch {
	case edgar.IsNotFound(err):
		return fmt.Errorf("%w: %v", models.ErrFilingNotFound, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, models.ErrUpstreamUnavailable):
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
}
