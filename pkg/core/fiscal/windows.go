package fiscal

import (
	"time"

	"edgar_reconciler/pkg/models"
)

// Window is an inclusive date range [Start, End].
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Matches reports whether a duration context covers exactly this window.
func (w Window) Matches(start, end time.Time) bool {
	return !w.End.IsZero() && SameDay(w.Start, start) && SameDay(w.End, end)
}

// PeriodWindows are the reference ranges a document's contexts are classified against.
type PeriodWindows struct {
	Form     models.FormType `json:"form"`
	FullYear bool            `json:"full_year"`

	PeriodEnd      time.Time `json:"period_end"`
	PriorPeriodEnd time.Time `json:"prior_period_end"`

	FiscalYearStart      time.Time `json:"fiscal_year_start"`
	PriorFiscalYearStart time.Time `json:"prior_fiscal_year_start"`

	Quarter      Window `json:"quarter"`
	PriorQuarter Window `json:"prior_quarter"`
	YTD          Window `json:"ytd"`
	PriorYTD     Window `json:"prior_ytd"`
	Annual       Window `json:"annual"`
	PriorAnnual  Window `json:"prior_annual"`
}

// Windows computes the classification windows for a report.
//
// The fiscal year starts the day after the latest fiscal year end before the period
// end, and the quarter starts the day after the latest report of any form before it.
// The prior quarter is the same-labelled 10-Q one fiscal year earlier. Each reference
// that the filing history cannot supply falls back to a one-year shift.
//
// fullYear switches an annual report to full-year classification. Without it an
// annual report is read quarterly: the final fiscal quarter as the quarter and the
// whole fiscal year as the year-to-date.
func (c *Calendar) Windows(r Report, fullYear bool) PeriodWindows {
	end := r.PeriodEnd
	w := PeriodWindows{
		Form:      r.Form,
		FullYear:  fullYear && r.Form == models.FormAnnual,
		PeriodEnd: end,
	}

	priorYearEnd, ok := c.latestYearEndBefore(end)
	if !ok {
		priorYearEnd = end.AddDate(-1, 0, 0)
	}
	w.FiscalYearStart = nextDay(priorYearEnd)

	if pp, ok := c.latestYearEndBefore(priorYearEnd); ok {
		w.PriorFiscalYearStart = nextDay(pp)
	} else {
		w.PriorFiscalYearStart = w.FiscalYearStart.AddDate(-1, 0, 0)
	}

	quarterStart := c.quarterStart(end)

	var priorEnd, priorQuarterStart time.Time
	if r.Form == models.FormAnnual {
		priorEnd = priorYearEnd
	} else if prev, ok := c.Find(models.FormQuarterly, r.FiscalYear-1, r.Quarter); ok && r.Labelled() {
		priorEnd = prev.PeriodEnd
	}
	if priorEnd.IsZero() {
		priorEnd = end.AddDate(-1, 0, 0)
	}
	if pe, ok := c.latestPeriodEndBefore(priorEnd); ok && DaysBetween(pe, priorEnd) <= 120 {
		priorQuarterStart = nextDay(pe)
	} else {
		priorQuarterStart = quarterStart.AddDate(-1, 0, 0)
	}
	w.PriorPeriodEnd = priorEnd

	w.Quarter = Window{Start: quarterStart, End: end}
	w.PriorQuarter = Window{Start: priorQuarterStart, End: priorEnd}
	w.YTD = Window{Start: w.FiscalYearStart, End: end}
	w.PriorYTD = Window{Start: w.PriorFiscalYearStart, End: priorEnd}

	if r.Form == models.FormAnnual {
		w.Annual = w.YTD
		w.PriorAnnual = w.PriorYTD
	}
	return w
}

// quarterStart is the day after the latest report before end. With no earlier
// report it is the first of the month 90 days back.
func (c *Calendar) quarterStart(end time.Time) time.Time {
	if pe, ok := c.latestPeriodEndBefore(end); ok && DaysBetween(pe, end) <= 120 {
		return nextDay(pe)
	}
	back := end.AddDate(0, 0, -90)
	return time.Date(back.Year(), back.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func nextDay(t time.Time) time.Time {
	return t.AddDate(0, 0, 1)
}

// SameDay compares calendar dates, ignoring time of day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
