// Package fiscal derives a company's fiscal calendar from its filing history.
//
// Fiscal year ends are the period ends of 10-K reports. A 10-Q is labelled by the
// distance from its period end to the fiscal year end it belongs to, which works for
// 52/53-week years and non-December year ends alike.
package fiscal

import (
	"sort"
	"time"

	"edgar_reconciler/pkg/models"
)

// Day-delta ranges from a 10-Q period end to its fiscal year end.
var quarterDeltas = []struct {
	quarter  int
	min, max int
}{
	{3, 70, 120},
	{2, 160, 200},
	{1, 250, 300},
}

// Report is one periodic filing placed on the calendar.
type Report struct {
	AccessionNumber string
	Form            models.FormType
	PeriodEnd       time.Time
	FilingDate      time.Time
	PrimaryDocument string

	// Set by NewCalendar. Quarter is 4 for annual reports and 0 for 10-Qs
	// whose period does not fall on a standard quarter boundary.
	FiscalYear    int
	Quarter       int
	FiscalYearEnd time.Time
}

// Labelled reports whether the report has a fiscal year and quarter.
func (r Report) Labelled() bool {
	return r.FiscalYear > 0 && r.Quarter > 0
}

// Calendar holds a company's labelled reports.
type Calendar struct {
	yearEnds []time.Time // ascending
	reports  []Report    // ascending by period end, 10-K before 10-Q on ties
}

// NewCalendar labels reports against the fiscal year ends found among the annual ones.
func NewCalendar(reports []Report) *Calendar {
	c := &Calendar{}
	seen := make(map[string]bool)
	for _, r := range reports {
		key := r.PeriodEnd.Format(models.DateLayout)
		if r.Form == models.FormAnnual && !r.PeriodEnd.IsZero() && !seen[key] {
			seen[key] = true
			c.yearEnds = append(c.yearEnds, r.PeriodEnd)
		}
	}
	sort.Slice(c.yearEnds, func(i, j int) bool { return c.yearEnds[i].Before(c.yearEnds[j]) })

	for _, r := range reports {
		if r.PeriodEnd.IsZero() {
			continue
		}
		switch r.Form {
		case models.FormAnnual:
			r.FiscalYear = r.PeriodEnd.Year()
			r.Quarter = 4
			r.FiscalYearEnd = r.PeriodEnd
		case models.FormQuarterly:
			r.FiscalYear, r.Quarter, r.FiscalYearEnd = LabelQuarter(r.PeriodEnd, c.yearEnds)
		}
		c.reports = append(c.reports, r)
	}
	sort.SliceStable(c.reports, func(i, j int) bool {
		a, b := c.reports[i], c.reports[j]
		if !a.PeriodEnd.Equal(b.PeriodEnd) {
			return a.PeriodEnd.Before(b.PeriodEnd)
		}
		return a.Form == models.FormAnnual && b.Form != models.FormAnnual
	})
	return c
}

// LabelQuarter assigns a 10-Q to a fiscal year and quarter.
// The matching year end is the earliest one on or after the period end; if the
// period is newer than every known year end, the latest one rolled forward a year
// is used. A period whose distance to the year end is non-standard returns quarter 0.
func LabelQuarter(periodEnd time.Time, yearEnds []time.Time) (fiscalYear, quarter int, yearEnd time.Time) {
	if len(yearEnds) == 0 {
		return 0, 0, time.Time{}
	}

	found := false
	for _, fy := range yearEnds {
		if !fy.Before(periodEnd) {
			yearEnd, found = fy, true
			break
		}
	}
	if !found {
		yearEnd = yearEnds[len(yearEnds)-1].AddDate(1, 0, 0)
	}

	days := DaysBetween(periodEnd, yearEnd)
	for _, d := range quarterDeltas {
		if days >= d.min && days <= d.max {
			return yearEnd.Year(), d.quarter, yearEnd
		}
	}
	return yearEnd.Year(), 0, yearEnd
}

// Find returns the newest report of form labelled with the fiscal year and quarter.
func (c *Calendar) Find(form models.FormType, fiscalYear, quarter int) (Report, bool) {
	for i := len(c.reports) - 1; i >= 0; i-- {
		r := c.reports[i]
		if r.Form == form && r.FiscalYear == fiscalYear && r.Quarter == quarter {
			return r, true
		}
	}
	return Report{}, false
}

// Reports returns the labelled calendar in ascending period order.
func (c *Calendar) Reports() []Report {
	out := make([]Report, len(c.reports))
	copy(out, c.reports)
	return out
}

// YearEnds returns the known fiscal year ends in ascending order.
func (c *Calendar) YearEnds() []time.Time {
	out := make([]time.Time, len(c.yearEnds))
	copy(out, c.yearEnds)
	return out
}

// latestYearEndBefore returns the newest fiscal year end strictly before t.
func (c *Calendar) latestYearEndBefore(t time.Time) (time.Time, bool) {
	for i := len(c.yearEnds) - 1; i >= 0; i-- {
		if c.yearEnds[i].Before(t) {
			return c.yearEnds[i], true
		}
	}
	return time.Time{}, false
}

// latestPeriodEndBefore returns the newest report period end of any form strictly before t.
func (c *Calendar) latestPeriodEndBefore(t time.Time) (time.Time, bool) {
	for i := len(c.reports) - 1; i >= 0; i-- {
		if c.reports[i].PeriodEnd.Before(t) {
			return c.reports[i].PeriodEnd, true
		}
	}
	return time.Time{}, false
}

// DaysBetween counts whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
