// Package report renders a run as Markdown or HTML.
package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"edgar_reconciler/pkg/core/lookup"
	"edgar_reconciler/pkg/models"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Markdown renders the metrics header, the matched pairs and, for full-year
// runs, the derived fourth quarter.
func Markdown(r *models.Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", title(r))
	fmt.Fprintf(&b, "Accession `%s`, period ended %s.\n\n", r.Filing.AccessionNumber, date(r.Filing))
	if r.Companion != nil {
		fmt.Fprintf(&b, "Year to date from `%s`, period ended %s.\n\n", r.Companion.AccessionNumber, date(*r.Companion))
	}
	if r.PriorCompanion != nil {
		fmt.Fprintf(&b, "Prior balance sheet from `%s`, period ended %s.\n\n", r.PriorCompanion.AccessionNumber, date(*r.PriorCompanion))
	}

	m := r.Metrics
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Facts extracted | %d |\n", m.FactsExtracted)
	fmt.Fprintf(&b, "| Facts skipped | %d |\n", m.FactsSkipped)
	fmt.Fprintf(&b, "| Pairs matched | %d |\n", m.PairsMatched)
	fmt.Fprintf(&b, "| Pairs unmatched | %d |\n", m.PairsUnmatched)
	fmt.Fprintf(&b, "| Match rate | %.1f%% |\n", m.MatchRate*100)
	fmt.Fprintf(&b, "| Collisions | %d |\n", m.Collisions)
	fmt.Fprintf(&b, "| Value collisions | %d |\n", m.ValueCollisions)
	fmt.Fprintf(&b, "| Sign flips | %d |\n", m.SignFlipped)
	fmt.Fprintf(&b, "| Elapsed | %s |\n\n", m.Elapsed.Round(time.Millisecond))

	b.WriteString("## Pairs\n\n")
	b.WriteString("| Concept | Period | Axes | Current | Prior | Match | Confidence | Flags |\n")
	b.WriteString("|---|---|---|--:|--:|---|--:|---|\n")
	for _, p := range r.Pairs {
		prior := "–"
		if p.VisualPrior != nil {
			prior = number(*p.VisualPrior)
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %.2f | %s |\n",
			cell(p.Concept), lookup.DateType(p.Class), cell(p.AxisKey),
			number(p.VisualCurrent), prior, p.MatchType, p.Confidence, flags(p))
	}

	if len(r.Reconciled) > 0 || len(r.Incomplete) > 0 {
		b.WriteString("\n## Fourth quarter\n\n")
		b.WriteString("| Concept | Axes | Method | Full year | YTD | Q4 | Prior Q4 |\n")
		b.WriteString("|---|---|---|--:|--:|--:|--:|\n")
		for _, q := range r.Reconciled {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s |\n",
				cell(q.Concept), cell(q.AxisKey), q.Method,
				number(q.FullYearValue), optional(q.YTDValue), number(q.Q4Value), optional(q.PriorQ4Value))
		}
		for _, in := range r.Incomplete {
			fmt.Fprintf(&b, "| %s | %s | incomplete: no %s | | | | |\n", cell(in.Concept), cell(in.AxisKey), in.Missing)
		}
	}
	return b.String()
}

// HTML renders Markdown(r) as an HTML fragment.
func HTML(r *models.Result) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(Markdown(r)), &buf); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return buf.String(), nil
}

func title(r *models.Result) string {
	t := r.Filing.Label()
	if r.Request.FullYear {
		t += " full-year reconciliation"
	}
	if r.Filing.CompanyName != "" {
		t = r.Filing.CompanyName + ": " + t
	}
	return t
}

func date(f models.Filing) string {
	if f.PeriodEnd.IsZero() {
		return "unknown"
	}
	return f.PeriodEnd.Format(models.DateLayout)
}

func flags(p models.MatchedPair) string {
	var out []string
	if p.Collision {
		out = append(out, "collision")
	}
	if p.ValueCollision {
		out = append(out, "value collision")
	}
	if p.SignFlipped {
		out = append(out, "sign flipped")
	}
	return strings.Join(out, ", ")
}

// number formats with thousands separators, keeping displayed decimals.
func number(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	out := b.String() + frac
	if neg {
		out = "-" + out
	}
	return out
}

func optional(v *float64) string {
	if v == nil {
		return "–"
	}
	return number(*v)
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
