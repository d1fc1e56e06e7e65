// Package enrich places extracted facts on the requested fiscal period.
package enrich

import (
	"sort"
	"strings"

	"edgar_reconciler/pkg/core/fiscal"
	"edgar_reconciler/pkg/core/xbrl"
	"edgar_reconciler/pkg/models"
)

// Classify assigns a context to a period category. It is pure: the same context
// and windows always give the same category.
func Classify(ctx models.Context, w fiscal.PeriodWindows) models.Category {
	switch ctx.Kind {
	case models.PeriodInstant:
		switch {
		case fiscal.SameDay(ctx.End, w.PeriodEnd):
			return models.CurrentInstant
		case !w.PriorPeriodEnd.IsZero() && fiscal.SameDay(ctx.End, w.PriorPeriodEnd):
			return models.PriorInstant
		}
		return models.Unclassified

	case models.PeriodDuration:
		if w.FullYear {
			switch {
			case w.Annual.Matches(ctx.Start, ctx.End):
				return models.CurrentFullYear
			case w.PriorAnnual.Matches(ctx.Start, ctx.End):
				return models.PriorFullYear
			}
			return models.Unclassified
		}

		// Quarter is checked before YTD so that first-quarter facts, whose two
		// windows coincide, land in the quarter class.
		switch {
		case w.Quarter.Matches(ctx.Start, ctx.End):
			return models.CurrentQuarter
		case w.YTD.Matches(ctx.Start, ctx.End):
			return models.CurrentYTD
		case w.PriorQuarter.Matches(ctx.Start, ctx.End):
			return models.PriorQuarter
		case w.PriorYTD.Matches(ctx.Start, ctx.End):
			return models.PriorYTD
		}
	}
	return models.Unclassified
}

// Enrich emits one EnrichedFact per extracted fact, unclassified ones included,
// in document order.
func Enrich(doc *xbrl.Document, w fiscal.PeriodWindows, pres xbrl.Presentation) []models.EnrichedFact {
	if doc == nil {
		return nil
	}
	out := make([]models.EnrichedFact, 0, len(doc.Facts))
	for _, f := range doc.Facts {
		ctx, ok := doc.Contexts[f.ContextRef]
		if !ok {
			continue
		}
		out = append(out, models.EnrichedFact{
			Fact:      f,
			Context:   ctx,
			Category:  Classify(ctx, w),
			Role:      Role(pres.RolesOf(f.Concept)),
			Negated:   pres.IsNegated(f.Concept),
			Axes:      BucketAxes(ctx.Dimensions),
			Accession: doc.Accession,
		})
	}
	return out
}

// Role joins a concept's presentation roles: lowercased, deduplicated, sorted.
func Role(roles []string) string {
	seen := make(map[string]bool, len(roles))
	var out []string
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	if len(out) == 0 {
		return models.RoleUnassigned
	}
	sort.Strings(out)
	return strings.Join(out, "|")
}

var bucketKeywords = []struct {
	bucket   string
	keywords []string
}{
	{models.BucketConsolidation, []string{"consolidation"}},
	{models.BucketSegment, []string{"segment", "business"}},
	{models.BucketProduct, []string{"product", "service"}},
	{models.BucketGeo, []string{"geo", "region", "country"}},
	{models.BucketLegalEntity, []string{"legal", "entity"}},
}

// Bucket names the axis bucket for a dimension axis.
func Bucket(axis string) string {
	a := strings.ToLower(axis)
	for _, b := range bucketKeywords {
		for _, k := range b.keywords {
			if strings.Contains(a, k) {
				return b.bucket
			}
		}
	}
	return models.BucketUnassigned
}

// BucketAxes sorts a context's dimensions into buckets. The unassigned bucket
// holds "axis=member" pairs; any bucket with several dimensions joins them with "|".
func BucketAxes(dims []models.Dimension) map[string]string {
	if len(dims) == 0 {
		return nil
	}
	grouped := make(map[string][]string)
	for _, d := range dims {
		b := Bucket(d.Axis)
		v := d.Member
		if b == models.BucketUnassigned {
			v = strings.ToLower(d.Axis) + "=" + d.Member
		}
		grouped[b] = append(grouped[b], v)
	}
	out := make(map[string]string, len(grouped))
	for b, vs := range grouped {
		sort.Strings(vs)
		out[b] = strings.Join(vs, "|")
	}
	return out
}

// Counts tallies facts per category.
func Counts(facts []models.EnrichedFact) map[models.Category]int {
	out := make(map[models.Category]int)
	for _, f := range facts {
		out[f.Category]++
	}
	return out
}
