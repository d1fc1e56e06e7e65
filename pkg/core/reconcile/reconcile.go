// Package reconcile derives standalone fourth-quarter values from an annual
// filing and the same fiscal year's third-quarter year-to-date figures.
package reconcile

import "edgar_reconciler/pkg/models"

// Reconciliation is the outcome of a full-year run.
type Reconciliation struct {
	Quarters   []models.ReconciledQuarter        `json:"quarters"`
	Incomplete []models.IncompleteReconciliation `json:"incomplete"`
}

func joinKey(p models.MatchedPair) string {
	return p.Concept + "\x1f" + p.AxisKey
}

// Reconcile joins full-year and year-to-date pairs on concept and axis key.
//
// Duration concepts give Q4 = FY - YTD. Instant pairs from the annual filing
// carry their value straight through. A pair without a counterpart is reported
// as incomplete, never zero-filled.
func Reconcile(fullYear, ytd, instants []models.MatchedPair) Reconciliation {
	var rec Reconciliation

	queue := make(map[string][]models.MatchedPair)
	var ytdOrder []string
	for _, p := range ytd {
		if p.Category != models.CurrentYTD {
			continue
		}
		k := joinKey(p)
		if _, ok := queue[k]; !ok {
			ytdOrder = append(ytdOrder, k)
		}
		queue[k] = append(queue[k], p)
	}

	for _, fy := range fullYear {
		if fy.Category != models.CurrentFullYear {
			continue
		}
		k := joinKey(fy)
		pending := queue[k]
		if len(pending) == 0 {
			rec.Incomplete = append(rec.Incomplete, models.IncompleteReconciliation{
				Concept: fy.Concept, AxisKey: fy.AxisKey, Missing: models.ClassYTD,
			})
			continue
		}
		y := pending[0]
		queue[k] = pending[1:]
		rec.Quarters = append(rec.Quarters, subtract(fy, y))
	}

	for _, k := range ytdOrder {
		for _, y := range queue[k] {
			rec.Incomplete = append(rec.Incomplete, models.IncompleteReconciliation{
				Concept: y.Concept, AxisKey: y.AxisKey, Missing: models.ClassFullYear,
			})
		}
	}

	for _, in := range instants {
		if in.Category != models.CurrentInstant {
			continue
		}
		rec.Quarters = append(rec.Quarters, direct(in))
	}
	return rec
}

func subtract(fy, ytd models.MatchedPair) models.ReconciledQuarter {
	ytdValue := ytd.CurrentValue
	q := models.ReconciledQuarter{
		Concept:       fy.Concept,
		AxisKey:       fy.AxisKey,
		Role:          fy.Role,
		Method:        models.MethodSubtraction,
		FullYearValue: fy.CurrentValue,
		YTDValue:      &ytdValue,
		Q4Value:       fy.CurrentValue - ytdValue,
	}
	if fy.PriorValue != nil && ytd.PriorValue != nil {
		pfy, pytd := *fy.PriorValue, *ytd.PriorValue
		pq4 := pfy - pytd
		q.PriorFullYearValue = &pfy
		q.PriorYTDValue = &pytd
		q.PriorQ4Value = &pq4
	}
	return q
}

func direct(p models.MatchedPair) models.ReconciledQuarter {
	q := models.ReconciledQuarter{
		Concept:       p.Concept,
		AxisKey:       p.AxisKey,
		Role:          p.Role,
		Method:        models.MethodDirect,
		FullYearValue: p.CurrentValue,
		Q4Value:       p.CurrentValue,
	}
	if p.PriorValue != nil {
		prior := *p.PriorValue
		priorQ4 := prior
		q.PriorFullYearValue = &prior
		q.PriorQ4Value = &priorQ4
	}
	return q
}
