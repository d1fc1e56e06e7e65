package match

import "edgar_reconciler/pkg/models"

// AuditValueCollisions flags pairs whose prior value is paired with more than one
// distinct current value, or whose current value is paired with more than one
// distinct prior value. Zero values are never audited. The input is not modified
// and Collision is left as matched.
func AuditValueCollisions(pairs []models.MatchedPair) []models.MatchedPair {
	priorToCurrent := make(map[float64]map[float64]bool)
	currentToPrior := make(map[float64]map[float64]bool)

	for _, p := range pairs {
		if !auditable(p) {
			continue
		}
		cur, prior := p.CurrentValue, *p.PriorValue
		if priorToCurrent[prior] == nil {
			priorToCurrent[prior] = make(map[float64]bool)
		}
		priorToCurrent[prior][cur] = true
		if currentToPrior[cur] == nil {
			currentToPrior[cur] = make(map[float64]bool)
		}
		currentToPrior[cur][prior] = true
	}

	out := make([]models.MatchedPair, len(pairs))
	for i, p := range pairs {
		out[i] = p
		if !auditable(p) {
			continue
		}
		if len(priorToCurrent[*p.PriorValue]) > 1 || len(currentToPrior[p.CurrentValue]) > 1 {
			out[i].ValueCollision = true
		}
	}
	return out
}

func auditable(p models.MatchedPair) bool {
	return p.PriorValue != nil && p.CurrentValue != 0 && *p.PriorValue != 0
}

// Stats summarises a matched set for run metrics.
type Stats struct {
	Matched         int
	Exact           int
	Fuzzy           int
	Unmatched       int
	Collisions      int
	ValueCollisions int
	SignFlipped     int
	VisualFlips     int
	PassCounts      map[int]int
}

// Summarize counts pair outcomes.
func Summarize(pairs []models.MatchedPair) Stats {
	s := Stats{PassCounts: make(map[int]int)}
	for _, p := range pairs {
		switch p.MatchType {
		case models.MatchExact:
			s.Exact++
		case models.MatchFuzzy:
			s.Fuzzy++
		}
		if !p.Matched() {
			s.Unmatched++
		} else {
			s.Matched++
			s.PassCounts[p.Pass]++
		}
		if p.Collision {
			s.Collisions++
		}
		if p.ValueCollision {
			s.ValueCollisions++
		}
		if p.SignFlipped {
			s.SignFlipped++
		}
		if p.VisualCurrent != p.CurrentValue {
			s.VisualFlips++
		}
		if p.VisualPrior != nil && p.PriorValue != nil && *p.VisualPrior != *p.PriorValue {
			s.VisualFlips++
		}
	}
	return s
}

// MatchRate is matched pairs over all pairs.
func (s Stats) MatchRate() float64 {
	total := s.Matched + s.Unmatched
	if total == 0 {
		return 0
	}
	return float64(s.Matched) / float64(total)
}

// CollisionRate is collided pairs over matched pairs.
func (s Stats) CollisionRate() float64 {
	if s.Matched == 0 {
		return 0
	}
	return float64(s.Collisions) / float64(s.Matched)
}
