// Package match pairs current-period facts with their prior-period counterparts.
//
// Matching runs in passes of decreasing specificity. Pass 0 keys on the concept
// and every axis bucket; each later pass drops one more bucket from the end of
// the configured axis order. A prior fact is consumed by the first current fact
// that claims it, and a key that sees several candidates is flagged as a collision
// rather than resolved by any secondary rule.
package match

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"edgar_reconciler/pkg/models"
)

// Config tunes the relaxation passes.
type Config struct {
	// Penalty is subtracted from confidence per dropped bucket that the pair carried.
	Penalty float64 `mapstructure:"penalty" yaml:"penalty" validate:"gte=0,lte=1"`
	// AxisOrder lists buckets from most to least significant. Passes drop from the end.
	AxisOrder []string `mapstructure:"axis_order" yaml:"axis_order"`
	// MinKeyBuckets is how many AxisOrder buckets the last pass keeps.
	MinKeyBuckets int `mapstructure:"min_key_buckets" yaml:"min_key_buckets" validate:"gte=0"`
}

// DefaultPenalty is the confidence lost per dropped bucket.
const DefaultPenalty = 0.1

func DefaultConfig() Config {
	order := make([]string, len(models.DefaultAxisOrder))
	copy(order, models.DefaultAxisOrder)
	return Config{Penalty: DefaultPenalty, AxisOrder: order}
}

func (c Config) normalized() Config {
	if len(c.AxisOrder) == 0 {
		c.AxisOrder = DefaultConfig().AxisOrder
	}
	if c.Penalty < 0 {
		c.Penalty = 0
	}
	if c.MinKeyBuckets < 0 {
		c.MinKeyBuckets = 0
	}
	if c.MinKeyBuckets > len(c.AxisOrder) {
		c.MinKeyBuckets = len(c.AxisOrder)
	}
	return c
}

// passes is the number of relaxation passes, pass 0 included.
func (c Config) passes() int {
	return len(c.AxisOrder) - c.MinKeyBuckets + 1
}

// Match pairs facts within each period class. Output is ordered by class
// (quarter, ytd, full_year, instant), then by current fact document order.
// Facts that stay unmatched after the last pass are emitted with no prior side.
func Match(facts []models.EnrichedFact, cfg Config) []models.MatchedPair {
	cfg = cfg.normalized()

	var out []models.MatchedPair
	for _, class := range models.Classes {
		var current, prior []models.EnrichedFact
		for _, f := range facts {
			if f.Category.Class() != class {
				continue
			}
			if f.Category.IsCurrent() {
				current = append(current, f)
			} else if f.Category.IsPrior() {
				prior = append(prior, f)
			}
		}
		if len(current) == 0 {
			continue
		}
		out = append(out, matchClass(class, current, prior, cfg)...)
	}
	return out
}

func byOrder(facts []models.EnrichedFact) {
	sort.SliceStable(facts, func(i, j int) bool { return facts[i].Order < facts[j].Order })
}

func matchClass(class models.Class, current, prior []models.EnrichedFact, cfg Config) []models.MatchedPair {
	byOrder(current)
	byOrder(prior)

	pairs := make([]*models.MatchedPair, len(current))
	consumed := make([]bool, len(prior))

	for pass := 0; pass < cfg.passes(); pass++ {
		dropped := cfg.AxisOrder[len(cfg.AxisOrder)-pass:]

		index := make(map[string][]int)
		for j, p := range prior {
			if consumed[j] {
				continue
			}
			k := Key(p, dropped)
			index[k] = append(index[k], j)
		}

		for i, c := range current {
			if pairs[i] != nil {
				continue
			}
			var candidates []int
			for _, j := range index[Key(c, dropped)] {
				if !consumed[j] {
					candidates = append(candidates, j)
				}
			}
			if len(candidates) == 0 {
				continue
			}
			j := candidates[0]
			consumed[j] = true
			pairs[i] = newPair(class, c, &prior[j], pass, dropped, len(candidates), cfg.Penalty)
		}
	}

	out := make([]models.MatchedPair, len(current))
	for i, c := range current {
		if pairs[i] == nil {
			pairs[i] = newPair(class, c, nil, 0, nil, 0, cfg.Penalty)
		}
		out[i] = *pairs[i]
	}
	return out
}

func newPair(class models.Class, cur models.EnrichedFact, prior *models.EnrichedFact, pass int, dropped []string, candidates int, penalty float64) *models.MatchedPair {
	p := &models.MatchedPair{
		Concept:       cur.Concept,
		Category:      cur.Category,
		Class:         class,
		Role:          cur.Role,
		AxisKey:       cur.AxisKey(),
		Current:       cur,
		CurrentValue:  cur.Value,
		VisualCurrent: visual(cur.Value, cur.Negated),
		Candidates:    candidates,
	}

	if prior == nil {
		p.MatchType = models.MatchUnmatched
		return p
	}

	pf := *prior
	p.Prior = &pf
	p.Pass = pass
	p.Collision = candidates > 1
	p.DroppedAxes = droppedFrom(dropped, cur.Axes, pf.Axes)
	p.Confidence = math.Max(0, 1-float64(len(p.DroppedAxes))*penalty)
	p.Confidence = math.Round(p.Confidence*1e6) / 1e6
	if pass == 0 {
		p.MatchType = models.MatchExact
	} else {
		p.MatchType = models.MatchFuzzy
	}

	pv := pf.Value
	if cur.Value != 0 && pv == -cur.Value {
		p.SignFlipped = true
		pv = -pv
	}
	p.PriorValue = &pv
	vp := visual(pv, cur.Negated)
	p.VisualPrior = &vp
	return p
}

// droppedFrom keeps the dropped buckets that either side of the pair carries,
// in axis order. Buckets neither fact has cost no confidence.
func droppedFrom(dropped []string, cur, prior map[string]string) []string {
	var out []string
	for _, b := range dropped {
		_, inCur := cur[b]
		_, inPrior := prior[b]
		if inCur || inPrior {
			out = append(out, b)
		}
	}
	return out
}

func visual(v float64, negated bool) float64 {
	if negated && v != 0 {
		return -v
	}
	return v
}

// Key builds the match key for a fact with the given buckets dropped.
// Buckets outside the configured order are never dropped.
func Key(f models.EnrichedFact, dropped []string) string {
	var b strings.Builder
	b.WriteString(f.Concept)

	buckets := make([]string, 0, len(f.Axes))
	for bucket := range f.Axes {
		if !containsString(dropped, bucket) {
			buckets = append(buckets, bucket)
		}
	}
	sort.Strings(buckets)
	for _, bucket := range buckets {
		fmt.Fprintf(&b, "\x1f%s=%s", bucket, f.Axes[bucket])
	}
	return b.String()
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
