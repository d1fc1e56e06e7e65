// Package lookup answers "what was metric X" questions against a stored run.
package lookup

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"edgar_reconciler/pkg/models"
)

var (
	ErrMetricRequired = errors.New("metric name is required")
	ErrMetricNotFound = errors.New("metric not found")
)

// Date types accepted by Find, mapped to period classes.
var dateTypes = map[string]models.Class{
	"Q":   models.ClassQuarter,
	"YTD": models.ClassYTD,
	"FY":  models.ClassFullYear,
	"I":   models.ClassInstant,
}

// DateType is the short label of a class: Q, YTD, FY or I.
func DateType(c models.Class) string {
	for k, v := range dateTypes {
		if v == c {
			return k
		}
	}
	return ""
}

// MetricMatch is one tagged value answering a metric query.
type MetricMatch struct {
	Metric    string   `json:"metric"`
	AxisKey   string   `json:"axis_key,omitempty"`
	DateType  string   `json:"date_type"`
	Current   float64  `json:"current_value"`
	Prior     *float64 `json:"prior_value"`
	YoYChange *float64 `json:"yoy_change"`
	YoYPct    *float64 `json:"yoy_change_pct"`
}

type Finder struct {
	aliases Aliases
}

func NewFinder(aliases Aliases) *Finder {
	if aliases == nil {
		aliases = DefaultAliases()
	}
	return &Finder{aliases: aliases}
}

// Find searches the result's pairs for metric. Aliases are tried in tiers:
// exact tag, prefix, whole word, then substring, stopping at the first tier that
// matches. Each (tag, date type) yields one match, preferring consolidated values.
//
// dateType filters to Q, YTD, FY or I; unknown values are ignored. Without a filter,
// a full-year run prefers FY and then YTD matches when it has any.
func (f *Finder) Find(result *models.Result, metric, dateType string) ([]MetricMatch, error) {
	if strings.TrimSpace(metric) == "" {
		return nil, ErrMetricRequired
	}
	if result == nil || len(result.Pairs) == 0 {
		return nil, fmt.Errorf("%w: result has no facts", ErrMetricNotFound)
	}

	pairs := search(result.Pairs, f.aliases.Tags(metric))

	if class, ok := dateTypes[strings.ToUpper(strings.TrimSpace(dateType))]; ok {
		pairs = filter(pairs, class)
	} else if result.Request.FullYear {
		preferred := filter(pairs, models.ClassFullYear)
		if len(preferred) == 0 {
			preferred = filter(pairs, models.ClassYTD)
		}
		if len(preferred) > 0 {
			pairs = preferred
		}
	}

	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: %q in %s", ErrMetricNotFound, metric, result.Filing.Label())
	}

	matches := make([]MetricMatch, 0, len(pairs))
	for _, p := range pairs {
		matches = append(matches, toMatch(p))
	}
	return matches, nil
}

func filter(pairs []models.MatchedPair, class models.Class) []models.MatchedPair {
	var out []models.MatchedPair
	for _, p := range pairs {
		if p.Class == class {
			out = append(out, p)
		}
	}
	return out
}

func toMatch(p models.MatchedPair) MetricMatch {
	m := MetricMatch{
		Metric:   p.Concept,
		AxisKey:  p.AxisKey,
		DateType: DateType(p.Class),
		Current:  p.VisualCurrent,
		Prior:    p.VisualPrior,
	}
	if m.Prior != nil && *m.Prior != 0 {
		change := m.Current - *m.Prior
		pct := math.Round(change/math.Abs(*m.Prior)*1000) / 10
		m.YoYChange = &change
		m.YoYPct = &pct
	}
	return m
}

// index groups pairs under their full and bare concept names, in first-seen order.
type index struct {
	keys   []string
	byTags map[string][]int
}

func newIndex(pairs []models.MatchedPair) *index {
	idx := &index{byTags: make(map[string][]int)}
	add := func(key string, i int) {
		if _, ok := idx.byTags[key]; !ok {
			idx.keys = append(idx.keys, key)
		}
		idx.byTags[key] = append(idx.byTags[key], i)
	}
	for i, p := range pairs {
		if p.Concept == "" {
			continue
		}
		add(p.Concept, i)
		if j := strings.Index(p.Concept, ":"); j >= 0 {
			add(p.Concept[j+1:], i)
		}
	}
	return idx
}

func search(pairs []models.MatchedPair, tags []string) []models.MatchedPair {
	idx := newIndex(pairs)

	exact := func(tag, key string) bool { return tag == key }
	prefix := func(tag, key string) bool { return strings.HasPrefix(key, tag) }
	patterns := make(map[string]*regexp.Regexp, len(tags))
	for _, t := range tags {
		patterns[t] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(t) + `\b`)
	}
	word := func(tag, key string) bool { return patterns[tag].MatchString(key) }
	substring := func(tag, key string) bool { return strings.Contains(strings.ToLower(key), strings.ToLower(tag)) }

	for _, tier := range []func(tag, key string) bool{exact, prefix, word, substring} {
		if hits := idx.collect(tags, tier); len(hits) > 0 {
			return dedup(pairs, hits)
		}
	}
	return nil
}

func (idx *index) collect(tags []string, match func(tag, key string) bool) []int {
	var hits []int
	seen := make(map[int]bool)
	for _, tag := range tags {
		for _, key := range idx.keys {
			if !match(tag, key) {
				continue
			}
			for _, i := range idx.byTags[key] {
				if !seen[i] {
					seen[i] = true
					hits = append(hits, i)
				}
			}
		}
	}
	return hits
}

// dedup keeps one pair per (concept, class): the first consolidated one, else the first.
func dedup(pairs []models.MatchedPair, hits []int) []models.MatchedPair {
	type group struct {
		key     string
		members []int
	}
	var groups []*group
	byKey := make(map[string]*group)
	for _, i := range hits {
		k := pairs[i].Concept + "\x1f" + string(pairs[i].Class)
		g, ok := byKey[k]
		if !ok {
			g = &group{key: k}
			byKey[k] = g
			groups = append(groups, g)
		}
		g.members = append(g.members, i)
	}

	out := make([]models.MatchedPair, 0, len(groups))
	for _, g := range groups {
		best := g.members[0]
		for _, i := range g.members {
			if pairs[i].AxisKey == "" {
				best = i
				break
			}
		}
		out = append(out, pairs[best])
	}
	return out
}
