package models

import (
	"sort"
	"strings"
	"time"
)

// PeriodKind distinguishes point-in-time contexts from accumulated ones.
type PeriodKind string

const (
	PeriodInstant  PeriodKind = "instant"
	PeriodDuration PeriodKind = "duration"
)

// Dimension is one axis/member qualifier of a context.
type Dimension struct {
	Axis   string `json:"axis"`
	Member string `json:"member"`
}

// Context is the reporting scope a fact is tagged under.
// Start is zero for instant contexts.
type Context struct {
	ID         string      `json:"id"`
	Kind       PeriodKind  `json:"kind"`
	Start      time.Time   `json:"start,omitempty"`
	End        time.Time   `json:"end"`
	Dimensions []Dimension `json:"dimensions,omitempty"`
}

// DimensionKey renders the dimensions as a stable "axis=member|..." string.
func (c Context) DimensionKey() string {
	if len(c.Dimensions) == 0 {
		return ""
	}
	parts := make([]string, len(c.Dimensions))
	for i, d := range c.Dimensions {
		parts[i] = d.Axis + "=" + d.Member
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// Fact is a single tagged numeric value as displayed in the document.
// Decimals, Scale and UnitRef are recorded verbatim and never applied.
type Fact struct {
	Concept    string  `json:"concept"`
	Raw        string  `json:"raw"`
	Value      float64 `json:"value"`
	UnitRef    string  `json:"unit_ref,omitempty"`
	Decimals   string  `json:"decimals,omitempty"`
	Scale      string  `json:"scale,omitempty"`
	ContextRef string  `json:"context_ref"`
	Order      int     `json:"order"`
}

// BareConcept strips the namespace prefix: "us-gaap:Revenues" -> "Revenues".
func (f Fact) BareConcept() string {
	if i := strings.LastIndex(f.Concept, ":"); i >= 0 {
		return f.Concept[i+1:]
	}
	return f.Concept
}

// Category is a fact's period classification relative to the requested fiscal period.
type Category string

const (
	CurrentQuarter  Category = "current_quarter"
	PriorQuarter    Category = "prior_quarter"
	CurrentYTD      Category = "current_ytd"
	PriorYTD        Category = "prior_ytd"
	CurrentFullYear Category = "current_full_year"
	PriorFullYear   Category = "prior_full_year"
	CurrentInstant  Category = "current_instant"
	PriorInstant    Category = "prior_instant"
	Unclassified    Category = "unclassified"
)

// Class groups a current category with its prior counterpart.
type Class string

const (
	ClassQuarter  Class = "quarter"
	ClassYTD      Class = "ytd"
	ClassFullYear Class = "full_year"
	ClassInstant  Class = "instant"
	ClassNone     Class = ""
)

// Classes lists the matchable classes in output order.
var Classes = []Class{ClassQuarter, ClassYTD, ClassFullYear, ClassInstant}

// Class returns the category's class, or ClassNone for unclassified facts.
func (c Category) Class() Class {
	switch c {
	case CurrentQuarter, PriorQuarter:
		return ClassQuarter
	case CurrentYTD, PriorYTD:
		return ClassYTD
	case CurrentFullYear, PriorFullYear:
		return ClassFullYear
	case CurrentInstant, PriorInstant:
		return ClassInstant
	}
	return ClassNone
}

func (c Category) IsCurrent() bool {
	return c == CurrentQuarter || c == CurrentYTD || c == CurrentFullYear || c == CurrentInstant
}

func (c Category) IsPrior() bool {
	return c == PriorQuarter || c == PriorYTD || c == PriorFullYear || c == PriorInstant
}

// Prior maps a current category to its prior counterpart. Other categories are
// returned unchanged.
func (c Category) Prior() Category {
	switch c {
	case CurrentQuarter:
		return PriorQuarter
	case CurrentYTD:
		return PriorYTD
	case CurrentFullYear:
		return PriorFullYear
	case CurrentInstant:
		return PriorInstant
	}
	return c
}

// Axis buckets a dimension can be sorted into.
const (
	BucketConsolidation = "consolidation"
	BucketSegment       = "segment"
	BucketProduct       = "product"
	BucketGeo           = "geo"
	BucketLegalEntity   = "legal_entity"
	BucketUnassigned    = "unassigned"
)

// DefaultAxisOrder is the most to least specific bucket order used for match keys.
var DefaultAxisOrder = []string{
	BucketConsolidation,
	BucketSegment,
	BucketProduct,
	BucketGeo,
	BucketLegalEntity,
	BucketUnassigned,
}

// RoleUnassigned is the role of concepts missing from the presentation linkbase.
const RoleUnassigned = "unassigned"

// EnrichedFact is a Fact with its period category, presentation role and sign convention.
type EnrichedFact struct {
	Fact
	Context   Context           `json:"context"`
	Category  Category          `json:"category"`
	Role      string            `json:"role"`
	Negated   bool              `json:"negated"`
	Axes      map[string]string `json:"axes,omitempty"`
	Accession string            `json:"accession"`
}

// AxisKey is the canonical dimension key of the fact; empty when consolidated.
func (e EnrichedFact) AxisKey() string {
	return e.Context.DimensionKey()
}
