package models

// MatchType records how a pair was formed.
type MatchType string

const (
	MatchExact     MatchType = "exact"
	MatchFuzzy     MatchType = "fuzzy"
	MatchUnmatched MatchType = "unmatched"
)

// MatchedPair links a current-period fact to its prior-period counterpart.
// Prior is nil for unmatched facts. When both sides are present they share a Class.
type MatchedPair struct {
	Concept  string   `json:"concept"`
	Category Category `json:"category"`
	Class    Class    `json:"class"`
	Role     string   `json:"role"`
	AxisKey  string   `json:"axis_key,omitempty"`

	Current EnrichedFact  `json:"current"`
	Prior   *EnrichedFact `json:"prior,omitempty"`

	// CurrentValue and PriorValue are the reported values; PriorValue is
	// already sign-corrected when SignFlipped is set.
	CurrentValue float64  `json:"current_value"`
	PriorValue   *float64 `json:"prior_value"`

	// Visual values follow the presentation sign convention of negated labels.
	VisualCurrent float64  `json:"visual_current"`
	VisualPrior   *float64 `json:"visual_prior"`

	MatchType      MatchType `json:"match_type"`
	Confidence     float64   `json:"confidence"`
	Pass           int       `json:"pass"`
	DroppedAxes    []string  `json:"dropped_axes,omitempty"`
	Collision      bool      `json:"collision"`
	Candidates     int       `json:"candidates"`
	SignFlipped    bool      `json:"sign_flipped"`
	ValueCollision bool      `json:"value_collision"`
}

// Matched reports whether the pair has a prior side.
func (p MatchedPair) Matched() bool {
	return p.Prior != nil
}

// ReconcileMethod records how a fourth-quarter value was derived.
type ReconcileMethod string

const (
	MethodSubtraction ReconcileMethod = "subtraction"
	MethodDirect      ReconcileMethod = "direct"
)

// ReconciledQuarter is a derived standalone fourth-quarter value.
// YTDValue is nil for direct (instant) derivations.
type ReconciledQuarter struct {
	Concept       string          `json:"concept"`
	AxisKey       string          `json:"axis_key,omitempty"`
	Role          string          `json:"role"`
	Method        ReconcileMethod `json:"method"`
	FullYearValue float64         `json:"full_year_value"`
	YTDValue      *float64        `json:"ytd_value"`
	Q4Value       float64         `json:"q4_value"`

	PriorFullYearValue *float64 `json:"prior_full_year_value,omitempty"`
	PriorYTDValue      *float64 `json:"prior_ytd_value,omitempty"`
	PriorQ4Value       *float64 `json:"prior_q4_value,omitempty"`
}

// IncompleteReconciliation is a concept present on only one side of the FY/YTD join.
type IncompleteReconciliation struct {
	Concept string `json:"concept"`
	AxisKey string `json:"axis_key,omitempty"`
	Missing Class  `json:"missing"`
}
