package models

import "time"

// StageTiming is the wall time spent in one pipeline stage.
type StageTiming struct {
	Stage    Stage         `json:"stage"`
	Duration time.Duration `json:"duration_ns"`
}

// RunMetrics aggregates per-stage counts for one run.
type RunMetrics struct {
	FactsExtracted    int `json:"facts_extracted"`
	FactsSkipped      int `json:"facts_skipped"`
	ContextsSkipped   int `json:"contexts_skipped"`
	FactsEnriched     int `json:"facts_enriched"`
	FactsUnclassified int `json:"facts_unclassified"`
	CurrentFacts      int `json:"current_facts"`
	PriorFacts        int `json:"prior_facts"`
	// PriorFactsMerged counts prior-side facts taken from the prior-year 10-Q.
	PriorFactsMerged  int `json:"prior_facts_merged,omitempty"`

	PairsMatched    int `json:"pairs_matched"`
	PairsExact      int `json:"pairs_exact"`
	PairsFuzzy      int `json:"pairs_fuzzy"`
	PairsUnmatched  int `json:"pairs_unmatched"`
	Collisions      int `json:"collisions"`
	ValueCollisions int `json:"value_collisions"`
	SignFlipped     int `json:"sign_flipped"`
	VisualSignFlips int `json:"visual_sign_flips"`

	Reconciled int `json:"reconciled"`
	Incomplete int `json:"incomplete"`

	MatchRate     float64 `json:"match_rate"`
	CollisionRate float64 `json:"collision_rate"`

	// Debug-only detail.
	CategoryCounts map[Category]int `json:"category_counts,omitempty"`
	PassCounts     map[int]int      `json:"pass_counts,omitempty"`
	DocumentURL    string           `json:"document_url,omitempty"`
	RolesMapped    int              `json:"roles_mapped,omitempty"`

	Stages  []StageTiming `json:"stages"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// Result is the complete output of a successful run.
type Result struct {
	RunID     string  `json:"run_id"`
	Request   Request `json:"request"`
	Filing    Filing  `json:"filing"`
	Companion *Filing `json:"companion,omitempty"`

	// PriorCompanion is the prior fiscal year's 10-Q for the same quarter.
	PriorCompanion *Filing `json:"prior_companion,omitempty"`

	Pairs      []MatchedPair              `json:"pairs"`
	Reconciled []ReconciledQuarter        `json:"reconciled,omitempty"`
	Incomplete []IncompleteReconciliation `json:"incomplete,omitempty"`
	Metrics    RunMetrics                 `json:"metrics"`
	CreatedAt  time.Time                  `json:"created_at"`
}
