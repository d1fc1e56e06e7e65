package models

import (
	"errors"
	"fmt"
)

// Fatal run conditions. Degraded matching outcomes are never errors.
var (
	ErrFilingNotFound      = errors.New("filing not found")
	ErrNoDocumentFound     = errors.New("no document found")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrNoFactsExtracted    = errors.New("no facts extracted")
	ErrInvalidRequest      = errors.New("invalid request")
)

// Stage names a pipeline step.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageLocate    Stage = "locate"
	StageFetch     Stage = "fetch"
	StageExtract   Stage = "extract"
	StageEnrich    Stage = "enrich"
	StageMatch     Stage = "match"
	StageReconcile Stage = "reconcile"
)

// RunError is the typed failure of a run: which stage failed, for which request, and why.
type RunError struct {
	Stage      Stage
	Ticker     string
	FiscalYear int
	Quarter    int
	FullYear   bool
	Err        error
}

func (e *RunError) Error() string {
	period := fmt.Sprintf("FY%d Q%d", e.FiscalYear, e.Quarter)
	if e.FullYear {
		period += " full-year"
	}
	return fmt.Sprintf("%s %s: %s failed: %v", e.Ticker, period, e.Stage, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Kind returns the sentinel the error wraps, or nil for unexpected failures.
func (e *RunError) Kind() error {
	for _, kind := range []error{ErrFilingNotFound, ErrNoDocumentFound, ErrUpstreamUnavailable, ErrNoFactsExtracted, ErrInvalidRequest} {
		if errors.Is(e.Err, kind) {
			return kind
		}
	}
	return nil
}

// NewRunError wraps err for the given stage and request.
func NewRunError(stage Stage, req Request, err error) *RunError {
	return &RunError{
		Stage:      stage,
		Ticker:     req.Ticker,
		FiscalYear: req.FiscalYear,
		Quarter:    req.Quarter,
		FullYear:   req.FullYear,
		Err:        err,
	}
}
