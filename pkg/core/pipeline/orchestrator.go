package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"edgar_reconciler/pkg/core/enrich"
	"edgar_reconciler/pkg/core/fetcher"
	"edgar_reconciler/pkg/core/locator"
	"edgar_reconciler/pkg/core/match"
	"edgar_reconciler/pkg/core/reconcile"
	"edgar_reconciler/pkg/core/xbrl"
	"edgar_reconciler/pkg/models"
)

// Locator resolves a request to its filing and classification windows.
type Locator interface {
	Locate(ctx context.Context, req models.Request) (*locator.Resolution, error)
}

// DocumentFetcher retrieves the primary iXBRL document and presentation linkbase
// of a filing from one manifest read.
type DocumentFetcher interface {
	FetchFiling(ctx context.Context, filing models.Filing, accept fetcher.AcceptFunc) (*fetcher.Documents, error)
}

// ResultRepository persists finished runs.
type ResultRepository interface {
	Save(ctx context.Context, result *models.Result) error
}

// Recorder receives run telemetry. The metrics package provides a Prometheus implementation.
type Recorder interface {
	ObserveStage(stage models.Stage, ok bool, d time.Duration)
	ObserveRun(ok bool)
	AddFacts(stage models.Stage, n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveStage(models.Stage, bool, time.Duration) {}
func (nopRecorder) ObserveRun(bool)                                {}
func (nopRecorder) AddFacts(models.Stage, int)                     {}

// Config is the per-run tuning handed to the orchestrator.
type Config struct {
	Match    match.Config `mapstructure:"match"`
	MinFacts int          `mapstructure:"min_facts" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{Match: match.DefaultConfig(), MinFacts: fetcher.MinFacts}
}

// Orchestrator runs the locate, fetch, extract, enrich, match and reconcile stages
// for one request.
type Orchestrator struct {
	locator  Locator
	fetcher  DocumentFetcher
	cfg      Config
	repo     ResultRepository
	recorder Recorder
	validate *validator.Validate
	logger   zerolog.Logger
	now      func() time.Time
}

type Option func(*Orchestrator)

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l.With().Str("component", "pipeline").Logger() }
}

// WithRepository saves every successful result.
func WithRepository(repo ResultRepository) Option {
	return func(o *Orchestrator) { o.repo = repo }
}

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

func NewOrchestrator(loc Locator, fetch DocumentFetcher, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		locator:  loc,
		fetcher:  fetch,
		cfg:      cfg,
		recorder: nopRecorder{},
		validate: validator.New(),
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetRepository allows injecting a repository after construction.
func (o *Orchestrator) SetRepository(repo ResultRepository) {
	o.repo = repo
}

// run carries the state of one request through the stages.
type run struct {
	req     models.Request
	metrics models.RunMetrics
	res     *locator.Resolution

	doc, companionDoc, priorDoc    *xbrl.Document
	pres, companionPres, priorPres xbrl.Presentation

	facts []models.EnrichedFact
	pairs []models.MatchedPair
	rec   reconcile.Reconciliation
}

// Run executes the pipeline. Degraded outcomes (unmatched facts, collisions,
// incomplete reconciliations) are part of the result; only the failures listed
// in models are returned, wrapped in *models.RunError.
func (o *Orchestrator) Run(ctx context.Context, req models.Request) (*models.Result, error) {
	start := o.now()
	req = req.Normalize()
	r := &run{req: req}

	log := o.logger.With().Str("ticker", req.Ticker).Int("fiscal_year", req.FiscalYear).
		Int("quarter", req.Quarter).Bool("full_year", req.FullYear).Logger()
	log.Info().Msg("reconciliation started")

	steps := []struct {
		stage models.Stage
		fn    func(context.Context, *run) error
	}{
		{models.StageValidate, o.validateRequest},
		{models.StageLocate, o.locate},
		{models.StageFetch, o.fetch},
		{models.StageExtract, o.extract},
		{models.StageEnrich, o.enrich},
		{models.StageMatch, o.match},
		{models.StageReconcile, o.reconcile},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			o.recorder.ObserveRun(false)
			return nil, models.NewRunError(step.stage, req, err)
		}
		began := o.now()
		err := step.fn(ctx, r)
		took := o.now().Sub(began)
		o.recorder.ObserveStage(step.stage, err == nil, took)
		r.metrics.Stages = append(r.metrics.Stages, models.StageTiming{Stage: step.stage, Duration: took})
		if err != nil {
			o.recorder.ObserveRun(false)
			runErr := models.NewRunError(step.stage, req, err)
			log.Error().Err(err).Str("stage", string(step.stage)).Msg("reconciliation failed")
			return nil, runErr
		}
	}

	r.metrics.Elapsed = o.now().Sub(start)
	result := o.assemble(r)

	if o.repo != nil {
		if err := o.repo.Save(ctx, result); err != nil {
			log.Warn().Err(err).Str("key", req.Key()).Msg("result not persisted")
		}
	}

	o.recorder.ObserveRun(true)
	log.Info().
		Str("filing", result.Filing.Label()).
		Int("pairs", len(result.Pairs)).
		Float64("match_rate", result.Metrics.MatchRate).
		Dur("elapsed", result.Metrics.Elapsed).
		Msg("reconciliation complete")
	return result, nil
}

func (o *Orchestrator) validateRequest(_ context.Context, r *run) error {
	if err := o.validate.Struct(r.req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed on %s", models.ErrInvalidRequest, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	return nil
}

func (o *Orchestrator) locate(ctx context.Context, r *run) error {
	res, err := o.locator.Locate(ctx, r.req)
	if err != nil {
		return err
	}
	if r.req.FullYear && res.Companion == nil {
		return fmt.Errorf("%w: no Q3 companion for full-year run", models.ErrFilingNotFound)
	}
	r.res = res
	return nil
}

func (o *Orchestrator) accept() fetcher.AcceptFunc {
	return fetcher.AcceptPrimary(o.cfg.MinFacts)
}

func (o *Orchestrator) fetch(ctx context.Context, r *run) error {
	docs, err := o.fetcher.FetchFiling(ctx, r.res.Filing, o.accept())
	if err != nil {
		return err
	}
	r.doc, r.pres = docs.Primary, docs.Presentation

	if r.res.Companion != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		docs, err := o.fetcher.FetchFiling(ctx, *r.res.Companion, o.accept())
		if err != nil {
			return err
		}
		r.companionDoc, r.companionPres = docs.Primary, docs.Presentation
	}

	if r.res.PriorCompanion != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		docs, err := o.fetcher.FetchFiling(ctx, *r.res.PriorCompanion, o.accept())
		switch {
		case err == nil:
			r.priorDoc, r.priorPres = docs.Primary, docs.Presentation
		case errors.Is(err, models.ErrNoDocumentFound):
			// The target still carries its own comparatives.
			o.logger.Warn().Err(err).Str("accession", r.res.PriorCompanion.AccessionNumber).
				Msg("prior-year 10-Q has no usable document, continuing without it")
		default:
			return err
		}
	}
	return nil
}

func (o *Orchestrator) extract(_ context.Context, r *run) error {
	for _, doc := range []*xbrl.Document{r.doc, r.companionDoc, r.priorDoc} {
		if doc == nil {
			continue
		}
		if len(doc.Facts) == 0 {
			return fmt.Errorf("%w: %s", models.ErrNoFactsExtracted, doc.URL)
		}
		r.metrics.FactsExtracted += len(doc.Facts)
		r.metrics.FactsSkipped += doc.Skipped
		r.metrics.ContextsSkipped += doc.ContextsSkipped
	}
	r.metrics.DocumentURL = r.doc.URL
	o.recorder.AddFacts(models.StageExtract, r.metrics.FactsExtracted)
	return nil
}

func (o *Orchestrator) enrich(_ context.Context, r *run) error {
	primary := enrich.Enrich(r.doc, r.res.Windows, r.pres)
	r.metrics.RolesMapped = len(r.pres.Roles)

	switch {
	case r.req.FullYear:
		// The 10-K supplies full-year and balance sheet facts; the Q3 filing supplies
		// the nine-month year-to-date side.
		companion := enrich.Enrich(r.companionDoc, *r.res.CompanionWindows, r.companionPres)
		r.facts = append(keepClasses(primary, models.ClassFullYear, models.ClassInstant),
			keepClasses(companion, models.ClassYTD)...)
		r.metrics.RolesMapped += len(r.companionPres.Roles)
	case r.priorDoc != nil:
		// A 10-Q balance sheet compares against the last fiscal year end, so the
		// year-earlier instants only exist in last year's 10-Q, as its current instants.
		prior := asPrior(enrich.Enrich(r.priorDoc, *r.res.PriorCompanionWindows, r.priorPres), models.ClassInstant)
		r.facts = append(dropPrior(primary, models.ClassInstant), prior...)
		r.metrics.PriorFactsMerged = len(prior)
	default:
		r.facts = primary
	}

	counts := enrich.Counts(r.facts)
	r.metrics.FactsEnriched = len(r.facts)
	r.metrics.FactsUnclassified = counts[models.Unclassified]
	for cat, n := range counts {
		switch {
		case cat.IsCurrent():
			r.metrics.CurrentFacts += n
		case cat.IsPrior():
			r.metrics.PriorFacts += n
		}
	}
	if r.req.Debug {
		r.metrics.CategoryCounts = counts
	}
	o.recorder.AddFacts(models.StageEnrich, r.metrics.FactsEnriched)
	return nil
}

func keepClasses(facts []models.EnrichedFact, classes ...models.Class) []models.EnrichedFact {
	var out []models.EnrichedFact
	for _, f := range facts {
		if inClasses(f, classes) {
			out = append(out, f)
		}
	}
	return out
}

func inClasses(f models.EnrichedFact, classes []models.Class) bool {
	for _, c := range classes {
		if f.Category.Class() == c {
			return true
		}
	}
	return false
}

// asPrior keeps the current facts of the given classes and relabels them as their
// prior counterparts.
func asPrior(facts []models.EnrichedFact, classes ...models.Class) []models.EnrichedFact {
	var out []models.EnrichedFact
	for _, f := range keepClasses(facts, classes...) {
		if !f.Category.IsCurrent() {
			continue
		}
		f.Category = f.Category.Prior()
		out = append(out, f)
	}
	return out
}

// dropPrior removes prior facts of the given classes.
func dropPrior(facts []models.EnrichedFact, classes ...models.Class) []models.EnrichedFact {
	out := make([]models.EnrichedFact, 0, len(facts))
	for _, f := range facts {
		if f.Category.IsPrior() && inClasses(f, classes) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (o *Orchestrator) match(_ context.Context, r *run) error {
	r.pairs = match.AuditValueCollisions(match.Match(r.facts, o.cfg.Match))

	s := match.Summarize(r.pairs)
	m := &r.metrics
	m.PairsMatched = s.Matched
	m.PairsExact = s.Exact
	m.PairsFuzzy = s.Fuzzy
	m.PairsUnmatched = s.Unmatched
	m.Collisions = s.Collisions
	m.ValueCollisions = s.ValueCollisions
	m.SignFlipped = s.SignFlipped
	m.VisualSignFlips = s.VisualFlips
	m.MatchRate = s.MatchRate()
	m.CollisionRate = s.CollisionRate()
	if r.req.Debug {
		m.PassCounts = s.PassCounts
	}
	o.recorder.AddFacts(models.StageMatch, s.Matched)
	return nil
}

func (o *Orchestrator) reconcile(_ context.Context, r *run) error {
	if !r.req.FullYear {
		return nil
	}
	var fullYear, ytd, instants []models.MatchedPair
	for _, p := range r.pairs {
		switch p.Class {
		case models.ClassFullYear:
			fullYear = append(fullYear, p)
		case models.ClassYTD:
			ytd = append(ytd, p)
		case models.ClassInstant:
			instants = append(instants, p)
		}
	}
	r.rec = reconcile.Reconcile(fullYear, ytd, instants)
	r.metrics.Reconciled = len(r.rec.Quarters)
	r.metrics.Incomplete = len(r.rec.Incomplete)
	return nil
}

func (o *Orchestrator) assemble(r *run) *models.Result {
	result := &models.Result{
		RunID:      uuid.NewString(),
		Request:    r.req,
		Filing:     r.res.Filing,
		Companion:  r.res.Companion,
		Pairs:      r.pairs,
		Reconciled: r.rec.Quarters,
		Incomplete: r.rec.Incomplete,
		Metrics:    r.metrics,
		CreatedAt:  o.now().UTC(),
	}
	if r.priorDoc != nil {
		result.PriorCompanion = r.res.PriorCompanion
	}
	return result
}
