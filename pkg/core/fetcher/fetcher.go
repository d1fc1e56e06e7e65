// Package fetcher picks the iXBRL document out of a filing and downloads it.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"edgar_reconciler/pkg/core/edgar"
	"edgar_reconciler/pkg/core/xbrl"
	"edgar_reconciler/pkg/models"
)

const (
	// MinDocumentBytes drops exhibits and cover pages from the candidate list.
	MinDocumentBytes = 100 * 1024
	// MinFacts is the fewest numeric facts a primary document may carry.
	MinFacts = 50
)

// Archive reads filing manifests and files. *edgar.Client implements it.
type Archive interface {
	FetchManifest(ctx context.Context, cik, accession string) ([]edgar.ManifestItem, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// AcceptFunc decides whether an extracted candidate is the primary document.
type AcceptFunc func(doc *xbrl.Document) bool

// AcceptPrimary accepts documents that declare a period end and carry at least minFacts facts.
func AcceptPrimary(minFacts int) AcceptFunc {
	return func(doc *xbrl.Document) bool {
		return doc.HasPeriodEnd() && len(doc.Facts) >= minFacts
	}
}

type Fetcher struct {
	archive  Archive
	minBytes int
	logger   zerolog.Logger
}

type Option func(*Fetcher)

func WithLogger(l zerolog.Logger) Option {
	return func(f *Fetcher) { f.logger = l.With().Str("component", "fetcher").Logger() }
}

func WithMinDocumentBytes(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.minBytes = n
		}
	}
}

func New(archive Archive, opts ...Option) *Fetcher {
	f := &Fetcher{archive: archive, minBytes: MinDocumentBytes, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Documents is what the pipeline reads from one filing.
type Documents struct {
	Primary      *xbrl.Document
	Presentation xbrl.Presentation
}

// FetchFiling reads the filing manifest once and uses it for both the presentation
// linkbase and the primary document. A manifest failure fails the fetch; the
// linkbase degrades to empty as in FetchPresentation.
func (f *Fetcher) FetchFiling(ctx context.Context, filing models.Filing, accept AcceptFunc) (*Documents, error) {
	items, err := f.archive.FetchManifest(ctx, filing.CIK, filing.AccessionNumber)
	if err != nil {
		return nil, upstream(err)
	}

	pres, err := f.presentation(ctx, filing, items)
	if err != nil {
		return nil, err
	}
	doc, err := f.primary(ctx, filing, items, accept)
	if err != nil {
		return nil, err
	}
	return &Documents{Primary: doc, Presentation: pres}, nil
}

// FetchPrimary downloads candidates largest first and returns the first one accept
// takes. A nil accept takes any document that parses.
func (f *Fetcher) FetchPrimary(ctx context.Context, filing models.Filing, accept AcceptFunc) (*xbrl.Document, error) {
	items, err := f.archive.FetchManifest(ctx, filing.CIK, filing.AccessionNumber)
	if err != nil {
		return nil, upstream(err)
	}
	return f.primary(ctx, filing, items, accept)
}

func (f *Fetcher) primary(ctx context.Context, filing models.Filing, items []edgar.ManifestItem, accept AcceptFunc) (*xbrl.Document, error) {
	candidates := Candidates(items, f.minBytes)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s has no HTML document of at least %d bytes",
			models.ErrNoDocumentFound, filing.AccessionNumber, f.minBytes)
	}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log := f.logger.With().Str("document", c.Name).Int("size", c.Size).Logger()

		body, err := f.archive.Download(ctx, c.URL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(err).Msg("candidate download failed, trying next")
			continue
		}

		doc, err := xbrl.Extract(bytes.NewReader(body))
		if err != nil {
			log.Warn().Err(err).Msg("candidate did not parse, trying next")
			continue
		}
		if accept != nil && !accept(doc) {
			log.Debug().Int("facts", len(doc.Facts)).Bool("period_end", doc.HasPeriodEnd()).Msg("candidate rejected")
			continue
		}

		doc.URL = c.URL
		doc.Accession = filing.AccessionNumber
		log.Info().Int("facts", len(doc.Facts)).Int("skipped", doc.Skipped).Msg("primary document selected")
		return doc, nil
	}

	return nil, fmt.Errorf("%w: none of %d candidates in %s was accepted",
		models.ErrNoDocumentFound, len(candidates), filing.AccessionNumber)
}

// FetchPresentation parses the filing's presentation linkbase. A missing or broken
// linkbase gives an empty presentation and no error; only cancellation is returned.
func (f *Fetcher) FetchPresentation(ctx context.Context, filing models.Filing) (xbrl.Presentation, error) {
	log := f.logger.With().Str("accession", filing.AccessionNumber).Logger()

	items, err := f.archive.FetchManifest(ctx, filing.CIK, filing.AccessionNumber)
	if err != nil {
		if ctx.Err() != nil {
			return xbrl.EmptyPresentation(), ctx.Err()
		}
		log.Warn().Err(err).Msg("manifest unavailable, continuing without presentation")
		return xbrl.EmptyPresentation(), nil
	}
	return f.presentation(ctx, filing, items)
}

func (f *Fetcher) presentation(ctx context.Context, filing models.Filing, items []edgar.ManifestItem) (xbrl.Presentation, error) {
	log := f.logger.With().Str("accession", filing.AccessionNumber).Logger()

	var linkbase *edgar.ManifestItem
	for i := range items {
		if strings.HasSuffix(strings.ToLower(items[i].Name), "_pre.xml") {
			linkbase = &items[i]
			break
		}
	}
	if linkbase == nil {
		log.Warn().Msg("no presentation linkbase, continuing without roles")
		return xbrl.EmptyPresentation(), nil
	}

	body, err := f.archive.Download(ctx, linkbase.URL)
	if err != nil {
		if ctx.Err() != nil {
			return xbrl.EmptyPresentation(), ctx.Err()
		}
		log.Warn().Err(err).Str("linkbase", linkbase.Name).Msg("presentation download failed")
		return xbrl.EmptyPresentation(), nil
	}

	pres, err := xbrl.ParsePresentation(bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Str("linkbase", linkbase.Name).Msg("presentation did not parse")
		return xbrl.EmptyPresentation(), nil
	}
	return pres, nil
}

// Candidates keeps .htm and .html items of at least minBytes, largest first.
// Equal sizes keep manifest order.
func Candidates(items []edgar.ManifestItem, minBytes int) []edgar.ManifestItem {
	var out []edgar.ManifestItem
	for _, item := range items {
		ext := strings.ToLower(path.Ext(item.Name))
		if ext != ".htm" && ext != ".html" {
			continue
		}
		if item.Size < minBytes {
			continue
		}
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Size > out[j].Size })
	return out
}

func upstream(err error) error {
	if errors.Is(err, models.ErrUpstreamUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
}
