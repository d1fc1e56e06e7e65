// Package xbrl reads inline XBRL filings and their presentation linkbases.
//
// Values are kept exactly as displayed in the filing. Decimals, scale and unit
// references are recorded verbatim and never applied.
package xbrl

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"edgar_reconciler/pkg/models"
)

// DEI facts captured as document metadata.
const (
	ConceptDocumentPeriodEnd = "dei:DocumentPeriodEndDate"
	ConceptFiscalYearFocus   = "dei:DocumentFiscalYearFocus"
	ConceptFiscalYearEnd     = "dei:CurrentFiscalYearEndDate"
)

// Skip reasons counted per malformed fact.
const (
	SkipNoName         = "no_name"
	SkipNoContext      = "no_context"
	SkipUnknownContext = "unknown_context"
	SkipNonNumeric     = "non_numeric"
	SkipNil            = "nil"
)

// Document is everything extracted from one iXBRL file.
type Document struct {
	URL       string `json:"url,omitempty"`
	Accession string `json:"accession,omitempty"`

	Contexts map[string]models.Context `json:"-"`
	Units    map[string]string         `json:"-"`
	Facts    []models.Fact             `json:"-"`

	Skipped         int            `json:"skipped"`
	SkipReasons     map[string]int `json:"skip_reasons,omitempty"`
	ContextsSkipped int            `json:"contexts_skipped"`

	PeriodEnd       time.Time `json:"period_end"`
	PeriodEndText   string    `json:"period_end_text,omitempty"`
	FiscalYearFocus string    `json:"fiscal_year_focus,omitempty"`
	FiscalYearEnd   string    `json:"fiscal_year_end,omitempty"`
}

// HasPeriodEnd reports whether the document declared a parseable DocumentPeriodEndDate.
func (d *Document) HasPeriodEnd() bool {
	return d != nil && !d.PeriodEnd.IsZero()
}

// Extract parses an iXBRL document.
//
// The HTML parser lowercases element and attribute names, so selectors and
// attribute lookups below are lowercase.
func Extract(r io.Reader) (*Document, error) {
	html, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse iXBRL HTML: %w", err)
	}

	doc := &Document{
		Contexts:    make(map[string]models.Context),
		Units:       make(map[string]string),
		SkipReasons: make(map[string]int),
	}

	html.Find(`xbrli\:context`).Each(func(_ int, sel *goquery.Selection) {
		ctx, ok := parseContext(sel)
		if !ok {
			doc.ContextsSkipped++
			return
		}
		doc.Contexts[ctx.ID] = ctx
	})

	html.Find(`xbrli\:unit`).Each(func(_ int, sel *goquery.Selection) {
		id, _ := sel.Attr("id")
		if id == "" {
			return
		}
		var measures []string
		sel.Find(`xbrli\:measure`).Each(func(_ int, m *goquery.Selection) {
			measures = append(measures, strings.TrimSpace(m.Text()))
		})
		doc.Units[id] = strings.Join(measures, "/")
	})

	html.Find(`ix\:nonfraction, ix\:nonnumeric`).Each(func(i int, sel *goquery.Selection) {
		doc.addFact(i, sel)
	})

	return doc, nil
}

func (d *Document) skip(reason string) {
	d.Skipped++
	d.SkipReasons[reason]++
}

func (d *Document) addFact(order int, sel *goquery.Selection) {
	name := strings.TrimSpace(sel.AttrOr("name", ""))
	if name == "" {
		d.skip(SkipNoName)
		return
	}
	text := strings.TrimSpace(sel.Text())

	switch name {
	case ConceptDocumentPeriodEnd:
		d.PeriodEndText = text
		if t, ok := ParseDisplayedDate(text); ok {
			d.PeriodEnd = t
		}
	case ConceptFiscalYearFocus:
		d.FiscalYearFocus = text
	case ConceptFiscalYearEnd:
		d.FiscalYearEnd = text
	}

	contextRef := strings.TrimSpace(sel.AttrOr("contextref", ""))
	if contextRef == "" {
		d.skip(SkipNoContext)
		return
	}
	if _, ok := d.Contexts[contextRef]; !ok {
		d.skip(SkipUnknownContext)
		return
	}
	if strings.EqualFold(sel.AttrOr("xsi:nil", ""), "true") {
		d.skip(SkipNil)
		return
	}

	value, ok := ParseDisplayedNumber(text, sel.AttrOr("format", ""))
	if !ok {
		d.skip(SkipNonNumeric)
		return
	}
	if sel.AttrOr("sign", "") == "-" {
		value = -value
	}

	d.Facts = append(d.Facts, models.Fact{
		Concept:    name,
		Raw:        text,
		Value:      value,
		UnitRef:    sel.AttrOr("unitref", ""),
		Decimals:   sel.AttrOr("decimals", ""),
		Scale:      sel.AttrOr("scale", ""),
		ContextRef: contextRef,
		Order:      order,
	})
}

func parseContext(sel *goquery.Selection) (models.Context, bool) {
	id := strings.TrimSpace(sel.AttrOr("id", ""))
	if id == "" {
		return models.Context{}, false
	}
	ctx := models.Context{ID: id}

	if instant := sel.Find(`xbrli\:instant`); instant.Length() > 0 {
		end, err := time.Parse(models.DateLayout, strings.TrimSpace(instant.First().Text()))
		if err != nil {
			return models.Context{}, false
		}
		ctx.Kind = models.PeriodInstant
		ctx.End = end
	} else {
		start, err := time.Parse(models.DateLayout, strings.TrimSpace(sel.Find(`xbrli\:startdate`).First().Text()))
		if err != nil {
			return models.Context{}, false
		}
		end, err := time.Parse(models.DateLayout, strings.TrimSpace(sel.Find(`xbrli\:enddate`).First().Text()))
		if err != nil {
			return models.Context{}, false
		}
		ctx.Kind = models.PeriodDuration
		ctx.Start = start
		ctx.End = end
	}

	sel.Find(`xbrldi\:explicitmember, xbrldi\:typedmember`).Each(func(_ int, m *goquery.Selection) {
		axis := strings.TrimSpace(m.AttrOr("dimension", ""))
		if axis == "" {
			return
		}
		ctx.Dimensions = append(ctx.Dimensions, models.Dimension{
			Axis:   axis,
			Member: strings.TrimSpace(m.Text()),
		})
	})
	return ctx, true
}

// ParseDisplayedNumber reads a value the way it is shown on the page: thousands
// separators are dropped and a unicode minus is accepted. Zero-dash formats
// ("—" rendered for zero) read as 0.
func ParseDisplayedNumber(text, format string) (float64, bool) {
	f := strings.ToLower(format)
	if strings.Contains(f, "zerodash") || strings.Contains(f, "fixed-zero") {
		return 0, true
	}

	s := strings.Join(strings.Fields(text), "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "−", "-")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

var displayedDateLayouts = []string{
	"2006-01-02",
	"January 2 2006",
	"Jan 2 2006",
	"2 January 2006",
	"01/02/2006",
}

// ParseDisplayedDate reads a DocumentPeriodEndDate in any of the layouts filers use.
func ParseDisplayedDate(text string) (time.Time, bool) {
	s := strings.NewReplacer(",", "", ".", "").Replace(text)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Replace(s, "Sept ", "Sep ", 1)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range displayedDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
