package edgar

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"

	"edgar_reconciler/pkg/models"
)

// MasterIndexEntry is one row of a quarterly full-index/master.gz file.
type MasterIndexEntry struct {
	CIK             string
	Company         string
	Form            string
	DateFiled       time.Time
	Filename        string
	AccessionNumber string
}

// Ref converts the row into a listing entry. The master index has no report date,
// so the filing date stands in for it.
func (e MasterIndexEntry) Ref() FilingRef {
	return FilingRef{
		AccessionNumber: e.AccessionNumber,
		Form:            models.FormType(e.Form),
		FilingDate:      e.DateFiled,
		ReportDate:      e.DateFiled,
	}
}

// FetchMasterIndex downloads and parses the master index of one calendar quarter.
// Quarters that do not exist yet come back as a 404 StatusError.
func (c *Client) FetchMasterIndex(ctx context.Context, year, quarter int) ([]MasterIndexEntry, error) {
	url := fmt.Sprintf("%s/Archives/edgar/full-index/%d/QTR%d/master.gz", c.wwwBaseURL, year, quarter)
	body, err := c.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch master index %d QTR%d: %w", year, quarter, err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to open master index %d QTR%d: %w", year, quarter, err)
	}
	defer gz.Close()

	return ParseMasterIndex(gz)
}

// ParseMasterIndex reads the pipe-delimited latin-1 master index body.
// Lines before the "CIK|" header and rows without five fields are ignored.
func ParseMasterIndex(r io.Reader) ([]MasterIndexEntry, error) {
	scanner := bufio.NewScanner(charmap.ISO8859_1.NewDecoder().Reader(r))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var entries []MasterIndexEntry
	started := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !started {
			started = strings.HasPrefix(line, "CIK|")
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) != 5 {
			continue
		}
		filed, err := time.Parse(models.DateLayout, parts[3])
		if err != nil {
			continue
		}
		entries = append(entries, MasterIndexEntry{
			CIK:             parts[0],
			Company:         parts[1],
			Form:            parts[2],
			DateFiled:       filed,
			Filename:        parts[4],
			AccessionNumber: strings.TrimSuffix(path.Base(parts[4]), ".txt"),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read master index: %w", err)
	}
	return entries, nil
}

// FilterMasterIndex keeps the 10-Q and 10-K rows of one company.
func FilterMasterIndex(entries []MasterIndexEntry, cik string) []FilingRef {
	want := archiveCIK(cik)
	var refs []FilingRef
	for _, e := range entries {
		if e.CIK != want {
			continue
		}
		if e.Form != string(models.FormQuarterly) && e.Form != string(models.FormAnnual) {
			continue
		}
		refs = append(refs, e.Ref())
	}
	return refs
}
