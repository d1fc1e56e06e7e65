package edgar

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ManifestItem is one file listed in a filing's index.json.
type ManifestItem struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int    `json:"size"`
	URL  string `json:"url"`
}

// ArchiveURL builds https://www.sec.gov/Archives/edgar/data/{cik}/{accession_nodash}/{name}.
func (c *Client) ArchiveURL(cik, accession, name string) string {
	accessionNoDashes := strings.ReplaceAll(accession, "-", "")
	return fmt.Sprintf("%s/Archives/edgar/data/%s/%s/%s", c.wwwBaseURL, archiveCIK(cik), accessionNoDashes, name)
}

// FetchManifest lists the files of a filing in manifest order.
func (c *Client) FetchManifest(ctx context.Context, cik, accession string) ([]ManifestItem, error) {
	body, err := c.Get(ctx, c.ArchiveURL(cik, accession, "index.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch filing index: %w", err)
	}
	items, err := parseManifest(body)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].URL = c.ArchiveURL(cik, accession, items[i].Name)
	}
	return items, nil
}

// parseManifest decodes index.json. Sizes are strings upstream and may be blank for
// directories; those come back as 0.
func parseManifest(body []byte) ([]ManifestItem, error) {
	var index struct {
		Directory struct {
			Item []struct {
				Name string `json:"name"`
				Type string `json:"type"`
				Size string `json:"size"`
			} `json:"item"`
		} `json:"directory"`
	}

	if err := json.Unmarshal(body, &index); err != nil {
		return nil, fmt.Errorf("failed to parse filing index: %w", err)
	}

	items := make([]ManifestItem, 0, len(index.Directory.Item))
	for _, item := range index.Directory.Item {
		size, _ := strconv.Atoi(strings.TrimSpace(item.Size))
		items = append(items, ManifestItem{
			Name: item.Name,
			Type: item.Type,
			Size: size,
		})
	}
	return items, nil
}

// Download fetches a single archive file.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	body, err := c.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", url, err)
	}
	return body, nil
}
