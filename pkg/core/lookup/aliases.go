package lookup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v2"

	"edgar_reconciler/pkg/core/utils"
)

// Aliases maps a metric name to its candidate tags, most preferred first.
// Tags may be bare concept names or display labels.
type Aliases map[string][]string

// DefaultAliases covers the common headline metrics. It is not exhaustive; filers
// tag the same concept differently, so extend it through an alias file.
func DefaultAliases() Aliases {
	return Aliases{
		"revenue": {
			"Revenues",
			"RevenueFromContractWithCustomerExcludingAssessedTax",
			"SalesRevenueNet",
			"Operating revenues",
			"Total revenues",
			"Net revenues",
			"Total net sales",
			"Net sales",
		},
		"net_income": {"NetIncomeLoss", "ProfitLoss", "Net income", "Net income (loss)", "Net earnings"},
		"eps": {
			"EarningsPerShareDiluted",
			"EarningsPerShareBasic",
			"Diluted EPS",
			"Diluted earnings per share",
			"Earnings per diluted share",
			"Earnings per share, diluted",
		},
		// Dollar gross profit. "Gross margin" is left out so it is not confused with the ratio.
		"gross_profit":      {"GrossProfit", "Gross profit"},
		"operating_income":  {"OperatingIncomeLoss", "OperatingIncome", "Operating income", "Income from operations"},
		"cash":              {"CashAndCashEquivalentsAtCarryingValue", "Cash and cash equivalents", "Cash"},
		"total_assets":      {"Total assets", "Assets"},
		"total_liabilities": {"Liabilities", "Total liabilities"},
		"total_debt":        {"LongTermDebt", "LongTermDebtNoncurrent", "DebtCurrent", "Total debt", "Long-term debt"},
	}
}

// Tags returns the aliases of metric, or the metric itself when it has none.
func (a Aliases) Tags(metric string) []string {
	if tags, ok := a[strings.ToLower(strings.TrimSpace(metric))]; ok && len(tags) > 0 {
		return tags
	}
	return []string{strings.TrimSpace(metric)}
}

// Merge returns a copy of a with every metric in other replacing its entry.
func (a Aliases) Merge(other Aliases) Aliases {
	out := make(Aliases, len(a)+len(other))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range other {
		out[strings.ToLower(k)] = v
	}
	return out
}

// LoadAliases reads an alias file. The format follows the extension:
// .yaml/.yml, .hjson or .toml. The file's entries are merged over the defaults.
func LoadAliases(path string) (Aliases, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read alias file: %w", err)
	}
	parsed, err := ParseAliases(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return DefaultAliases().Merge(parsed), nil
}

// ParseAliases decodes alias data in the format named by ext.
func ParseAliases(data []byte, ext string) (Aliases, error) {
	parsed := make(Aliases)
	var err error
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &parsed)
	case ".hjson":
		err = utils.ParseHJSON(data, &parsed)
	case ".toml":
		err = toml.Unmarshal(data, &parsed)
	default:
		return nil, fmt.Errorf("unsupported alias format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse aliases: %w", err)
	}
	return parsed, nil
}
