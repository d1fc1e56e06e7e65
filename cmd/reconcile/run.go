package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"edgar_reconciler/pkg/core/report"
	"edgar_reconciler/pkg/models"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile one filing",
	Long: `run locates the filing for --ticker/--year/--quarter, extracts and classifies
its facts and writes the matched pairs. The result is stored under
TICKER_YYYY_Qn[_FY] when --save is set.`,
	Example: `  reconcile run --ticker AAPL --year 2024 --quarter 2
  reconcile run --ticker AAPL --year 2024 --quarter 4 --full-year --format markdown --save`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := requestFlags(cmd)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		save, _ := cmd.Flags().GetBool("save")
		out, _ := cmd.Flags().GetString("output")

		if !save {
			deps.Orchestrator.SetRepository(nil)
		}

		result, err := deps.Orchestrator.Run(cmd.Context(), req)
		if err != nil {
			return err
		}

		w := io.Writer(os.Stdout)
		if out != "" {
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			defer f.Close()
			w = f
		}
		return write(w, result, format)
	},
}

func init() {
	addRequestFlags(runCmd)
	runCmd.Flags().String("format", "json", "output format: json, markdown or html")
	runCmd.Flags().Bool("save", false, "store the result for later lookups")
	runCmd.Flags().StringP("output", "o", "", "write to a file instead of stdout")

	rootCmd.AddCommand(runCmd)
}

func write(w io.Writer, result *models.Result, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "markdown", "md":
		_, err := io.WriteString(w, report.Markdown(result))
		return err
	case "html":
		page, err := report.HTML(result)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, page)
		return err
	}
	return fmt.Errorf("unknown format %q (want json, markdown or html)", format)
}

func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("ticker", "t", "", "company ticker")
	cmd.Flags().IntP("year", "y", 0, "fiscal year")
	cmd.Flags().IntP("quarter", "q", 0, "fiscal quarter, 1-4")
	cmd.Flags().Bool("full-year", false, "fourth quarter: reconcile the 10-K against the Q3 10-Q")
	_ = cmd.MarkFlagRequired("ticker")
	_ = cmd.MarkFlagRequired("year")
	_ = cmd.MarkFlagRequired("quarter")
}

func requestFlags(cmd *cobra.Command) (models.Request, error) {
	ticker, _ := cmd.Flags().GetString("ticker")
	year, _ := cmd.Flags().GetInt("year")
	quarter, _ := cmd.Flags().GetInt("quarter")
	fullYear, _ := cmd.Flags().GetBool("full-year")

	if fullYear && quarter != 4 {
		return models.Request{}, fmt.Errorf("--full-year requires --quarter 4")
	}
	return models.Request{
		Ticker:     ticker,
		FiscalYear: year,
		Quarter:    quarter,
		FullYear:   fullYear,
		Debug:      deps.Config.Debug,
	}, nil
}
