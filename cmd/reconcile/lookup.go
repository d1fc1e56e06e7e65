package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"edgar_reconciler/pkg/core/store"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Find a metric in a stored run",
	Long: `lookup answers "what was METRIC" from a stored result. Metric names resolve
through the alias table (revenue, net_income, eps, ...) or match tags directly.
With --fetch a missing result is reconciled and stored first.`,
	Example: `  reconcile lookup -t AAPL -y 2024 -q 2 --metric revenue
  reconcile lookup -t AAPL -y 2024 -q 4 --full-year --metric net_income --date-type FY`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := requestFlags(cmd)
		if err != nil {
			return err
		}
		metric, _ := cmd.Flags().GetString("metric")
		dateType, _ := cmd.Flags().GetString("date-type")
		fetch, _ := cmd.Flags().GetBool("fetch")
		asJSON, _ := cmd.Flags().GetBool("json")

		result, err := deps.Results.Load(cmd.Context(), req)
		if errors.Is(err, store.ErrResultNotFound) && fetch {
			result, err = deps.Orchestrator.Run(cmd.Context(), req)
		}
		if err != nil {
			return err
		}

		matches, err := deps.Finder.Find(result, metric, dateType)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(matches)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TAG\tTYPE\tAXES\tCURRENT\tPRIOR\tCHANGE\tCHANGE %")
		for _, m := range matches {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				m.Metric, m.DateType, dash(m.AxisKey), num(&m.Current), num(m.Prior), num(m.YoYChange), num(m.YoYPct))
		}
		return tw.Flush()
	},
}

func init() {
	addRequestFlags(lookupCmd)
	lookupCmd.Flags().StringP("metric", "m", "", "metric alias or XBRL tag")
	lookupCmd.Flags().String("date-type", "", "Q, YTD, FY or I")
	lookupCmd.Flags().Bool("fetch", false, "reconcile and store the filing when no result is stored")
	lookupCmd.Flags().Bool("json", false, "print matches as JSON")
	_ = lookupCmd.MarkFlagRequired("metric")

	rootCmd.AddCommand(lookupCmd)
}

func num(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
