package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tickersCmd = &cobra.Command{
	Use:   "tickers",
	Short: "Manage the ticker to CIK cache",
}

var tickersRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-pull company_tickers.json and rewrite the cache copies",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := deps.Tickers.Refresh(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d tickers cached\n", n)
		return nil
	},
}

var tickersResolveCmd = &cobra.Command{
	Use:   "resolve TICKER...",
	Short: "Print the CIK of each ticker",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, t := range args {
			cik, err := deps.Tickers.Resolve(cmd.Context(), t)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", t, cik)
		}
		return nil
	},
}

func init() {
	tickersCmd.AddCommand(tickersRefreshCmd, tickersResolveCmd)
	rootCmd.AddCommand(tickersCmd)
}
