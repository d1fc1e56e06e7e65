// Command reconcile pulls a company's 10-Q or 10-K from SEC EDGAR and pairs every
// current-period fact with its prior-period counterpart.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"edgar_reconciler/pkg/app"
	"edgar_reconciler/pkg/config"
	"edgar_reconciler/pkg/logging"
)

var (
	v      = viper.New()
	deps   *app.App
	cfgErr error
)

var rootCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Period-over-period reconciliation of SEC iXBRL filings",
	Long: `reconcile locates a company's 10-Q or 10-K on SEC EDGAR, extracts every tagged
numeric fact from the inline XBRL document, classifies each by period and pairs
the current-period values with their prior-period comparatives.

With --full-year on a fourth quarter it also derives standalone Q4 values from
the 10-K and the Q3 10-Q.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgErr != nil {
			return cfgErr
		}
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		logger := logging.New(os.Stderr, cfg.Debug)
		if used := v.ConfigFileUsed(); used != "" {
			logger.Debug().Str("file", used).Msg("using config file")
		}
		deps, err = app.New(cmd.Context(), cfg, logger)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if deps != nil {
			deps.Close()
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./config.yaml or ~/.edgar_reconciler/config.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "debug logging and per-category counts")
	rootCmd.PersistentFlags().String("user-agent", "", "User-Agent sent to SEC (must contain a contact address)")
	_ = v.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = v.BindPFlag("sec.user_agent", rootCmd.PersistentFlags().Lookup("user-agent"))
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "Warning: failed to load .env:", err)
	}
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	cfgErr = config.Bind(v, cfgFile)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
