// Command api serves reconciliation runs, stored results and Prometheus metrics over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"edgar_reconciler/pkg/api/reconcile"
	"edgar_reconciler/pkg/app"
	"edgar_reconciler/pkg/config"
	"edgar_reconciler/pkg/logging"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:           "api",
	Short:         "HTTP API for EDGAR period reconciliation",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgFile, _ := cmd.Flags().GetString("config")
		if err := config.Bind(v, cfgFile); err != nil {
			return err
		}
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.Flags().String("config", "", "config file (default: ./config.yaml or ~/.edgar_reconciler/config.yaml)")
	rootCmd.Flags().String("addr", "", "listen address (default 127.0.0.1:8080)")
	rootCmd.Flags().Bool("debug", false, "debug logging")
	_ = v.BindPFlag("api.addr", rootCmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("debug", rootCmd.Flags().Lookup("debug"))
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(os.Stderr, cfg.Debug)

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	refresher, err := deps.Refresher()
	if err != nil {
		return err
	}
	refresher.Start()
	defer refresher.Stop()

	handler := reconcile.NewHandler(deps.Orchestrator, deps.Results, deps.Finder,
		reconcile.WithLogger(logger),
		reconcile.WithMetricsHandler(deps.Metrics.Handler()),
		reconcile.WithRunTimeout(cfg.API.RunTimeout),
	)

	srv := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.API.Addr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "Warning: failed to load .env:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
