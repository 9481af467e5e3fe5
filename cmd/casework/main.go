/*
main.go - Command-line entry point

PURPOSE:
  One binary for running the HTTP service and for the operator tasks around
  it: loading fixtures, running reports from a shell, dry-running the
  eligibility engine and minting bearer tokens for local testing.

COMMANDS:
  serve      Start the HTTP API
  seed       Load a YAML fixture file (or the built-in demo data)
  report     Generate a report as a given user
  evaluate   Dry-run eligibility for one assessment
  token      Issue a bearer token for a user
  version    Print the version

CONFIGURATION:
  --config points at a YAML file. Without it casework.yaml is looked up in
  the working directory and ~/.config/casework. Every key can be
  overridden from the environment: database.path -> CASEWORK_DATABASE_PATH.

SEE ALSO:
  - config/config.go: Keys and defaults
  - serve.go: Server startup and graceful shutdown
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/casework/config"
	"github.com/warp/casework/store/sqlite"
)

var (
	cfgFile string
	version = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "casework",
		Short: "Welfare case management: assessments, promotions and reports",
		Long: `casework records beneficiary assessments, promotes beneficiaries across
categories and programs as their history changes, and produces role-scoped
reports in several formats.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./casework.yaml or $HOME/.config/casework/casework.yaml)")

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(seedCmd())
	cmd.AddCommand(reportCmd())
	cmd.AddCommand(evaluateCmd())
	cmd.AddCommand(tokenCmd())
	cmd.AddCommand(versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "casework %s\n", version)
		},
	}
}

// =============================================================================
// SHARED SETUP
// =============================================================================

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *sqlite.Store
}

func openApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
	}
	logger.Debug("database opened", zap.String("path", cfg.Database.Path))

	return &app{cfg: cfg, logger: logger, store: store}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}
