// Package cli implements ledgerctl, the operator command line for the
// coin ledger. Every command works directly on the configured store.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fortunecoin/backend/internal/bootstrap"
	"github.com/fortunecoin/backend/internal/config"
	"github.com/fortunecoin/backend/internal/events"
	"github.com/fortunecoin/backend/internal/quota"
	"github.com/fortunecoin/backend/internal/services"
)

// Execute runs ledgerctl with the process arguments.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the coin ledger",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("config", os.Getenv("CONFIG_PATH"), "path to a .yaml or .toml config file")
	root.PersistentFlags().Bool("verbose", false, "log to stderr")

	root.AddCommand(
		newReconcileCmd(),
		newGrantCmd(),
		newHistoryCmd(),
		newSweepCmd(),
		newTokenCmd(),
		newHashPasswordCmd(),
	)
	return root
}

// env is what a command gets after the config is loaded and the store opened.
type env struct {
	cfg     config.Config
	backend *bootstrap.Backend
	coins   *services.CoinService
	clock   quota.Clock
	logger  *slog.Logger
}

func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	var w io.Writer = io.Discard
	if verbose {
		w = cmd.ErrOrStderr()
	}
	logger := slog.New(slog.NewTextHandler(w, nil))
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// withStore opens the store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	backend, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	coins, clock, err := bootstrap.CoinService(cfg, backend.Store, events.Discard{}, logger)
	if err != nil {
		return err
	}
	return fn(ctx, &env{cfg: cfg, backend: backend, coins: coins, clock: clock, logger: logger})
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
