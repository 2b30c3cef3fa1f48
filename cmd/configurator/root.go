package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/underground-software/singularity/internal/config"
	"github.com/underground-software/singularity/internal/store"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "configurator",
	Short: "Administer assignments and signal the orchestrator",
	Long: `configurator mutates the assignment table and talks to a running
orchestrator daemon.

Subcommands:
  create   add a new assignment with three deadlines
  alter    change one or more deadlines on an existing assignment
  remove   delete an assignment
  dump     print the assignment table
  reload   ask the orchestrator to rebuild its waiters from the table
  trigger  force a specific (assignment, stage) deadline to now
  dummy    insert an assignment with every deadline disabled`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .singularity/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		if err := os.Setenv("SINGULARITY_CONFIG", cfgFile); err != nil {
			return nil, fmt.Errorf("set config override: %w", err)
		}
	}
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Verbose = true
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openStore(cfg *config.Config) (*store.Store, error) {
	return store.Open(cfg.Store.DSN)
}

// markDirty best-effort touches the dirty marker file described in
// SUPPLEMENTED FEATURES: an advisory signal that config has changed since
// the last reload. Never fails the calling subcommand.
func markDirty(cfg *config.Config, logger *zap.Logger) {
	if cfg.Orchestrator.DirtyFile == "" {
		return
	}
	f, err := os.Create(cfg.Orchestrator.DirtyFile)
	if err != nil {
		logger.Warn("failed to touch dirty marker", zap.String("path", cfg.Orchestrator.DirtyFile), zap.Error(err))
		return
	}
	defer f.Close() //nolint:errcheck // advisory only

	now := time.Now().Format(time.RFC3339)
	if _, err := f.WriteString(now); err != nil {
		logger.Warn("failed to write dirty marker", zap.Error(err))
	}
}
