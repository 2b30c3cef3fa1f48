// Command deadlinerunner is the one-shot DeadlineRunner executable: it runs
// exactly one (assignment, stage) lifecycle step and exits. The
// orchestrator invokes this logic in-process via internal/deadline.Runner;
// this binary exists for manual/operator invocation of the same step.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/underground-software/singularity/internal/config"
	"github.com/underground-software/singularity/internal/deadline"
	"github.com/underground-software/singularity/internal/journal"
	"github.com/underground-software/singularity/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "deadlinerunner",
	Short: "Run a single (assignment, stage) deadline lifecycle step",
}

var initialCmd = &cobra.Command{
	Use:   "initial <assignment>",
	Short: "Release initial submissions, form peer-review pairings, tag and check",
	Args:  cobra.ExactArgs(1),
	RunE:  runStage(func(r *deadline.Runner, ctx context.Context, name string) error { return r.Initial(ctx, name) }),
}

var peerCmd = &cobra.Command{
	Use:   "peer <assignment>",
	Short: "Release peer-review replies, tag and check without sign-off and subject-tag rules",
	Args:  cobra.ExactArgs(1),
	RunE:  runStage(func(r *deadline.Runner, ctx context.Context, name string) error { return r.PeerReview(ctx, name) }),
}

var finalCmd = &cobra.Command{
	Use:   "final <assignment>",
	Short: "Reopen oopsie visibility, release final submissions, tag and check",
	Args:  cobra.ExactArgs(1),
	RunE:  runStage(func(r *deadline.Runner, ctx context.Context, name string) error { return r.Final(ctx, name) }),
}

func init() {
	rootCmd.AddCommand(initialCmd, peerCmd, finalCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "deadlinerunner:", err)
		os.Exit(1)
	}
}

func runStage(fn func(r *deadline.Runner, ctx context.Context, name string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		assignmentName := args[0]

		cfg, err := config.Load(nil)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		defer logger.Sync() //nolint:errcheck // best-effort flush

		db, err := store.Open(cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()

		j := journal.New(cfg.Journal.Root)
		if err := j.Init(); err != nil {
			return fmt.Errorf("init journal: %w", err)
		}

		r := deadline.New(db, j, cfg.Patchsets.Root, cfg.Git.RemoteURL, cfg.Git.WorkRoot, logger)
		if err := fn(r, context.Background(), assignmentName); err != nil {
			return fmt.Errorf("run deadline step for %s: %w", assignmentName, err)
		}
		logger.Info("deadline step complete", zap.String("assignment", assignmentName), zap.String("stage", cmd.Name()))
		return nil
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
