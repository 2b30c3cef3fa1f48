// Command ingestor consumes a MailSessionLog and writes the resulting
// Submission/Gradeable rows to PersistentStore. Invoked by the mail server
// as `ingestor <logDir> <logFile>` once per completed session; --batch
// processes every session file in logDir concurrently, for operator
// backfills.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/underground-software/singularity/internal/config"
	"github.com/underground-software/singularity/internal/ingest"
	"github.com/underground-software/singularity/internal/scratch"
	"github.com/underground-software/singularity/internal/store"
	"github.com/underground-software/singularity/internal/validator"
	"github.com/underground-software/singularity/internal/worker"
)

var batch bool
var concurrency int

var rootCmd = &cobra.Command{
	Use:   "ingestor <logDir> [logFile]",
	Short: "Process one or more MailSessionLog files into PersistentStore",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runIngestor,
}

func init() {
	rootCmd.Flags().BoolVar(&batch, "batch", false, "process every session file under logDir instead of a single logFile")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 0, "worker pool size for --batch (0 = NumCPU)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ingestor:", err)
		os.Exit(1)
	}
}

func runIngestor(cmd *cobra.Command, args []string) error {
	logDir := args[0]

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

	pool := scratch.NewPool(cfg.Git.WorkRoot)
	v := validator.New(cfg.Mail.Root, pool, cfg.Git.RemoteURL)
	in := ingest.New(db, v, cfg.Mail.Root, cfg.Mail.RubricRoot, logger)

	if batch {
		return runBatch(in, logDir, logger)
	}

	if len(args) != 2 {
		return fmt.Errorf("ingestor <logDir> <logFile> (or --batch <logDir>)")
	}
	logFile := args[1]
	status, err := in.Run(context.Background(), logDir, logFile)
	if err != nil {
		return fmt.Errorf("ingest %s/%s: %w", logDir, logFile, err)
	}
	logger.Info("ingested session", zap.String("file", logFile), zap.String("status", status))
	return nil
}

func runBatch(in *ingest.Ingestor, logDir string, logger *zap.Logger) error {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return fmt.Errorf("read session log directory %s: %w", logDir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}

	p := worker.NewPool[string](concurrency)
	results := p.Process(names, func(name string) (string, error) {
		return in.Run(context.Background(), logDir, name)
	})

	failed := 0
	for i, r := range results {
		if r.Err != nil {
			failed++
			logger.Error("batch ingest failed", zap.String("file", names[i]), zap.Error(r.Err))
			continue
		}
		logger.Info("ingested session", zap.String("file", names[i]), zap.String("status", r.Value))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d session logs failed to ingest", failed, len(names))
	}
	return nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
