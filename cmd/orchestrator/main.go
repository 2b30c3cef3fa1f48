// Command orchestrator is the long-lived scheduler daemon: it owns waiters
// for every assignment's three deadlines and reacts to reload/terminate/
// trigger control signals by spawning DeadlineRunners. It is designed to be
// run as a container's PID 1.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/underground-software/singularity/internal/config"
	"github.com/underground-software/singularity/internal/deadline"
	"github.com/underground-software/singularity/internal/journal"
	"github.com/underground-software/singularity/internal/metrics"
	"github.com/underground-software/singularity/internal/orchestrator"
	"github.com/underground-software/singularity/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "orchestrator:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush on exit

	if err := writePidFile(cfg.Orchestrator.PidFile); err != nil {
		return fmt.Errorf("write pidfile: %w", err)
	}
	defer os.Remove(cfg.Orchestrator.PidFile) //nolint:errcheck // best-effort cleanup

	db, err := store.Open(cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	j := journal.New(cfg.Journal.Root)
	if err := j.Init(); err != nil {
		return fmt.Errorf("init journal: %w", err)
	}

	runner := deadline.New(db, j, cfg.Patchsets.Root, cfg.Git.RemoteURL, cfg.Git.WorkRoot, logger)

	surface := metrics.New(cfg.Metrics.CORSOrigin, cfg.Metrics.SlackWebhookURL, logger)

	o := orchestrator.New(db, runner, cfg.Orchestrator.TriggerDir, logger)
	o.ActiveWaiters = surface.ActiveWaitersSetter()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- surface.ListenAndServe(ctx, cfg.Metrics.Addr) }()

	runErr := o.Run(ctx)
	stop()
	if metricsErr := <-errCh; metricsErr != nil {
		logger.Error("metrics surface exited with error", zap.Error(metricsErr))
	}
	return runErr
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func writePidFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}
