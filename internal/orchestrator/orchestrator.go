// Package orchestrator implements the Orchestrator: a long-lived scheduler
// that reads the assignment table, spawns one waiter per future deadline,
// and reacts to RELOAD, TERMINATE, and TRIGGER control signals.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/underground-software/singularity/internal/deadline"
	"github.com/underground-software/singularity/internal/store"
)

// Runner is the subset of deadline.Runner the Orchestrator drives. Declared
// as an interface so tests can substitute a recording fake instead of
// standing up a real grading repository and journal.
type Runner interface {
	Initial(ctx context.Context, assignmentName string) error
	PeerReview(ctx context.Context, assignmentName string) error
	Final(ctx context.Context, assignmentName string) error
}

var _ Runner = (*deadline.Runner)(nil)

// waiterEvent reports a waiter's outcome back to the event loop, purely
// for the active-waiters gauge; the loop takes no further action on it.
type waiterEvent struct {
	assignment string
	stage      Stage
	ran        bool
}

// Orchestrator owns the reload loop described in spec §4.7.
type Orchestrator struct {
	Store   *store.Store
	Runner  Runner
	Logger  *zap.Logger

	// TriggerDir is watched for Configurator-written TRIGGER payload files.
	TriggerDir string

	// ActiveWaiters, if non-nil, is updated with the current waiter count
	// after every (re)build — wired to the MetricsSurface gauge.
	ActiveWaiters func(int)

	// Now is overridable for tests; nil means time.Now.
	Now func() time.Time

	osSignals chan os.Signal
	runMu     sync.Mutex
}

// New returns an Orchestrator backed by s and r, watching triggerDir for
// manual TRIGGER payload files.
func New(s *store.Store, r Runner, triggerDir string, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		Store:      s,
		Runner:     r,
		Logger:     logger,
		TriggerDir: triggerDir,
		osSignals:  make(chan os.Signal, 4),
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Run installs signal handlers and the trigger-directory watcher, then
// enters the reload loop until TERMINATE or ctx is cancelled. It returns
// nil on a clean TERMINATE and a non-nil error only for fatal
// infrastructure failures (the assignment table being unreachable, the
// trigger watcher failing to start) — per spec §7, the Orchestrator only
// propagates fatal infrastructure failures as process exit.
func (o *Orchestrator) Run(ctx context.Context) error {
	signal.Notify(o.osSignals, syscall.SIGHUP, syscall.SIGTERM)
	defer signal.Stop(o.osSignals)

	triggerCh := make(chan int64, 8)
	if err := watchTriggers(ctx, o.TriggerDir, triggerCh, o.Logger); err != nil {
		return fmt.Errorf("start trigger watcher: %w", err)
	}

	for {
		reload, err := o.runOnce(ctx, triggerCh)
		if err != nil {
			return err
		}
		if !reload {
			return nil
		}
	}
}

// runOnce builds the waiter set from the current assignment table and
// processes signals until a RELOAD (returns true), a TERMINATE or
// cancelled context (returns false), or a fatal error.
func (o *Orchestrator) runOnce(ctx context.Context, triggerCh <-chan int64) (reload bool, err error) {
	assignments, err := o.Store.ListAssignments(ctx)
	if err != nil {
		return false, fmt.Errorf("list assignments: %w", err)
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	doneCh := make(chan waiterEvent, len(assignments)*len(allStages))
	active := o.spawnWaiters(waitCtx, assignments, doneCh)
	o.reportActive(active)

	for {
		select {
		case <-ctx.Done():
			return false, nil

		case sig := <-o.osSignals:
			switch sig {
			case syscall.SIGHUP:
				o.Logger.Info("received reload signal")
				return true, nil
			case syscall.SIGTERM:
				o.Logger.Info("received terminate signal")
				return false, nil
			}

		case payload := <-triggerCh:
			o.handleTrigger(ctx, payload)

		case ev := <-doneCh:
			active--
			o.reportActive(active)
			o.Logger.Debug("waiter finished", zap.String("assignment", ev.assignment), zap.String("stage", ev.stage.String()), zap.Bool("ran", ev.ran))
		}
	}
}

func (o *Orchestrator) reportActive(n int) {
	if o.ActiveWaiters != nil {
		o.ActiveWaiters(n)
	}
}

// spawnWaiters starts one goroutine per (assignment, stage) whose deadline
// is not FAR_FUTURE, logs and skips any whose deadline has already passed,
// and returns the count of goroutines actually spawned.
func (o *Orchestrator) spawnWaiters(ctx context.Context, assignments []store.Assignment, doneCh chan<- waiterEvent) int {
	n := 0
	now := o.now().Unix()
	for _, asn := range assignments {
		for _, stage := range allStages {
			d := stage.deadline(asn)
			if d == store.FarFuture {
				continue
			}
			if d <= now {
				o.Logger.Info("skipping stage for assignment", zap.String("stage", stage.String()), zap.String("assignment", asn.Name))
				continue
			}
			go o.waitFor(ctx, asn, stage, d, doneCh)
			n++
		}
	}
	return n
}

// waitFor sleeps until deadline, then runs the corresponding DeadlineRunner
// entry point. A cancelled ctx (RELOAD/TERMINATE killing waiters) is
// treated as "exit without running the runner" — the waiter's TERM
// handling described in spec §5.
func (o *Orchestrator) waitFor(ctx context.Context, asn store.Assignment, stage Stage, deadlineUnix int64, doneCh chan<- waiterEvent) {
	d := time.Unix(deadlineUnix, 0).Sub(o.now())
	if d < 0 {
		d = 0
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		doneCh <- waiterEvent{assignment: asn.Name, stage: stage, ran: false}
	case <-timer.C:
		o.runMu.Lock()
		err := o.dispatch(context.Background(), asn.Name, stage)
		o.runMu.Unlock()
		if err != nil {
			o.Logger.Error("deadline runner failed", zap.String("assignment", asn.Name), zap.String("stage", stage.String()), zap.Error(err))
		}
		doneCh <- waiterEvent{assignment: asn.Name, stage: stage, ran: true}
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, assignmentName string, stage Stage) error {
	switch stage {
	case StageInitial:
		return o.Runner.Initial(ctx, assignmentName)
	case StagePeerReview:
		return o.Runner.PeerReview(ctx, assignmentName)
	case StageFinal:
		return o.Runner.Final(ctx, assignmentName)
	default:
		return fmt.Errorf("orchestrator: unknown stage %d", stage)
	}
}

// handleTrigger decodes, validates, and executes a manual TRIGGER payload.
// It never returns the loop to a reload state — per spec §4.7, a
// successful TRIGGER "continues waiting without reloading other children."
// A DeadlineRunner already in progress causes the trigger to be rejected
// with a log line rather than queued, per the resolved Open Question.
func (o *Orchestrator) handleTrigger(ctx context.Context, payload int64) {
	assignmentID, stage, ok := DecodeTrigger(payload)
	if !ok {
		o.Logger.Error("rejecting trigger: invalid payload", zap.Int64("payload", payload), zap.Error(ErrInvalidPayload))
		return
	}

	asn, err := o.Store.GetAssignmentByID(ctx, assignmentID)
	if errors.Is(err, store.ErrNotFound) {
		o.Logger.Error("rejecting trigger: assignment not found", zap.Int64("assignment_id", assignmentID), zap.Error(ErrAssignmentNotFound))
		return
	}
	if err != nil {
		o.Logger.Error("failed to look up trigger assignment", zap.Error(err))
		return
	}

	if stage.deadline(*asn) <= o.now().Unix() {
		o.Logger.Error("rejecting trigger: stage already past", zap.String("assignment", asn.Name), zap.String("stage", stage.String()), zap.Error(ErrStagePast))
		return
	}

	if !o.runMu.TryLock() {
		o.Logger.Error("rejecting trigger: a deadline runner is already in progress", zap.String("assignment", asn.Name), zap.String("stage", stage.String()), zap.Error(ErrRunnerBusy))
		return
	}
	defer o.runMu.Unlock()

	now := o.now().Unix()
	if err := o.Store.Atomic(ctx, func(tx *sqlx.Tx) error {
		return o.Store.UpdateAssignmentDeadlineToNow(ctx, tx, asn.ID, stage.column(), now)
	}); err != nil {
		o.Logger.Error("failed to advance triggered deadline", zap.Error(err))
		return
	}

	o.Logger.Info("running triggered deadline", zap.String("assignment", asn.Name), zap.String("stage", stage.String()))
	if err := o.dispatch(ctx, asn.Name, stage); err != nil {
		o.Logger.Error("triggered deadline runner failed", zap.String("assignment", asn.Name), zap.String("stage", stage.String()), zap.Error(err))
	}
}
