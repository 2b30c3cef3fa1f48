package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/underground-software/singularity/internal/store"
)

func TestEncodeDecodeTriggerRoundTrip(t *testing.T) {
	for _, stage := range allStages {
		for _, id := range []int64{0, 1, 7, 1000} {
			payload := EncodeTrigger(id, stage)
			gotID, gotStage, ok := DecodeTrigger(payload)
			if !ok {
				t.Fatalf("DecodeTrigger(%d) not ok", payload)
			}
			if gotID != id || gotStage != stage {
				t.Fatalf("round trip (%d, %s) -> payload %d -> (%d, %s)", id, stage, payload, gotID, gotStage)
			}
		}
	}
}

func TestDecodeTriggerRejectsNegative(t *testing.T) {
	if _, _, ok := DecodeTrigger(-1); ok {
		t.Fatal("expected negative payload to be rejected")
	}
}

// fakeRunner records which entry point was invoked, for Orchestrator tests
// that would otherwise need a real grading repository and journal.
type fakeRunner struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeRunner) Initial(ctx context.Context, name string) error    { return f.record("initial", name) }
func (f *fakeRunner) PeerReview(ctx context.Context, name string) error { return f.record("peer", name) }
func (f *fakeRunner) Final(ctx context.Context, name string) error      { return f.record("final", name) }

func (f *fakeRunner) record(stage, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, stage+":"+name)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/orch.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHandleTriggerRejectsUnknownAssignment(t *testing.T) {
	s := newTestStore(t)
	runner := &fakeRunner{}
	o := New(s, runner, t.TempDir(), zap.NewNop())

	o.handleTrigger(context.Background(), EncodeTrigger(999, StageInitial))

	if len(runner.calls) != 0 {
		t.Fatalf("expected no runner invocation, got %v", runner.calls)
	}
}

func TestHandleTriggerRejectsPastStage(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateAssignment(context.Background(), store.Assignment{
		Name:          "hw1",
		InitialDue:    1,
		PeerReviewDue: store.FarFuture,
		FinalDue:      store.FarFuture,
	})
	if err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	runner := &fakeRunner{}
	o := New(s, runner, t.TempDir(), zap.NewNop())

	o.handleTrigger(context.Background(), EncodeTrigger(id, StageInitial))

	if len(runner.calls) != 0 {
		t.Fatalf("expected stage-past trigger to be rejected, got %v", runner.calls)
	}
}

func TestHandleTriggerRunsFutureStage(t *testing.T) {
	s := newTestStore(t)
	future := time.Now().Add(time.Hour).Unix()
	id, err := s.CreateAssignment(context.Background(), store.Assignment{
		Name:          "hw2",
		InitialDue:    future,
		PeerReviewDue: store.FarFuture,
		FinalDue:      store.FarFuture,
	})
	if err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	runner := &fakeRunner{}
	o := New(s, runner, t.TempDir(), zap.NewNop())

	o.handleTrigger(context.Background(), EncodeTrigger(id, StageInitial))

	if len(runner.calls) != 1 || runner.calls[0] != "initial:hw2" {
		t.Fatalf("expected one initial run for hw2, got %v", runner.calls)
	}
}

func TestHandleTriggerRejectsWhileRunnerBusy(t *testing.T) {
	s := newTestStore(t)
	future := time.Now().Add(time.Hour).Unix()
	id, err := s.CreateAssignment(context.Background(), store.Assignment{
		Name:          "hw3",
		InitialDue:    future,
		PeerReviewDue: future,
		FinalDue:      store.FarFuture,
	})
	if err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	runner := &fakeRunner{}
	o := New(s, runner, t.TempDir(), zap.NewNop())
	o.runMu.Lock()
	defer o.runMu.Unlock()

	o.handleTrigger(context.Background(), EncodeTrigger(id, StageInitial))

	if len(runner.calls) != 0 {
		t.Fatalf("expected busy trigger to be rejected, got %v", runner.calls)
	}
}
