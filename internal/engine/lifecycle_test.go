package engine

import (
	"context"
	"testing"
	"time"

	"github.com/aptiscout/aptiscout/internal/models"
)

func sourceConfig(sourceID string, targets ...models.Target) *models.SourceConfig {
	return &models.SourceConfig{
		SourceID: sourceID,
		Method:   models.ExtractionStaticDOM,
		BaseURL:  "https://example.test/" + sourceID,
		Targets:  targets,
		Enabled:  true,
	}
}

func target(id, category string) models.Target {
	return models.Target{
		ID:          id,
		Category:    category,
		EntryURL:    "https://example.test/" + id,
		Pagination:  models.PaginationNone,
		Constraints: models.ExtractionConstraints{MaxCount: 10},
	}
}

// awaitTerminal polls GetRun until the run reaches a terminal state or the
// deadline passes, failing the test in the latter case.
func awaitTerminal(t *testing.T, e *Engine, runID string, timeout time.Duration) *models.JobRun {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		run, err := e.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.State.IsTerminal() {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not reach a terminal state within %s", runID, timeout)
	return nil
}

func TestEngine_QueuedRunningCompleted(t *testing.T) {
	storage := newFakeStorage()
	storage.putSource(sourceConfig("source-a", target("t1", "general")))

	// MaxQuestionsPerSrc matches recordsPerPage exactly so the single target
	// exhausts its quota on the one page fakeExtractor yields.
	e := newTestEngine(storage, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	run, err := e.CreateJob(ctx, models.JobSpec{SourceIDs: []string{"source-a"}, MaxQuestionsPerSrc: 2, Priority: models.PriorityMedium})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if run.State != models.JobQueued {
		t.Fatalf("expected new run to be queued, got %s", run.State)
	}

	if err := e.StartRun(ctx, run.RunID); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	final := awaitTerminal(t, e, run.RunID, 2*time.Second)
	if final.State != models.JobCompleted {
		t.Fatalf("expected run to complete, got %s (last_error=%q)", final.State, final.LastError)
	}
}

// TestEngine_CategoryFilterStillCompletes is the direct regression test for
// the bug where totalTargets counted every target of a source while
// enqueueAllTargets only scheduled the category-filtered subset, so a run
// with a category filter could never observe finished >= totalTargets and
// would hang in running forever.
func TestEngine_CategoryFilterStillCompletes(t *testing.T) {
	storage := newFakeStorage()
	storage.putSource(sourceConfig("source-a",
		target("t-allowed", "general"),
		target("t-excluded", "finance"),
	))

	// Per-target quota splits across both of the source's targets (2), so
	// MaxQuestionsPerSrc=2 gives the one schedulable target a quota of 1 —
	// exactly what fakeExtractor yields per page, leaving no quota to spill.
	e := newTestEngine(storage, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	run, err := e.CreateJob(ctx, models.JobSpec{
		SourceIDs:          []string{"source-a"},
		MaxQuestionsPerSrc: 2,
		TargetCategories:   []string{"general"},
		Priority:           models.PriorityMedium,
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := e.StartRun(ctx, run.RunID); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	final := awaitTerminal(t, e, run.RunID, 2*time.Second)
	if final.State != models.JobCompleted {
		t.Fatalf("expected category-filtered run to complete, got %s (last_error=%q)", final.State, final.LastError)
	}
	if _, touched := final.Targets["t-excluded"]; touched {
		t.Error("excluded target should never have been scheduled")
	}
}

// TestEngine_PauseThenResumeTransitionsCorrectly exercises the
// running->paused->running edge of the state machine. The target's
// extraction is held open on an unclosed gate so the worker is reliably
// still mid-flight when PauseRun is called, independent of scheduling
// timing; e.Stop()'s context cancellation unblocks it at teardown.
func TestEngine_PauseThenResumeTransitionsCorrectly(t *testing.T) {
	storage := newFakeStorage()
	storage.putSource(sourceConfig("source-a", target("t1", "general")))

	gated := newGatedExtractor()
	e := newTestEngineWithExtractor(storage, gated)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	run, err := e.CreateJob(ctx, models.JobSpec{SourceIDs: []string{"source-a"}, MaxQuestionsPerSrc: 1, Priority: models.PriorityMedium})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := e.StartRun(ctx, run.RunID); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	// Give the worker time to reach the gated extraction call before pausing.
	time.Sleep(20 * time.Millisecond)
	if err := e.PauseRun(ctx, run.RunID); err != nil {
		t.Fatalf("PauseRun: %v", err)
	}
	paused, err := e.GetRun(ctx, run.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if paused.State != models.JobPaused {
		t.Fatalf("expected paused, got %s", paused.State)
	}

	if err := e.StartRun(ctx, run.RunID); err != nil {
		t.Fatalf("resuming StartRun: %v", err)
	}
	resumed, err := e.GetRun(ctx, run.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if resumed.State != models.JobRunning {
		t.Fatalf("expected running after resume, got %s", resumed.State)
	}
}

func TestEngine_CancelFromQueued(t *testing.T) {
	storage := newFakeStorage()
	storage.putSource(sourceConfig("source-a", target("t1", "general")))
	e := newTestEngine(storage, 1)

	run, err := e.CreateJob(context.Background(), models.JobSpec{SourceIDs: []string{"source-a"}, MaxQuestionsPerSrc: 5})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := e.CancelRun(context.Background(), run.RunID); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}
	got, err := e.GetRun(context.Background(), run.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.State != models.JobCancelled {
		t.Fatalf("expected cancelled, got %s", got.State)
	}
}

func TestEngine_IllegalTransitionsRejected(t *testing.T) {
	storage := newFakeStorage()
	storage.putSource(sourceConfig("source-a", target("t1", "general")))
	e := newTestEngine(storage, 1)
	ctx := context.Background()

	run, err := e.CreateJob(ctx, models.JobSpec{SourceIDs: []string{"source-a"}, MaxQuestionsPerSrc: 5})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := e.PauseRun(ctx, run.RunID); err == nil {
		t.Error("expected pausing a queued (not yet active) run to fail")
	}
	if err := e.CancelRun(ctx, run.RunID); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}
	if err := e.StartRun(ctx, run.RunID); err == nil {
		t.Error("expected starting a cancelled run to fail")
	}
	if err := e.CancelRun(ctx, run.RunID); err == nil {
		t.Error("expected cancelling an already-cancelled run to fail")
	}
}
