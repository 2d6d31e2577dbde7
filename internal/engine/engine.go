// Package engine implements the scraping engine: a persistent job queue,
// priority scheduler, bounded worker pool, and the JobRun state machine,
// with per-source concurrency-capped target scheduling.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aptiscout/aptiscout/internal/common"
	"github.com/aptiscout/aptiscout/internal/extractors"
	"github.com/aptiscout/aptiscout/internal/interfaces"
	"github.com/aptiscout/aptiscout/internal/models"
	"github.com/aptiscout/aptiscout/internal/monitoring"
)

// Submitter is C7's intake contract: the engine hands every validated
// RawQuestion to the AI processor across this bounded boundary. When Submit
// returns ErrBackpressure, the engine pauses the owning target rather than
// dropping the record (a target-pause rather than a dropped record).
type Submitter interface {
	Submit(ctx context.Context, raw models.RawQuestion, report models.QualityReport) error
}

// ErrBackpressure signals the AI processor's intake queue is full.
var ErrBackpressure = fmt.Errorf("ai processor backpressure")

// DriverFactory builds a fresh C3 driver for a source's extraction method.
// Supplied by the composition root so the engine never imports a concrete
// browser implementation directly.
type DriverFactory func(method models.ExtractionMethod) (interfaces.Driver, error)

// RateLimiterFactory builds a per-source C2 limiter from its RateLimitParams.
type RateLimiterFactory func(params models.RateLimitParams) interfaces.RateLimiter

// Config tunes the engine's scheduling policy.
type Config struct {
	GlobalConcurrency     int
	StaticSourceConcurrency int
	DynamicSourceConcurrency int
	CancelGraceSeconds    int
	// IdleQuorumTicks is how many consecutive all-done observations
	// checkCompletion requires before it trusts a run is actually finished.
	IdleQuorumTicks int
}

// DefaultConfig returns the documented default engine sizing.
func DefaultConfig() Config {
	return Config{
		GlobalConcurrency:       8,
		StaticSourceConcurrency: 1,
		DynamicSourceConcurrency: 2,
		CancelGraceSeconds:      30,
		IdleQuorumTicks:         3,
	}
}

// Engine owns every in-flight JobRun and dispatches target work items to a
// bounded worker pool.
type Engine struct {
	storage   interfaces.StorageManager
	substrate interfaces.AntiDetectSubstrate
	extractor extractors.Extractor
	drivers   DriverFactory
	limiters  RateLimiterFactory
	submitter Submitter
	bus       *monitoring.EventBus
	registry  *monitoring.Registry
	logger    *common.Logger
	config    Config

	mu          sync.Mutex
	runs        map[string]*runState
	sourceLimiters map[string]interfaces.RateLimiter
	sourceSem   map[string]chan struct{}

	sched  *scheduler
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// runState is the engine's in-process view of one active JobRun: its current
// snapshot plus the cooperative control channels pause/cancel use.
type runState struct {
	mu          sync.Mutex
	run         *models.JobRun
	source      map[string]*models.SourceConfig // source_id -> config, snapshotted at start
	paused      bool
	pauseCh     chan struct{} // closed to signal "resume"
	cancelled   bool
	spillPool   map[string]int // source_id -> unused quota available for spill
	outstanding int            // work items pushed but not yet finished
	idleStreak  int            // consecutive all-done observations in checkCompletion
}

// pushWork enqueues item and marks it outstanding for st's run, so
// checkCompletion can tell "every target has an entry" apart from "every
// target is actually done."
func (e *Engine) pushWork(st *runState, item workItem) {
	st.mu.Lock()
	st.outstanding++
	st.mu.Unlock()
	e.sched.push(item)
}

// finishWork marks one previously pushed work item as no longer in flight,
// whatever the outcome (completed, failed, or paused at a safepoint).
func (e *Engine) finishWork(st *runState) {
	st.mu.Lock()
	if st.outstanding > 0 {
		st.outstanding--
	}
	st.mu.Unlock()
}

// NewEngine builds an Engine. submitter, bus, and registry may be nil in tests
// that only exercise the state machine.
func NewEngine(storage interfaces.StorageManager, substrate interfaces.AntiDetectSubstrate, extractor extractors.Extractor, drivers DriverFactory, limiters RateLimiterFactory, submitter Submitter, bus *monitoring.EventBus, registry *monitoring.Registry, logger *common.Logger, config Config) *Engine {
	if config.GlobalConcurrency <= 0 {
		config = DefaultConfig()
	}
	return &Engine{
		storage:        storage,
		substrate:      substrate,
		extractor:      extractor,
		drivers:        drivers,
		limiters:       limiters,
		submitter:      submitter,
		bus:            bus,
		registry:       registry,
		logger:         logger,
		config:         config,
		runs:           make(map[string]*runState),
		sourceLimiters: make(map[string]interfaces.RateLimiter),
		sourceSem:      make(map[string]chan struct{}),
		sched:          newScheduler(),
	}
}

// safeGo launches a tracked goroutine with panic recovery.
func (e *Engine) safeGo(name string, fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("recovered from panic in engine goroutine")
			}
		}()
		fn()
	}()
}

// Start resets orphaned runs from a prior crash and launches the worker pool.
func (e *Engine) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if count, err := e.storage.JobStore().ResetRunningRuns(runCtx); err != nil {
		e.logger.Warn().Err(err).Msg("failed to reset orphaned running job runs")
	} else if count > 0 {
		e.logger.Info().Int("count", count).Msg("reset orphaned running job runs to queued")
	}

	for i := 0; i < e.config.GlobalConcurrency; i++ {
		idx := i
		e.safeGo(fmt.Sprintf("engine-worker-%d", idx), func() { e.workerLoop(runCtx) })
	}

	e.logger.Info().Int("concurrency", e.config.GlobalConcurrency).Msg("scraping engine started")
}

// Stop cancels every worker and waits for in-flight work to observe it.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.logger.Info().Msg("scraping engine stopped")
}

// CreateJob persists a new JobSpec and its first queued JobRun.
func (e *Engine) CreateJob(ctx context.Context, spec models.JobSpec) (*models.JobRun, error) {
	if spec.JobID == "" {
		spec.JobID = uuid.New().String()
	}
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = time.Now()
	}
	if spec.Retry == (models.RetryPolicy{}) {
		spec.Retry = models.DefaultRetryPolicy()
	}

	if err := e.storage.JobStore().CreateSpec(ctx, &spec); err != nil {
		return nil, common.WrapError(common.KindStorage, "persist job spec", err)
	}

	run := &models.JobRun{
		RunID:     uuid.New().String(),
		JobSpecID: spec.JobID,
		Spec:      spec,
		State:     models.JobQueued,
		Targets:   make(map[string]models.TargetProgress),
		CreatedAt: time.Now(),
	}
	if err := e.storage.JobStore().CreateRun(ctx, run); err != nil {
		return nil, common.WrapError(common.KindStorage, "persist job run", err)
	}

	e.publish(ctx, models.EventJobStateChanged, run.RunID, "", map[string]any{"state": string(run.State)})
	return run, nil
}

// StartRun transitions a run to running and schedules its targets.
func (e *Engine) StartRun(ctx context.Context, runID string) error {
	run, err := e.storage.JobStore().FindRun(ctx, runID)
	if err != nil {
		return common.WrapError(common.KindStorage, "find job run", err)
	}
	if !models.CanTransition(run.State, models.JobRunning) {
		return common.NewError(common.KindValidation, fmt.Sprintf("cannot start run in state %s", run.State))
	}

	resuming := run.State == models.JobPaused
	run.State = models.JobRunning
	if !resuming {
		run.StartedAt = time.Now()
	}
	if err := e.storage.JobStore().UpdateRun(ctx, run); err != nil {
		return common.WrapError(common.KindStorage, "update job run", err)
	}

	sources, err := e.loadSources(ctx, run.Spec.SourceIDs)
	if err != nil {
		return err
	}

	e.mu.Lock()
	st, exists := e.runs[runID]
	if !exists {
		st = &runState{run: run, source: sources, pauseCh: make(chan struct{}), spillPool: make(map[string]int)}
		e.runs[runID] = st
	} else {
		st.mu.Lock()
		st.run = run
		st.paused = false
		st.source = sources
		close(st.pauseCh)
		st.pauseCh = make(chan struct{})
		st.mu.Unlock()
	}
	e.mu.Unlock()

	e.publish(ctx, models.EventJobStateChanged, runID, "", map[string]any{"state": "running"})

	if resuming {
		e.enqueuePendingTargets(st, run, sources)
		return nil
	}
	e.enqueueAllTargets(st, run, sources)
	return nil
}

func (e *Engine) loadSources(ctx context.Context, ids []string) (map[string]*models.SourceConfig, error) {
	out := make(map[string]*models.SourceConfig, len(ids))
	for _, id := range ids {
		cfg, err := e.storage.SourceStore().FindByID(ctx, id)
		if err != nil {
			return nil, common.WrapError(common.KindStorage, fmt.Sprintf("load source %s", id), err)
		}
		out[models.NormalizeSourceID(id)] = cfg
		e.substrate.ConfigureSource(
			cfg.SourceID,
			cfg.AntiDetect.RiskThreshold,
			time.Duration(cfg.AntiDetect.CooldownSeconds)*time.Second,
			time.Duration(cfg.AntiDetect.RiskHalfLifeSecs)*time.Second,
			nil,
			cfg.AntiDetect.ProxyRotation,
		)
	}
	return out, nil
}

func (e *Engine) enqueueAllTargets(st *runState, run *models.JobRun, sources map[string]*models.SourceConfig) {
	for _, sourceID := range run.Spec.SourceIDs {
		cfg, ok := sources[models.NormalizeSourceID(sourceID)]
		if !ok {
			continue
		}
		quota := perTargetQuota(run.Spec.MaxQuestionsPerSrc, len(cfg.Targets))
		for _, target := range filteredTargets(cfg, run.Spec.TargetCategories) {
			e.pushWork(st, workItem{
				runID: run.RunID, sourceID: cfg.SourceID, target: target,
				priority: run.Spec.Priority, remainingQuota: effectiveQuota(target, quota),
			})
		}
	}
}

func (e *Engine) enqueuePendingTargets(st *runState, run *models.JobRun, sources map[string]*models.SourceConfig) {
	for _, sourceID := range run.Spec.SourceIDs {
		cfg, ok := sources[models.NormalizeSourceID(sourceID)]
		if !ok {
			continue
		}
		quota := perTargetQuota(run.Spec.MaxQuestionsPerSrc, len(cfg.Targets))
		for _, target := range filteredTargets(cfg, run.Spec.TargetCategories) {
			progress := run.Targets[target.ID]
			if progress.Failed {
				continue
			}
			remaining := effectiveQuota(target, quota) - progress.Approved
			if remaining <= 0 {
				continue
			}
			e.pushWork(st, workItem{
				runID: run.RunID, sourceID: cfg.SourceID, target: target,
				priority: run.Spec.Priority, remainingQuota: remaining, resumeCursor: progress.PageCursor,
			})
		}
	}
}

func perTargetQuota(maxPerSource, targetCount int) int {
	if targetCount == 0 {
		return 0
	}
	return maxPerSource / targetCount
}

func effectiveQuota(target models.Target, quota int) int {
	if target.HardCap > 0 {
		return target.HardCap
	}
	return quota
}

func categoryAllowed(category string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == category {
			return true
		}
	}
	return false
}

// filteredTargets returns cfg's targets that pass run's category filter —
// the exact set enqueueAllTargets/enqueuePendingTargets schedule work for,
// and the set checkCompletion must size totalTargets against.
func filteredTargets(cfg *models.SourceConfig, allowedCategories []string) []models.Target {
	if len(allowedCategories) == 0 {
		return cfg.Targets
	}
	out := make([]models.Target, 0, len(cfg.Targets))
	for _, target := range cfg.Targets {
		if categoryAllowed(target.Category, allowedCategories) {
			out = append(out, target)
		}
	}
	return out
}

// PauseRun cooperatively pauses a running JobRun: in-flight pages finish,
// then the run's workers suspend at the next safepoint.
func (e *Engine) PauseRun(ctx context.Context, runID string) error {
	e.mu.Lock()
	st, ok := e.runs[runID]
	e.mu.Unlock()
	if !ok {
		return common.NewError(common.KindValidation, "run is not active")
	}

	st.mu.Lock()
	if !models.CanTransition(st.run.State, models.JobPaused) {
		state := st.run.State
		st.mu.Unlock()
		return common.NewError(common.KindValidation, fmt.Sprintf("cannot pause run in state %s", state))
	}
	st.run.State = models.JobPaused
	st.run.PausedAt = time.Now()
	st.paused = true
	run := *st.run
	st.mu.Unlock()

	if err := e.storage.JobStore().UpdateRun(ctx, &run); err != nil {
		return common.WrapError(common.KindStorage, "update job run", err)
	}
	e.publish(ctx, models.EventJobStateChanged, runID, "", map[string]any{"state": "paused"})
	return nil
}

// CancelRun marks a run cancelled; workers observe this at the next safepoint
// (between pages). No grace timer is applied: a page already in flight runs
// to completion, and Config.CancelGraceSeconds is not read.
func (e *Engine) CancelRun(ctx context.Context, runID string) error {
	e.mu.Lock()
	st, ok := e.runs[runID]
	e.mu.Unlock()

	var run *models.JobRun
	if ok {
		st.mu.Lock()
		if !models.CanTransition(st.run.State, models.JobCancelled) {
			state := st.run.State
			st.mu.Unlock()
			return common.NewError(common.KindValidation, fmt.Sprintf("cannot cancel run in state %s", state))
		}
		st.cancelled = true
		st.run.State = models.JobCancelled
		st.run.CompletedAt = time.Now()
		r := *st.run
		run = &r
		st.mu.Unlock()
	} else {
		var err error
		run, err = e.storage.JobStore().FindRun(ctx, runID)
		if err != nil {
			return common.WrapError(common.KindStorage, "find job run", err)
		}
		if !models.CanTransition(run.State, models.JobCancelled) {
			return common.NewError(common.KindValidation, fmt.Sprintf("cannot cancel run in state %s", run.State))
		}
		run.State = models.JobCancelled
		run.CompletedAt = time.Now()
	}

	if err := e.storage.JobStore().UpdateRun(ctx, run); err != nil {
		return common.WrapError(common.KindStorage, "update job run", err)
	}
	e.publish(ctx, models.EventJobStateChanged, runID, "", map[string]any{"state": "cancelled"})

	e.mu.Lock()
	delete(e.runs, runID)
	e.mu.Unlock()
	return nil
}

// GetRun returns the live in-process snapshot if active, else falls back to storage.
func (e *Engine) GetRun(ctx context.Context, runID string) (*models.JobRun, error) {
	e.mu.Lock()
	st, ok := e.runs[runID]
	e.mu.Unlock()
	if ok {
		st.mu.Lock()
		defer st.mu.Unlock()
		snapshot := *st.run
		return &snapshot, nil
	}
	return e.storage.JobStore().FindRun(ctx, runID)
}

func (e *Engine) publish(ctx context.Context, kind models.EventKind, jobID, sourceID string, payload map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(ctx, kind, jobID, sourceID, payload)
}

func (e *Engine) sourceLimiter(cfg *models.SourceConfig) interfaces.RateLimiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := cfg.NormalizedID()
	if lim, ok := e.sourceLimiters[key]; ok {
		return lim
	}
	lim := e.limiters(cfg.RateLimit)
	e.sourceLimiters[key] = lim
	return lim
}

func (e *Engine) sourceSemaphore(cfg *models.SourceConfig) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := cfg.NormalizedID()
	if sem, ok := e.sourceSem[key]; ok {
		return sem
	}
	cap := e.config.StaticSourceConcurrency
	if cfg.Method == models.ExtractionDynamicJS {
		cap = e.config.DynamicSourceConcurrency
	}
	if cap <= 0 {
		cap = 1
	}
	sem := make(chan struct{}, cap)
	e.sourceSem[key] = sem
	return sem
}
