package engine

import (
	"context"
	"time"

	"github.com/aptiscout/aptiscout/internal/models"
	"github.com/aptiscout/aptiscout/internal/validators"
)

// publishEvent is a convenience wrapper around Engine.publish for worker code.
func (e *Engine) publishEvent(ctx context.Context, kind models.EventKind, runID, sourceID string, payload map[string]any) {
	e.publish(ctx, kind, runID, sourceID, payload)
}

// processRecords validates, dedupes, and submits every extracted record to
// the AI processor, decrementing remaining quota as records are approved for
// submission. When the submitter signals backpressure the target waits here
// and resubmits the record rather than dropping it.
func (e *Engine) processRecords(ctx context.Context, st *runState, runID string, cfg *models.SourceConfig, target models.Target, records []models.RawQuestion, remaining *int) {
	for i := range records {
		if *remaining <= 0 {
			return
		}
		raw := records[i]
		raw.SourceID = cfg.SourceID
		raw.TargetID = target.ID
		raw.JobRunID = runID

		e.bumpProgress(st, target.ID, func(p *models.TargetProgress) { p.Attempted++ })
		e.bumpRunProgress(st, func(p *models.RunProgress) { p.Attempted++ })

		if e.storage != nil {
			exists, err := e.storage.QuestionStore().ExistsByStableKey(ctx, cfg.SourceID, target.ID, raw.StableKey)
			if err == nil && exists {
				e.bumpProgress(st, target.ID, func(p *models.TargetProgress) { p.Duplicates++ })
				e.bumpRunProgress(st, func(p *models.RunProgress) { p.Duplicates++ })
				e.publishEvent(ctx, models.EventDuplicateFound, runID, cfg.SourceID, map[string]any{"target_id": target.ID, "stable_key": raw.StableKey})
				continue
			}
			_ = e.storage.QuestionStore().SaveRaw(ctx, &raw)
		}

		e.publishEvent(ctx, models.EventQuestionExtracted, runID, cfg.SourceID, map[string]any{"target_id": target.ID, "stable_key": raw.StableKey})
		e.bumpProgress(st, target.ID, func(p *models.TargetProgress) { p.Extracted++ })
		e.bumpRunProgress(st, func(p *models.RunProgress) { p.Extracted++ })

		report := validators.Validate(&raw, cfg.QualityThresholds)
		e.bumpRunProgress(st, func(p *models.RunProgress) { p.Validated++ })
		e.publishEvent(ctx, models.EventQuestionGated, runID, cfg.SourceID, map[string]any{"target_id": target.ID, "overall_score": report.Overall})

		if e.submitter == nil {
			*remaining--
			continue
		}

		err := e.submitter.Submit(ctx, raw, report)
		for err == ErrBackpressure {
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			err = e.submitter.Submit(ctx, raw, report)
		}
		if err != nil {
			continue
		}
		*remaining--
	}
}

func (e *Engine) bumpProgress(st *runState, targetID string, fn func(*models.TargetProgress)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	p := st.run.Targets[targetID]
	fn(&p)
	st.run.Targets[targetID] = p
}

func (e *Engine) bumpRunProgress(st *runState, fn func(*models.RunProgress)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(&st.run.Progress)
}

// markTargetFailed records a target as failed without failing the whole run,
// unless the run's fail_ratio threshold is crossed.
func (e *Engine) markTargetFailed(ctx context.Context, st *runState, targetID, reason string) {
	e.finishWork(st)

	st.mu.Lock()
	p := st.run.Targets[targetID]
	p.Failed = true
	p.LastError = reason
	st.run.Targets[targetID] = p
	run := st.run
	failRatio := run.Spec.Retry.FailRatio
	failedCount, total := 0, 0
	for _, tp := range run.Targets {
		total++
		if tp.Failed {
			failedCount++
		}
	}
	shouldFail := total > 0 && failRatio > 0 && float64(failedCount)/float64(total) >= failRatio
	st.mu.Unlock()

	if shouldFail {
		e.failRun(ctx, st, reason)
		return
	}
	e.persistRun(ctx, st)
	e.checkCompletion(ctx, st)
}

func (e *Engine) failRun(ctx context.Context, st *runState, reason string) {
	st.mu.Lock()
	if !models.CanTransition(st.run.State, models.JobFailed) {
		st.mu.Unlock()
		return
	}
	st.run.State = models.JobFailed
	st.run.LastError = reason
	st.run.CompletedAt = time.Now()
	runID := st.run.RunID
	st.mu.Unlock()

	e.persistRun(ctx, st)
	e.publish(ctx, models.EventJobStateChanged, runID, "", map[string]any{"state": "failed", "reason": reason})

	e.mu.Lock()
	delete(e.runs, runID)
	e.mu.Unlock()
}

// completeTarget finishes a target's work item. Unused quota spills back into
// the source's pool for other targets to draw on.
func (e *Engine) completeTarget(ctx context.Context, st *runState, item workItem, remaining int) {
	e.finishWork(st)

	st.mu.Lock()
	if remaining > 0 {
		if st.spillPool == nil {
			st.spillPool = make(map[string]int)
		}
		st.spillPool[models.NormalizeSourceID(item.sourceID)] += remaining
	}
	p := st.run.Targets[item.target.ID]
	if !p.Failed {
		p.Approved = p.Extracted - p.Rejected - p.Duplicates
	}
	st.run.Targets[item.target.ID] = p
	st.mu.Unlock()

	e.publishEvent(ctx, models.EventTargetFinished, item.runID, item.sourceID, map[string]any{"target_id": item.target.ID})
	e.persistRun(ctx, st)
	e.drawSpillInto(st, item.sourceID)
	e.checkCompletion(ctx, st)
}

// drawSpillInto offers the source's spill pool to another still-schedulable
// target of the same source, if any remain under the job's category filter.
func (e *Engine) drawSpillInto(st *runState, sourceID string) {
	st.mu.Lock()
	key := models.NormalizeSourceID(sourceID)
	spill := st.spillPool[key]
	if spill <= 0 {
		st.mu.Unlock()
		return
	}
	cfg := st.source[key]
	run := st.run
	if cfg == nil {
		st.mu.Unlock()
		return
	}
	var candidate *models.Target
	for i := range cfg.Targets {
		t := cfg.Targets[i]
		// A target with a progress entry has already run (or failed), including
		// the one whose completion produced this spill.
		if _, touched := run.Targets[t.ID]; touched || t.HardCap > 0 {
			continue
		}
		if !categoryAllowed(t.Category, run.Spec.TargetCategories) {
			continue
		}
		candidate = &cfg.Targets[i]
		break
	}
	if candidate == nil {
		st.mu.Unlock()
		return
	}
	st.spillPool[key] = 0
	priority := run.Spec.Priority
	runID := run.RunID
	st.mu.Unlock()

	e.pushWork(st, workItem{runID: runID, sourceID: sourceID, target: *candidate, priority: priority, remainingQuota: spill})
}

func (e *Engine) persistPause(ctx context.Context, st *runState, item workItem, targetID string) {
	e.finishWork(st)

	st.mu.Lock()
	p := st.run.Targets[targetID]
	p.PageCursor = item.resumeCursor
	st.run.Targets[targetID] = p
	st.mu.Unlock()
	e.persistRun(ctx, st)
}

func (e *Engine) persistRun(ctx context.Context, st *runState) {
	st.mu.Lock()
	run := *st.run
	st.mu.Unlock()
	if e.storage == nil {
		return
	}
	if err := e.storage.JobStore().UpdateRun(ctx, &run); err != nil {
		e.logger.Warn().Err(err).Str("run_id", run.RunID).Msg("failed to persist job run progress")
	}
}

// idleQuorumInterval is the spacing between consecutive idle-quorum
// rechecks in checkCompletion, matching the ~200ms-per-tick cadence the
// idle-worker quorum this is grounded on uses.
const idleQuorumInterval = 200 * time.Millisecond

// checkCompletion transitions a run to completing/completed once every
// target has finished (successfully or failed) and no work remains
// outstanding. A single all-done observation isn't trusted on its own: two
// workers finishing different targets of the same run can race between
// decrementing outstanding work and spilling leftover quota into another
// target, so completion only fires after IdleQuorumTicks consecutive
// all-done observations (an idle-worker quorum) confirm nothing more is
// about to be queued.
func (e *Engine) checkCompletion(ctx context.Context, st *runState) {
	st.mu.Lock()
	run := st.run
	if run.State != models.JobRunning {
		st.mu.Unlock()
		return
	}

	totalTargets := 0
	for _, sourceID := range run.Spec.SourceIDs {
		cfg, ok := st.source[models.NormalizeSourceID(sourceID)]
		if !ok {
			continue
		}
		totalTargets += len(filteredTargets(cfg, run.Spec.TargetCategories))
	}
	finished := len(run.Targets)
	allDone := finished >= totalTargets && totalTargets > 0 && st.outstanding == 0
	if !allDone {
		st.idleStreak = 0
		st.mu.Unlock()
		return
	}

	quorum := e.config.IdleQuorumTicks
	if quorum < 1 {
		quorum = 1
	}
	st.idleStreak++
	if st.idleStreak < quorum {
		st.mu.Unlock()
		e.safeGo("idle-quorum-recheck", func() {
			time.Sleep(idleQuorumInterval)
			e.checkCompletion(ctx, st)
		})
		return
	}
	st.idleStreak = 0

	run.State = models.JobCompleting
	st.mu.Unlock()
	e.persistRun(ctx, st)

	st.mu.Lock()
	run.State = models.JobCompleted
	run.CompletedAt = time.Now()
	runID := run.RunID
	st.mu.Unlock()
	e.persistRun(ctx, st)

	e.publish(ctx, models.EventJobStateChanged, runID, "", map[string]any{"state": "completed"})

	e.mu.Lock()
	delete(e.runs, runID)
	e.mu.Unlock()
}
