package engine

import (
	"context"
	"time"

	"github.com/aptiscout/aptiscout/internal/extractors"
	"github.com/aptiscout/aptiscout/internal/interfaces"
	"github.com/aptiscout/aptiscout/internal/models"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 2.0
)

// workerLoop continuously pops target work items and runs them to completion
// (or to a safepoint boundary): dequeue, execute, report, repeat until ctx is cancelled.
func (e *Engine) workerLoop(ctx context.Context) {
	for {
		item, ok := e.sched.pop(ctx)
		if !ok {
			return
		}
		e.runTarget(ctx, item)
	}
}

// runTarget executes one target end to end: acquire session + driver,
// navigate and extract every page, advancing pagination until exhausted,
// paused, or cancelled.
func (e *Engine) runTarget(ctx context.Context, item workItem) {
	e.mu.Lock()
	st := e.runs[item.runID]
	e.mu.Unlock()
	if st == nil {
		return
	}

	cfg := e.sourceConfigFor(st, item.sourceID)
	if cfg == nil {
		e.finishWork(st)
		return
	}
	retry := e.runRetryPolicy(st)

	sem := e.sourceSemaphore(cfg)
	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		e.finishWork(st)
		return
	}

	limiter := e.sourceLimiter(cfg)

	sess, err := e.substrate.AcquireSession(ctx, cfg.SourceID)
	if err != nil {
		e.markTargetFailed(ctx, st, item.target.ID, err.Error())
		return
	}

	driver, err := e.drivers(cfg.Method)
	if err != nil {
		e.markTargetFailed(ctx, st, item.target.ID, err.Error())
		return
	}
	defer driver.Close()

	if err := driver.Start(ctx, sess, cfg.BaseURL); err != nil {
		e.markTargetFailed(ctx, st, item.target.ID, err.Error())
		return
	}

	target := item.target
	remaining := item.remainingQuota
	e.publishEvent(ctx, models.EventTargetStarted, item.runID, cfg.SourceID, map[string]any{"target_id": target.ID})

	navURL := target.EntryURL
	if item.resumeCursor != "" {
		navURL = item.resumeCursor
	}

	gotoErr := e.gotoWithRetry(ctx, driver, sess, cfg, target, navURL, limiter, retry)
	if gotoErr != nil {
		e.markTargetFailed(ctx, st, target.ID, gotoErr.Error())
		e.publishEvent(ctx, models.EventDriverError, item.runID, cfg.SourceID, map[string]any{"target_id": target.ID, "error": gotoErr.Error()})
		return
	}

	for remaining > 0 {
		if e.safepointStop(ctx, st) {
			e.persistPause(ctx, st, item, target.ID)
			return
		}

		grant, err := limiter.Acquire(ctx)
		if err != nil || !grant.Granted {
			continue
		}

		start := time.Now()
		result, extractErr := e.extractWithRetry(ctx, driver, target, item.runID, cfg.SourceID, retry)
		if extractErr != nil {
			limiter.NotifyResult(false)
			e.substrate.NotifyOutcome(cfg.SourceID, sess, target.EntryURL, 0, time.Since(start), false)
			e.markTargetFailed(ctx, st, target.ID, extractErr.Error())
			e.publishEvent(ctx, models.EventDriverError, item.runID, cfg.SourceID, map[string]any{"target_id": target.ID, "error": extractErr.Error()})
			return
		}
		limiter.NotifyResult(result.OK)
		e.substrate.NotifyOutcome(cfg.SourceID, sess, target.EntryURL, 200, time.Since(start), false)

		if result.SelectorHitRate < extractors.SchemaDriftThreshold {
			e.publishEvent(ctx, models.EventSchemaDrift, item.runID, cfg.SourceID, map[string]any{"target_id": target.ID, "hit_rate": result.SelectorHitRate})
			if len(result.Records) == 0 {
				e.markTargetFailed(ctx, st, target.ID, "schema drift: selector hit rate below threshold")
				return
			}
		}

		e.processRecords(ctx, st, item.runID, cfg, target, result.Records, &remaining)

		if pause, cooldown := e.substrate.ShouldPauseSource(cfg.SourceID); pause {
			e.logger.Warn().Str("source_id", cfg.SourceID).Dur("cooldown", cooldown).Msg("source paused by anti-detect substrate")
			e.persistPause(ctx, st, item, target.ID)
			return
		}

		if remaining <= 0 {
			break
		}

		more, advErr := e.extractor.Advance(ctx, driver, target)
		if advErr != nil || !more {
			break
		}
	}

	e.completeTarget(ctx, st, item, remaining)
}

func (e *Engine) gotoWithRetry(ctx context.Context, driver interfaces.Driver, sess *interfaces.Session, cfg *models.SourceConfig, target models.Target, url string, limiter interfaces.RateLimiter, retry models.RetryPolicy) error {
	maxAttempts, base := retryBudget(retry)
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		grant, err := limiter.Acquire(ctx)
		if err != nil {
			return err
		}
		if !grant.Granted {
			continue
		}
		start := time.Now()
		res, err := driver.Goto(ctx, url, interfaces.WaitNetworkIdle, "")
		if err == nil && res.OK && !res.DetectedBlock {
			limiter.NotifyResult(true)
			e.substrate.NotifyOutcome(cfg.SourceID, sess, url, res.Status, time.Since(start), false)
			return nil
		}
		lastErr = err
		if err == nil {
			lastErr = errSchemaOrBlock(res)
		}
		detectedBlock := err == nil && res.DetectedBlock
		limiter.NotifyResult(false)
		status := 0
		if res != nil {
			status = res.Status
		}
		e.substrate.NotifyOutcome(cfg.SourceID, sess, url, status, time.Since(start), detectedBlock)
		if !backoffWait(ctx, base, attempt) {
			return ctx.Err()
		}
	}
	return lastErr
}

func errSchemaOrBlock(res *interfaces.PageLoadResult) error {
	if res.DetectedBlock {
		return errDetectedBlock
	}
	return errPageLoadFailed
}

var (
	errDetectedBlock  = pageErr("bot wall detected")
	errPageLoadFailed = pageErr("page load did not succeed")
)

type pageErr string

func (e pageErr) Error() string { return string(e) }

func (e *Engine) sourceConfigFor(st *runState, sourceID string) *models.SourceConfig {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.source[models.NormalizeSourceID(sourceID)]
}

// runRetryPolicy reads the owning run's retry policy (a JobSpec-level knob,
// not per-source) under the run's lock.
func (e *Engine) runRetryPolicy(st *runState) models.RetryPolicy {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.run.Spec.Retry
}

func (e *Engine) safepointStop(ctx context.Context, st *runState) bool {
	select {
	case <-ctx.Done():
		return true
	default:
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.paused || st.cancelled
}

func retryBudget(retry models.RetryPolicy) (int, float64) {
	maxAttempts := retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	base := retry.BackoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}
	return maxAttempts, base
}

func backoffWait(ctx context.Context, base float64, attempt int) bool {
	wait := time.Duration(float64(time.Second) * pow(base, float64(attempt)))
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// extractWithRetry retries transport/selector-miss errors up to MaxAttempts
// with exponential backoff.
func (e *Engine) extractWithRetry(ctx context.Context, driver interfaces.Driver, target models.Target, runID, sourceID string, retry models.RetryPolicy) (extractors.ExtractionResult, error) {
	maxAttempts, base := retryBudget(retry)
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		res, err := e.extractor.ExtractPage(ctx, driver, target, runID, sourceID)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !backoffWait(ctx, base, attempt) {
			return extractors.ExtractionResult{}, ctx.Err()
		}
	}
	return extractors.ExtractionResult{}, lastErr
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}
