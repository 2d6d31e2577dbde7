package monitoring

import (
	"context"
	"time"

	"github.com/aptiscout/aptiscout/internal/interfaces"
	"github.com/aptiscout/aptiscout/internal/models"
)

// Checker reports a component's current health, used by HealthBuilder to
// populate SystemHealthReport.Basic.Components (storage pings, AI client
// reachability, browser drivers...).
type Checker interface {
	Name() string
	Check(ctx context.Context) models.ComponentHealth
}

// HealthBuilder assembles the unified SystemHealthReport
// that both `/scraping/health` and `/scraping/system-status` project from.
type HealthBuilder struct {
	startedAt time.Time
	checkers  []Checker
	jobs      interfaces.JobStore
	questions interfaces.QuestionStore
	duplicates interfaces.DuplicateStore
	registry  *Registry
	alerts    *AlertManager
}

// NewHealthBuilder builds a HealthBuilder. checkers may be empty.
func NewHealthBuilder(jobs interfaces.JobStore, questions interfaces.QuestionStore, duplicates interfaces.DuplicateStore, registry *Registry, alerts *AlertManager, checkers ...Checker) *HealthBuilder {
	return &HealthBuilder{
		startedAt:  time.Now(),
		checkers:   checkers,
		jobs:       jobs,
		questions:  questions,
		duplicates: duplicates,
		registry:   registry,
		alerts:     alerts,
	}
}

// Build produces a fresh SystemHealthReport.
func (h *HealthBuilder) Build(ctx context.Context) models.SystemHealthReport {
	basic := h.buildBasic(ctx)
	analytics := h.buildAnalytics(ctx)
	return models.SystemHealthReport{
		GeneratedAt: time.Now(),
		Basic:       basic,
		Analytics:   analytics,
	}
}

func (h *HealthBuilder) buildBasic(ctx context.Context) models.BasicHealth {
	components := make([]models.ComponentHealth, 0, len(h.checkers))
	overall := models.HealthOK
	for _, c := range h.checkers {
		ch := c.Check(ctx)
		components = append(components, ch)
		if ch.Status == models.HealthDown {
			overall = models.HealthDown
		} else if ch.Status == models.HealthDegraded && overall == models.HealthOK {
			overall = models.HealthDegraded
		}
	}
	return models.BasicHealth{
		Status:     overall,
		UptimeSec:  time.Since(h.startedAt).Seconds(),
		Components: components,
	}
}

func (h *HealthBuilder) buildAnalytics(ctx context.Context) models.AnalyticsHealth {
	var analytics models.AnalyticsHealth

	if h.jobs != nil {
		if running, err := h.jobs.ListRunsByState(ctx, models.JobRunning); err == nil {
			analytics.ActiveJobs = len(running)
		}
		if queued, err := h.jobs.ListRunsByState(ctx, models.JobQueued); err == nil {
			analytics.QueuedJobs = len(queued)
		}
	}

	if h.questions != nil {
		since := time.Now().Add(-time.Hour)
		if rows, err := h.questions.RangeProcessed(ctx, interfaces.QuestionRangeOptions{Limit: 0}); err == nil {
			count := 0
			for _, q := range rows {
				if q.ExtractedAt.After(since) {
					count++
				}
			}
			analytics.QuestionsLastHour = count
		}
	}

	if h.duplicates != nil {
		if n, err := h.duplicates.CrossSourceCount(ctx, time.Now().Add(-time.Hour)); err == nil && analytics.QuestionsLastHour > 0 {
			analytics.DuplicateRate = float64(n) / float64(analytics.QuestionsLastHour)
		}
	}

	if h.registry != nil {
		analytics.ErrorRate = h.registry.Rate("errors_total", 5*time.Minute)
	}

	if h.alerts != nil {
		analytics.FiringAlerts = h.alerts.FiringCount()
	}

	return analytics
}
