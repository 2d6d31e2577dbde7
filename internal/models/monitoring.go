package models

import "time"

// HealthStatus is the coarse-grained verdict for a health report or component.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// ComponentHealth reports the status of one subsystem (storage, AI client,
// browser drivers, event bus...).
type ComponentHealth struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Detail  string       `json:"detail,omitempty"`
	Latency time.Duration `json:"latency_ms,omitempty"`
}

// BasicHealth is the production-health surface: is the service up, and are
// its direct dependencies reachable.
type BasicHealth struct {
	Status     HealthStatus      `json:"status"`
	UptimeSec  float64           `json:"uptime_seconds"`
	Components []ComponentHealth `json:"components"`
}

// AnalyticsHealth is the analytics-health surface: aggregate counters over
// the scraping pipeline's recent activity.
type AnalyticsHealth struct {
	ActiveJobs        int     `json:"active_jobs"`
	QueuedJobs        int     `json:"queued_jobs"`
	QuestionsLastHour int     `json:"questions_last_hour"`
	ErrorRate         float64 `json:"error_rate"`
	DuplicateRate     float64 `json:"duplicate_rate"`
	FiringAlerts      int     `json:"firing_alerts"`
}

// SystemHealthReport unifies the production-health and analytics-health
// surfaces both `/scraping/health` and
// `/scraping/system-status` project from this one internal model.
type SystemHealthReport struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Basic       BasicHealth     `json:"basic"`
	Analytics   AnalyticsHealth `json:"analytics"`
}
