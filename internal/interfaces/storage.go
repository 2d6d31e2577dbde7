// Package interfaces defines the storage and capability contracts the rest of
// aptiscout is built against, so components depend on behavior, not on SurrealDB
// or any particular AI vendor directly.
package interfaces

import (
	"context"
	"time"

	"github.com/aptiscout/aptiscout/internal/models"
)

// StorageManager is the top-level document-store capability: upsert, find-by-id,
// range-scan, counted-aggregate, fanned out per entity.
type StorageManager interface {
	SourceStore() SourceConfigStore
	JobStore() JobStore
	QuestionStore() QuestionStore
	DuplicateStore() DuplicateStore
	EventStore() EventStore
	MetricStore() MetricStore
	AlertStore() AlertStore
	Close() error
}

// SourceConfigStore persists SourceConfig. Updates create a new version; lookups
// are case-insensitive.
type SourceConfigStore interface {
	Upsert(ctx context.Context, cfg *models.SourceConfig) error
	FindByID(ctx context.Context, sourceID string) (*models.SourceConfig, error)
	List(ctx context.Context) ([]*models.SourceConfig, error)
	SetReliability(ctx context.Context, sourceID string, reliability float64) error
}

// JobStore persists JobSpec and JobRun, and implements the state machine's
// durable half (transitions are gated by the engine's in-process lock; the store
// only needs to apply already-validated writes atomically).
type JobStore interface {
	CreateSpec(ctx context.Context, spec *models.JobSpec) error
	FindSpec(ctx context.Context, jobID string) (*models.JobSpec, error)
	ListSpecs(ctx context.Context, limit int) ([]*models.JobSpec, error)

	CreateRun(ctx context.Context, run *models.JobRun) error
	UpdateRun(ctx context.Context, run *models.JobRun) error
	FindRun(ctx context.Context, runID string) (*models.JobRun, error)
	ListRuns(ctx context.Context, limit int) ([]*models.JobRun, error)
	ListRunsByState(ctx context.Context, state models.JobState) ([]*models.JobRun, error)
	SoftDeleteRun(ctx context.Context, runID string) error
	ResetRunningRuns(ctx context.Context) (int, error) // crash recovery on boot
}

// QuestionRangeOptions filters ProcessedQuestion range scans.
type QuestionRangeOptions struct {
	SourceID   string
	Category   string
	PublicOnly bool // exclude auto_reject
	Limit      int
}

// QuestionStore persists RawQuestion (transient) and ProcessedQuestion (durable).
type QuestionStore interface {
	SaveRaw(ctx context.Context, q *models.RawQuestion) error
	ExistsByStableKey(ctx context.Context, sourceID, targetID, stableKey string) (bool, error)

	UpsertProcessed(ctx context.Context, q *models.ProcessedQuestion) error
	FindProcessed(ctx context.Context, id string) (*models.ProcessedQuestion, error)
	RangeProcessed(ctx context.Context, opts QuestionRangeOptions) ([]*models.ProcessedQuestion, error)
	CountByVerdict(ctx context.Context, jobRunID string) (map[models.GateVerdict]int, error)
	FindByText(ctx context.Context, sourceID, normalizedText string) (*models.ProcessedQuestion, error)
}

// DuplicateStore persists DuplicateCluster records.
type DuplicateStore interface {
	Upsert(ctx context.Context, c *models.DuplicateCluster) error
	Find(ctx context.Context, clusterID string) (*models.DuplicateCluster, error)
	CrossSourceCount(ctx context.Context, since time.Time) (int, error)
	TopBySize(ctx context.Context, limit int) ([]*models.DuplicateCluster, error)
}

// EventStore persists the durable tail behind the in-memory event ring (C9).
type EventStore interface {
	Append(ctx context.Context, e *models.Event) error
	RangeFrom(ctx context.Context, sequence int64, limit int) ([]*models.Event, error)
	NextSequence(ctx context.Context) (int64, error)
}

// MetricStore persists bucketed MetricPoints.
type MetricStore interface {
	Append(ctx context.Context, m *models.MetricPoint) error
	Range(ctx context.Context, name string, since time.Time) ([]*models.MetricPoint, error)
}

// AlertStore persists Alert lifecycle records.
type AlertStore interface {
	Upsert(ctx context.Context, a *models.Alert) error
	FindFiring(ctx context.Context, ruleID string) (*models.Alert, error)
	List(ctx context.Context, state models.AlertState) ([]*models.Alert, error)
}
