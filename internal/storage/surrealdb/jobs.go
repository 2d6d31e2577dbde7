package surrealdb

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/aptiscout/aptiscout/internal/common"
	"github.com/aptiscout/aptiscout/internal/interfaces"
	"github.com/aptiscout/aptiscout/internal/models"
)

// JobStore implements interfaces.JobStore: JobSpec is created once and never
// mutated; JobRun is updated repeatedly as the engine's state machine advances.
type JobStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewJobStore(db *surrealdb.DB, logger *common.Logger) *JobStore {
	return &JobStore{db: db, logger: logger}
}

func (s *JobStore) CreateSpec(ctx context.Context, spec *models.JobSpec) error {
	sql := "UPSERT $rid CONTENT $data"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("job_spec", spec.JobID), "data": spec}
	if _, err := surrealdb.Query[[]models.JobSpec](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to create job spec: %w", err)
	}
	return nil
}

func (s *JobStore) FindSpec(ctx context.Context, jobID string) (*models.JobSpec, error) {
	data, err := surrealdb.Select[models.JobSpec](ctx, s.db, surrealmodels.NewRecordID("job_spec", jobID))
	if err != nil {
		return nil, fmt.Errorf("failed to select job spec: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("job spec not found: %s", jobID)
	}
	return data, nil
}

func (s *JobStore) ListSpecs(ctx context.Context, limit int) ([]*models.JobSpec, error) {
	if limit <= 0 {
		limit = 100
	}
	sql := "SELECT * FROM job_spec ORDER BY created_at DESC LIMIT $limit"
	results, err := surrealdb.Query[[]models.JobSpec](ctx, s.db, sql, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list job specs: %w", err)
	}
	var out []*models.JobSpec
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			out = append(out, &(*results)[0].Result[i])
		}
	}
	return out, nil
}

func (s *JobStore) CreateRun(ctx context.Context, run *models.JobRun) error {
	sql := "UPSERT $rid CONTENT $data"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("job_run", run.RunID), "data": run}
	if _, err := surrealdb.Query[[]models.JobRun](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to create job run: %w", err)
	}
	return nil
}

// UpdateRun whole-struct upserts the run snapshot. The engine's in-process
// lock already serializes writers for a given run, so no optimistic-lock
// check is needed here.
func (s *JobStore) UpdateRun(ctx context.Context, run *models.JobRun) error {
	sql := "UPSERT $rid CONTENT $data"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("job_run", run.RunID), "data": run}
	if _, err := surrealdb.Query[[]models.JobRun](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to update job run: %w", err)
	}
	return nil
}

func (s *JobStore) FindRun(ctx context.Context, runID string) (*models.JobRun, error) {
	data, err := surrealdb.Select[models.JobRun](ctx, s.db, surrealmodels.NewRecordID("job_run", runID))
	if err != nil {
		return nil, fmt.Errorf("failed to select job run: %w", err)
	}
	if data == nil || data.Deleted {
		return nil, fmt.Errorf("job run not found: %s", runID)
	}
	return data, nil
}

func (s *JobStore) ListRuns(ctx context.Context, limit int) ([]*models.JobRun, error) {
	if limit <= 0 {
		limit = 100
	}
	sql := "SELECT * FROM job_run WHERE deleted != true ORDER BY created_at DESC LIMIT $limit"
	return s.queryRuns(ctx, sql, map[string]any{"limit": limit})
}

func (s *JobStore) ListRunsByState(ctx context.Context, state models.JobState) ([]*models.JobRun, error) {
	sql := "SELECT * FROM job_run WHERE state = $state AND deleted != true ORDER BY created_at DESC"
	return s.queryRuns(ctx, sql, map[string]any{"state": state})
}

func (s *JobStore) SoftDeleteRun(ctx context.Context, runID string) error {
	sql := "UPDATE $rid SET deleted = true"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("job_run", runID)}
	if _, err := surrealdb.Query[[]models.JobRun](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to soft-delete job run: %w", err)
	}
	return nil
}

// ResetRunningRuns recovers runs left `running` by a crashed process, matching
// a startup recovery sweep so a crash mid-run doesn't leave jobs stuck running.
func (s *JobStore) ResetRunningRuns(ctx context.Context) (int, error) {
	sql := "UPDATE job_run SET state = $paused WHERE state = $running RETURN BEFORE"
	vars := map[string]any{"paused": models.JobPaused, "running": models.JobRunning}
	results, err := surrealdb.Query[[]models.JobRun](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to reset running job runs: %w", err)
	}
	if results != nil && len(*results) > 0 {
		return len((*results)[0].Result), nil
	}
	return 0, nil
}

func (s *JobStore) queryRuns(ctx context.Context, sql string, vars map[string]any) ([]*models.JobRun, error) {
	results, err := surrealdb.Query[[]models.JobRun](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query job runs: %w", err)
	}
	var out []*models.JobRun
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			out = append(out, &(*results)[0].Result[i])
		}
	}
	return out, nil
}

var _ interfaces.JobStore = (*JobStore)(nil)
