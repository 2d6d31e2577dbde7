package surrealdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/aptiscout/aptiscout/internal/common"
	"github.com/aptiscout/aptiscout/internal/interfaces"
	"github.com/aptiscout/aptiscout/internal/models"
)

// QuestionStore implements interfaces.QuestionStore: raw_question holds
// pre-enrichment extractor output (kept for idempotent replay and dedupe
// lookups), processed_question holds the durable C7/C8 output.
type QuestionStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewQuestionStore(db *surrealdb.DB, logger *common.Logger) *QuestionStore {
	return &QuestionStore{db: db, logger: logger}
}

func (s *QuestionStore) SaveRaw(ctx context.Context, q *models.RawQuestion) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	sql := "UPSERT $rid CONTENT $data"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("raw_question", q.ID), "data": q}
	if _, err := surrealdb.Query[[]models.RawQuestion](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to save raw question: %w", err)
	}
	return nil
}

func (s *QuestionStore) ExistsByStableKey(ctx context.Context, sourceID, targetID, stableKey string) (bool, error) {
	sql := "SELECT count() AS cnt FROM raw_question WHERE source_id = $source_id AND target_id = $target_id AND stable_key = $stable_key GROUP ALL"
	vars := map[string]any{
		"source_id":  models.NormalizeSourceID(sourceID),
		"target_id":  targetID,
		"stable_key": stableKey,
	}
	type countResult struct {
		Cnt int `json:"cnt"`
	}
	results, err := surrealdb.Query[[]countResult](ctx, s.db, sql, vars)
	if err != nil {
		return false, fmt.Errorf("failed to check stable key existence: %w", err)
	}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return (*results)[0].Result[0].Cnt > 0, nil
	}
	return false, nil
}

func (s *QuestionStore) UpsertProcessed(ctx context.Context, q *models.ProcessedQuestion) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	sql := "UPSERT $rid CONTENT $data"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("processed_question", q.ID), "data": q}
	if _, err := surrealdb.Query[[]models.ProcessedQuestion](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to upsert processed question: %w", err)
	}
	return nil
}

func (s *QuestionStore) FindProcessed(ctx context.Context, id string) (*models.ProcessedQuestion, error) {
	data, err := surrealdb.Select[models.ProcessedQuestion](ctx, s.db, surrealmodels.NewRecordID("processed_question", id))
	if err != nil {
		return nil, fmt.Errorf("failed to select processed question: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("processed question not found: %s", id)
	}
	return data, nil
}

func (s *QuestionStore) RangeProcessed(ctx context.Context, opts interfaces.QuestionRangeOptions) ([]*models.ProcessedQuestion, error) {
	var clauses []string
	vars := map[string]any{}

	if opts.SourceID != "" {
		clauses = append(clauses, "source_id = $source_id")
		vars["source_id"] = models.NormalizeSourceID(opts.SourceID)
	}
	if opts.Category != "" {
		clauses = append(clauses, "category = $category")
		vars["category"] = opts.Category
	}
	if opts.PublicOnly {
		clauses = append(clauses, "verdict != $auto_reject")
		vars["auto_reject"] = models.VerdictAutoReject
	}

	sql := "SELECT * FROM processed_question"
	if len(clauses) > 0 {
		sql += " WHERE " + strings.Join(clauses, " AND ")
	}
	sql += " ORDER BY processed_at DESC"
	if opts.Limit > 0 {
		sql += " LIMIT $limit"
		vars["limit"] = opts.Limit
	}

	results, err := surrealdb.Query[[]models.ProcessedQuestion](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to range processed questions: %w", err)
	}
	var out []*models.ProcessedQuestion
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			out = append(out, &(*results)[0].Result[i])
		}
	}
	return out, nil
}

func (s *QuestionStore) CountByVerdict(ctx context.Context, jobRunID string) (map[models.GateVerdict]int, error) {
	sql := "SELECT verdict, count() AS cnt FROM processed_question WHERE job_run_id = $job_run_id GROUP BY verdict"
	vars := map[string]any{"job_run_id": jobRunID}

	type verdictCount struct {
		Verdict models.GateVerdict `json:"verdict"`
		Cnt     int                `json:"cnt"`
	}
	results, err := surrealdb.Query[[]verdictCount](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to count by verdict: %w", err)
	}
	out := make(map[models.GateVerdict]int)
	if results != nil && len(*results) > 0 {
		for _, row := range (*results)[0].Result {
			out[row.Verdict] = row.Cnt
		}
	}
	return out, nil
}

func (s *QuestionStore) FindByText(ctx context.Context, sourceID, normalizedText string) (*models.ProcessedQuestion, error) {
	sql := "SELECT * FROM processed_question WHERE source_id = $source_id AND question_text = $text LIMIT 1"
	vars := map[string]any{"source_id": models.NormalizeSourceID(sourceID), "text": normalizedText}

	results, err := surrealdb.Query[[]models.ProcessedQuestion](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to find processed question by text: %w", err)
	}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return &(*results)[0].Result[0], nil
	}
	return nil, nil
}

var _ interfaces.QuestionStore = (*QuestionStore)(nil)
