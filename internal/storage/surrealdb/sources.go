package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/aptiscout/aptiscout/internal/common"
	"github.com/aptiscout/aptiscout/internal/interfaces"
	"github.com/aptiscout/aptiscout/internal/models"
)

// SourceStore implements interfaces.SourceConfigStore. Lookups key on the
// case-insensitive normalized source_id.
type SourceStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewSourceStore(db *surrealdb.DB, logger *common.Logger) *SourceStore {
	return &SourceStore{db: db, logger: logger}
}

func (s *SourceStore) Upsert(ctx context.Context, cfg *models.SourceConfig) error {
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now()
	}
	cfg.UpdatedAt = time.Now()

	sql := "UPSERT $rid CONTENT $data"
	vars := map[string]any{
		"rid":  surrealmodels.NewRecordID("source_config", cfg.NormalizedID()),
		"data": cfg,
	}
	if _, err := surrealdb.Query[[]models.SourceConfig](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to upsert source config: %w", err)
	}
	return nil
}

func (s *SourceStore) FindByID(ctx context.Context, sourceID string) (*models.SourceConfig, error) {
	rid := surrealmodels.NewRecordID("source_config", models.NormalizeSourceID(sourceID))
	data, err := surrealdb.Select[models.SourceConfig](ctx, s.db, rid)
	if err != nil {
		return nil, fmt.Errorf("failed to select source config: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("source config not found: %s", sourceID)
	}
	return data, nil
}

func (s *SourceStore) List(ctx context.Context) ([]*models.SourceConfig, error) {
	sql := "SELECT * FROM source_config ORDER BY source_id ASC"
	results, err := surrealdb.Query[[]models.SourceConfig](ctx, s.db, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list source configs: %w", err)
	}
	var out []*models.SourceConfig
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			out = append(out, &(*results)[0].Result[i])
		}
	}
	return out, nil
}

func (s *SourceStore) SetReliability(ctx context.Context, sourceID string, reliability float64) error {
	rid := surrealmodels.NewRecordID("source_config", models.NormalizeSourceID(sourceID))
	sql := "UPDATE $rid SET reliability_score = $reliability, updated_at = $now"
	vars := map[string]any{"rid": rid, "reliability": reliability, "now": time.Now()}
	if _, err := surrealdb.Query[[]models.SourceConfig](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to set source reliability: %w", err)
	}
	return nil
}

var _ interfaces.SourceConfigStore = (*SourceStore)(nil)
