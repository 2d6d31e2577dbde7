package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/aptiscout/aptiscout/internal/common"
	"github.com/aptiscout/aptiscout/internal/interfaces"
	"github.com/aptiscout/aptiscout/internal/models"
)

// MetricStore implements interfaces.MetricStore, persisting the bucketed
// samples the in-memory Registry aggregates at query time (C9).
type MetricStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewMetricStore(db *surrealdb.DB, logger *common.Logger) *MetricStore {
	return &MetricStore{db: db, logger: logger}
}

func (s *MetricStore) Append(ctx context.Context, m *models.MetricPoint) error {
	sql := "UPSERT $rid CONTENT $data"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("metric_point", uuid.New().String()), "data": m}
	if _, err := surrealdb.Query[[]models.MetricPoint](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to append metric point: %w", err)
	}
	return nil
}

func (s *MetricStore) Range(ctx context.Context, name string, since time.Time) ([]*models.MetricPoint, error) {
	sql := "SELECT * FROM metric_point WHERE name = $name AND timestamp >= $since ORDER BY timestamp ASC"
	vars := map[string]any{"name": name, "since": since}

	results, err := surrealdb.Query[[]models.MetricPoint](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to range metric points: %w", err)
	}
	var out []*models.MetricPoint
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			out = append(out, &(*results)[0].Result[i])
		}
	}
	return out, nil
}

var _ interfaces.MetricStore = (*MetricStore)(nil)
