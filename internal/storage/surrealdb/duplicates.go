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

// DuplicateStore implements interfaces.DuplicateStore.
type DuplicateStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewDuplicateStore(db *surrealdb.DB, logger *common.Logger) *DuplicateStore {
	return &DuplicateStore{db: db, logger: logger}
}

func (s *DuplicateStore) Upsert(ctx context.Context, c *models.DuplicateCluster) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.UpdatedAt = time.Now()

	sql := "UPSERT $rid CONTENT $data"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("duplicate_cluster", c.ClusterID), "data": c}
	if _, err := surrealdb.Query[[]models.DuplicateCluster](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to upsert duplicate cluster: %w", err)
	}
	return nil
}

func (s *DuplicateStore) Find(ctx context.Context, clusterID string) (*models.DuplicateCluster, error) {
	data, err := surrealdb.Select[models.DuplicateCluster](ctx, s.db, surrealmodels.NewRecordID("duplicate_cluster", clusterID))
	if err != nil {
		return nil, fmt.Errorf("failed to select duplicate cluster: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("duplicate cluster not found: %s", clusterID)
	}
	return data, nil
}

func (s *DuplicateStore) CrossSourceCount(ctx context.Context, since time.Time) (int, error) {
	sql := "SELECT count() AS cnt FROM duplicate_cluster WHERE cross_source = true AND updated_at >= $since GROUP ALL"
	vars := map[string]any{"since": since}

	type countResult struct {
		Cnt int `json:"cnt"`
	}
	results, err := surrealdb.Query[[]countResult](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to count cross-source duplicates: %w", err)
	}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return (*results)[0].Result[0].Cnt, nil
	}
	return 0, nil
}

func (s *DuplicateStore) TopBySize(ctx context.Context, limit int) ([]*models.DuplicateCluster, error) {
	if limit <= 0 {
		limit = 20
	}
	sql := "SELECT * FROM duplicate_cluster ORDER BY array::len(member_ids) DESC LIMIT $limit"
	results, err := surrealdb.Query[[]models.DuplicateCluster](ctx, s.db, sql, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list top duplicate clusters: %w", err)
	}
	var out []*models.DuplicateCluster
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			out = append(out, &(*results)[0].Result[i])
		}
	}
	return out, nil
}

var _ interfaces.DuplicateStore = (*DuplicateStore)(nil)
