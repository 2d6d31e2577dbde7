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

// AlertStore implements interfaces.AlertStore.
type AlertStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewAlertStore(db *surrealdb.DB, logger *common.Logger) *AlertStore {
	return &AlertStore{db: db, logger: logger}
}

func (s *AlertStore) Upsert(ctx context.Context, a *models.Alert) error {
	sql := "UPSERT $rid CONTENT $data"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("alert", a.AlertID), "data": a}
	if _, err := surrealdb.Query[[]models.Alert](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to upsert alert: %w", err)
	}
	return nil
}

func (s *AlertStore) FindFiring(ctx context.Context, ruleID string) (*models.Alert, error) {
	sql := "SELECT * FROM alert WHERE rule_id = $rule_id AND state = $firing ORDER BY opened_at DESC LIMIT 1"
	vars := map[string]any{"rule_id": ruleID, "firing": models.AlertFiring}

	results, err := surrealdb.Query[[]models.Alert](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to find firing alert: %w", err)
	}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return &(*results)[0].Result[0], nil
	}
	return nil, nil
}

func (s *AlertStore) List(ctx context.Context, state models.AlertState) ([]*models.Alert, error) {
	sql := "SELECT * FROM alert WHERE state = $state ORDER BY opened_at DESC"
	results, err := surrealdb.Query[[]models.Alert](ctx, s.db, sql, map[string]any{"state": state})
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	var out []*models.Alert
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			out = append(out, &(*results)[0].Result[i])
		}
	}
	return out, nil
}

var _ interfaces.AlertStore = (*AlertStore)(nil)
