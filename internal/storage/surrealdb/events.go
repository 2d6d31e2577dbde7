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

// EventStore implements interfaces.EventStore, the durable tail behind the C9
// in-memory event ring. Sequence numbers come from a single counter record
// so NextSequence stays monotonic across process restarts.
type EventStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewEventStore(db *surrealdb.DB, logger *common.Logger) *EventStore {
	return &EventStore{db: db, logger: logger}
}

func (s *EventStore) Append(ctx context.Context, e *models.Event) error {
	sql := "UPSERT $rid CONTENT $data"
	vars := map[string]any{
		"rid":  surrealmodels.NewRecordID("event", fmt.Sprintf("%d", e.Sequence)),
		"data": e,
	}
	if _, err := surrealdb.Query[[]models.Event](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (s *EventStore) RangeFrom(ctx context.Context, sequence int64, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 500
	}
	sql := "SELECT * FROM event WHERE sequence >= $sequence ORDER BY sequence ASC LIMIT $limit"
	vars := map[string]any{"sequence": sequence, "limit": limit}

	results, err := surrealdb.Query[[]models.Event](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to range events: %w", err)
	}
	var out []*models.Event
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			out = append(out, &(*results)[0].Result[i])
		}
	}
	return out, nil
}

// NextSequence atomically increments and returns the durable sequence
// counter, stored as a single record so every EventStore instance (and every
// process behind the same database) draws from one monotonic source.
func (s *EventStore) NextSequence(ctx context.Context) (int64, error) {
	sql := "UPSERT $rid SET value += 1 RETURN AFTER"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("event_seq", "counter")}

	type counter struct {
		Value int64 `json:"value"`
	}
	results, err := surrealdb.Query[[]counter](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to increment event sequence: %w", err)
	}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return (*results)[0].Result[0].Value, nil
	}
	return 1, nil
}

var _ interfaces.EventStore = (*EventStore)(nil)
