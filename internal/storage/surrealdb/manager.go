// Package surrealdb implements interfaces.StorageManager against SurrealDB,
// one store per entity, one table per store.
package surrealdb

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/aptiscout/aptiscout/internal/common"
	"github.com/aptiscout/aptiscout/internal/interfaces"
)

// tables lists every table the manager ensures exists on connect (SurrealDB
// errors on querying an undefined table).
var tables = []string{
	"source_config",
	"job_spec",
	"job_run",
	"raw_question",
	"processed_question",
	"duplicate_cluster",
	"event",
	"event_seq",
	"metric_point",
	"alert",
}

// Manager implements interfaces.StorageManager using SurrealDB.
type Manager struct {
	db     *surrealdb.DB
	logger *common.Logger

	sources     *SourceStore
	jobs        *JobStore
	questions   *QuestionStore
	duplicates  *DuplicateStore
	events      *EventStore
	metrics     *MetricStore
	alerts      *AlertStore
}

// NewManager connects to SurrealDB, defines the domain's tables, and wires
// every per-entity store.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	ctx := context.Background()

	db, err := surrealdb.New(config.Storage.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Storage.User,
		"pass": config.Storage.Pass,
	}); err != nil {
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, config.Storage.Namespace, config.Storage.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	for _, table := range tables {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}

	m := &Manager{db: db, logger: logger}
	m.sources = NewSourceStore(db, logger)
	m.jobs = NewJobStore(db, logger)
	m.questions = NewQuestionStore(db, logger)
	m.duplicates = NewDuplicateStore(db, logger)
	m.events = NewEventStore(db, logger)
	m.metrics = NewMetricStore(db, logger)
	m.alerts = NewAlertStore(db, logger)

	logger.Info().
		Str("address", config.Storage.Address).
		Str("namespace", config.Storage.Namespace).
		Str("database", config.Storage.Database).
		Msg("SurrealDB storage manager initialized")

	return m, nil
}

func (m *Manager) SourceStore() interfaces.SourceConfigStore { return m.sources }
func (m *Manager) JobStore() interfaces.JobStore             { return m.jobs }
func (m *Manager) QuestionStore() interfaces.QuestionStore   { return m.questions }
func (m *Manager) DuplicateStore() interfaces.DuplicateStore { return m.duplicates }
func (m *Manager) EventStore() interfaces.EventStore         { return m.events }
func (m *Manager) MetricStore() interfaces.MetricStore       { return m.metrics }
func (m *Manager) AlertStore() interfaces.AlertStore         { return m.alerts }

func (m *Manager) Close() error {
	m.db.Close(context.Background())
	return nil
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
