// Package persistence stores finished pipeline runs. The pipeline never
// depends on this layer for correctness of the current response; saves
// are fire-and-forget.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/intellistream/orchestrator/internal/state"
)

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	query_id      TEXT PRIMARY KEY,
	thread_id     TEXT NOT NULL,
	query         TEXT NOT NULL,
	route         TEXT NOT NULL,
	response_text TEXT NOT NULL,
	sources       JSONB NOT NULL DEFAULT '[]',
	agent_trace   JSONB NOT NULL DEFAULT '[]',
	latency_ms    BIGINT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_thread ON pipeline_runs (thread_id, created_at);
`

const insertRun = `
INSERT INTO pipeline_runs (query_id, thread_id, query, route, response_text, sources, agent_trace, latency_ms, created_at)
VALUES (:query_id, :thread_id, :query, :route, :response_text, :sources, :agent_trace, :latency_ms, :created_at)
ON CONFLICT (query_id) DO NOTHING`

// RunRecord is the stored form of one finished query.
type RunRecord struct {
	QueryID      string    `db:"query_id"`
	ThreadID     string    `db:"thread_id"`
	Query        string    `db:"query"`
	Route        string    `db:"route"`
	ResponseText string    `db:"response_text"`
	Sources      []byte    `db:"sources"`
	AgentTrace   []byte    `db:"agent_trace"`
	LatencyMs    int64     `db:"latency_ms"`
	CreatedAt    time.Time `db:"created_at"`
}

// Store writes finished runs to Postgres.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore connects to the database and ensures the schema exists.
func NewStore(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := NewStoreFromDB(db, logger)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

// NewStoreFromDB wraps an existing connection, used by tests.
func NewStoreFromDB(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// SaveRun persists the final answer and agent trace for one query.
func (s *Store) SaveRun(ctx context.Context, st *state.State) error {
	final, ok := st.Final()
	if !ok {
		return fmt.Errorf("save run %s: no final answer", st.QueryID)
	}

	sources, err := json.Marshal(final.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	trace, err := json.Marshal(st.Trace())
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}

	record := RunRecord{
		QueryID:      st.QueryID,
		ThreadID:     st.ThreadID,
		Query:        st.Query,
		Route:        string(st.Route()),
		ResponseText: final.Text,
		Sources:      sources,
		AgentTrace:   trace,
		LatencyMs:    final.LatencyMs,
		CreatedAt:    time.Now(),
	}
	if _, err := s.db.NamedExecContext(ctx, insertRun, record); err != nil {
		return fmt.Errorf("insert run %s: %w", st.QueryID, err)
	}
	return nil
}

// RecentRuns returns the latest runs for a thread, newest first.
func (s *Store) RecentRuns(ctx context.Context, threadID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []RunRecord
	err := s.db.SelectContext(ctx, &out,
		`SELECT query_id, thread_id, query, route, response_text, sources, agent_trace, latency_ms, created_at
		 FROM pipeline_runs WHERE thread_id = $1 ORDER BY created_at DESC LIMIT $2`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("select runs for thread %s: %w", threadID, err)
	}
	return out, nil
}

func (s *Store) Close() error { return s.db.Close() }
