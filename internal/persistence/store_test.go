package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/intellistream/orchestrator/internal/state"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStoreFromDB(sqlx.NewDb(db, "postgres"), zaptest.NewLogger(t)), mock
}

func finishedState(t *testing.T) *state.State {
	t.Helper()
	st := state.New("q1", "t1", "What's the weather in Tokyo?", nil, 2, 10, 2000)
	require.NoError(t, st.SetRoute(state.RouteResearch))
	require.NoError(t, st.AppendEvidence(state.EvidenceItem{ID: "e1", Title: "Weather in Tokyo", Score: 0.95}))
	require.NoError(t, st.SetFinal(state.FinalAnswer{
		Text:      "Clear skies in Tokyo [e1].",
		Sources:   []state.CitationRef{{ID: "e1", Title: "Weather in Tokyo", Score: 0.95}},
		LatencyMs: 1234,
	}))
	return st
}

func TestSaveRun(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO pipeline_runs`).
		WithArgs("q1", "t1", "What's the weather in Tokyo?", "research",
			"Clear skies in Tokyo [e1].", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(1234), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SaveRun(context.Background(), finishedState(t)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunWithoutFinalAnswer(t *testing.T) {
	store, _ := newMockStore(t)
	st := state.New("q1", "t1", "unfinished", nil, 2, 10, 2000)
	err := store.SaveRun(context.Background(), st)
	assert.Error(t, err)
}

func TestRecentRuns(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"query_id", "thread_id", "query", "route", "response_text", "sources", "agent_trace", "latency_ms", "created_at"}).
		AddRow("q2", "t1", "second", "direct", "hi", []byte("[]"), []byte("[]"), int64(10), now).
		AddRow("q1", "t1", "first", "research", "answer", []byte("[]"), []byte("[]"), int64(900), now)

	mock.ExpectQuery(`SELECT .+ FROM pipeline_runs WHERE thread_id`).
		WithArgs("t1", 20).
		WillReturnRows(rows)

	out, err := store.RecentRuns(context.Background(), "t1", 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "q2", out[0].QueryID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
