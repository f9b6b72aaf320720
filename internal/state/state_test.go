package state

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteSetOnce(t *testing.T) {
	st := New("q1", "t1", "query", nil, 2, 10, 2000)
	require.NoError(t, st.SetRoute(RouteResearch))
	assert.Equal(t, RouteResearch, st.Route())

	err := st.SetRoute(RouteDirect)
	assert.ErrorIs(t, err, ErrRouteAlreadySet)
	assert.Equal(t, RouteResearch, st.Route(), "route is never overwritten")
}

func TestAnalysisSetOnce(t *testing.T) {
	st := New("q1", "t1", "query", nil, 2, 10, 2000)
	require.NoError(t, st.SetAnalysis(Analysis{Sentiment: "neutral"}))
	assert.ErrorIs(t, st.SetAnalysis(Analysis{Sentiment: "positive"}), ErrAnalysisAlreadySet)
}

func TestEvidenceAppendOnly(t *testing.T) {
	st := New("q1", "t1", "query", nil, 2, 10, 2000)
	require.NoError(t, st.AppendEvidence(EvidenceItem{ID: "e1"}))
	require.NoError(t, st.AppendEvidence(EvidenceItem{ID: "e2"}, EvidenceItem{ID: "e3"}))

	evidence := st.Evidence()
	require.Len(t, evidence, 3)
	assert.Equal(t, "e1", evidence[0].ID)

	// The returned slice is a copy; mutating it does not touch the state.
	evidence[0].ID = "mutated"
	fresh, ok := st.EvidenceByID("e1")
	require.True(t, ok)
	assert.Equal(t, "e1", fresh.ID)
}

func TestDraftOverwriteAllowed(t *testing.T) {
	st := New("q1", "t1", "query", nil, 2, 10, 2000)
	require.NoError(t, st.SetDraft(Draft{Text: "first", Revision: 0}))
	require.NoError(t, st.SetDraft(Draft{Text: "second", Revision: 1}))
	d, ok := st.Draft()
	require.True(t, ok)
	assert.Equal(t, "second", d.Text)
}

func TestFinalIsTerminal(t *testing.T) {
	st := New("q1", "t1", "query", nil, 2, 10, 2000)
	require.NoError(t, st.SetFinal(FinalAnswer{Text: "done"}))

	assert.ErrorIs(t, st.SetFinal(FinalAnswer{Text: "again"}), ErrFinalAlreadySet)
	assert.ErrorIs(t, st.SetRoute(RouteDirect), ErrStateTerminal)
	assert.ErrorIs(t, st.AppendEvidence(EvidenceItem{ID: "e1"}), ErrStateTerminal)
	assert.ErrorIs(t, st.SetAnalysis(Analysis{}), ErrStateTerminal)
	assert.ErrorIs(t, st.SetDraft(Draft{}), ErrStateTerminal)
}

func TestReflectionPassBound(t *testing.T) {
	st := New("q1", "t1", "query", nil, 2, 10, 2000)
	require.NoError(t, st.BeginReflectionPass())
	require.NoError(t, st.BeginReflectionPass())
	assert.ErrorIs(t, st.BeginReflectionPass(), ErrReflectionBound)
	assert.Equal(t, 2, st.ReflectionPasses())
}

func TestZeroReflectionBudget(t *testing.T) {
	st := New("q1", "t1", "query", nil, 0, 10, 2000)
	assert.ErrorIs(t, st.BeginReflectionPass(), ErrReflectionBound)
}

func TestHistoryBounding(t *testing.T) {
	history := []Message{
		{Role: "user", Content: "oldest"},
		{Role: "assistant", Content: strings.Repeat("x", 50)},
		{Role: "user", Content: "newest"},
	}
	st := New("q1", "t1", "query", history, 2, 2, 10)
	require.Len(t, st.History, 2, "history keeps only the most recent turns")
	assert.Equal(t, "x", string(st.History[0].Content[0]))
	assert.Equal(t, 13, len(st.History[0].Content), "long turns are truncated with an ellipsis")
	assert.Equal(t, "newest", st.History[1].Content)
}

func TestConcurrentTraceAppends(t *testing.T) {
	st := New("q1", "t1", "query", nil, 2, 10, 2000)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.AppendTrace("research", "fetched", time.Now())
		}()
	}
	wg.Wait()
	assert.Len(t, st.Trace(), 20)
	assert.Len(t, st.TraceFor("research"), 20)
	assert.Empty(t, st.TraceFor("router"))
}

func TestTransitions(t *testing.T) {
	st := New("q1", "t1", "query", nil, 1, 10, 2000)

	assert.True(t, st.CanTransition(PhaseRouting, PhaseResearching))
	assert.True(t, st.CanTransition(PhaseRouting, PhaseResponding))
	assert.False(t, st.CanTransition(PhaseRouting, PhaseSynthesizing))
	assert.True(t, st.CanTransition(PhaseSynthesizing, PhaseReflecting))
	assert.True(t, st.CanTransition(PhaseResponding, PhaseDone))
	assert.False(t, st.CanTransition(PhaseDone, PhaseRouting))

	// The loop-back edge is guarded by the pass budget.
	assert.True(t, st.CanTransition(PhaseReflecting, PhaseSynthesizing))
	require.NoError(t, st.BeginReflectionPass())
	assert.False(t, st.CanTransition(PhaseReflecting, PhaseSynthesizing))
	assert.True(t, st.CanTransition(PhaseReflecting, PhaseResponding))
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "routing", PhaseRouting.String())
	assert.Equal(t, "done", PhaseDone.String())
	assert.Equal(t, "unknown", Phase(42).String())
}
