package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/intellistream/orchestrator/internal/state"
)

// ReflectionStage scores the current draft against quality criteria and
// either approves it or requests a revision pass. The revision loop is
// bounded: once the pass budget is spent, the draft is approved as-is
// and the unresolved deficiencies are flagged in the trace.
type ReflectionStage struct {
	logger *zap.Logger
}

func NewReflection(logger *zap.Logger) *ReflectionStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReflectionStage{logger: logger}
}

// Run evaluates the draft. The checks are deterministic so the loop
// cannot oscillate on model nondeterminism.
func (r *ReflectionStage) Run(_ context.Context, st *state.State) state.Critique {
	started := time.Now()
	draft, _ := st.Draft()
	analysis, _ := st.Analysis()

	notes := r.check(st, draft, analysis)
	if len(notes) == 0 {
		st.AppendTrace("reflection", "approved", started)
		return state.Critique{Verdict: state.VerdictApprove}
	}

	// Request a revision only while the pass budget allows it; at the
	// bound, approve with the deficiencies recorded for the caller. The
	// pass counter itself is incremented by the orchestrator when it
	// takes the loop-back edge.
	if st.ReflectionPasses() >= st.MaxReflectionPasses() {
		st.AppendTrace("reflection", "approved_at_bound: "+strings.Join(notes, "; "), started)
		r.logger.Info("reflection bound reached, approving with unresolved notes",
			zap.String("query_id", st.QueryID),
			zap.Int("passes", st.ReflectionPasses()),
			zap.Strings("notes", notes))
		return state.Critique{Verdict: state.VerdictApprove, Notes: notes}
	}

	st.AppendTrace("reflection", "revise: "+strings.Join(notes, "; "), started)
	return state.Critique{Verdict: state.VerdictRevise, Notes: notes}
}

// check runs the four quality criteria: completeness, accuracy proxy,
// clarity, and citation correctness. Each failure yields one note the
// revision pass must address.
func (r *ReflectionStage) check(st *state.State, draft state.Draft, analysis state.Analysis) []string {
	var notes []string

	// Citation correctness: every marker must resolve to evidence.
	for _, id := range citedIDs(draft.Text) {
		if _, ok := st.EvidenceByID(id); !ok {
			notes = append(notes, fmt.Sprintf("citation %s does not resolve to any evidence item", id))
		}
	}

	// Orphaned claims: an answer grounded in evidence must cite at least
	// one item unless it explicitly reports insufficient information.
	if !analysis.NoEvidence && len(st.Evidence()) > 0 && len(citedIDs(draft.Text)) == 0 &&
		!strings.Contains(strings.ToLower(draft.Text), "sufficient information") {
		notes = append(notes, "draft cites no evidence despite evidence being available")
	}

	// Completeness: each distinct sub-question should be addressed.
	for i, sub := range subQuestions(st.Query) {
		if !addressesTopic(draft.Text, sub) {
			notes = append(notes, fmt.Sprintf("sub-question %d (%q) appears unaddressed", i+1, truncate(sub, 60)))
		}
	}

	// Clarity: length bounds relative to the question.
	trimmed := strings.TrimSpace(draft.Text)
	if len(trimmed) < 20 {
		notes = append(notes, "draft is too short to be a useful answer")
	}
	if len(trimmed) > 8000 {
		notes = append(notes, "draft is excessively long; tighten the structure")
	}

	return notes
}

// subQuestions splits a compound query on question marks and "and also"
// style conjunctions.
func subQuestions(query string) []string {
	var subs []string
	for _, part := range strings.Split(query, "?") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		for _, sub := range strings.Split(part, " and also ") {
			sub = strings.TrimSpace(sub)
			if sub != "" {
				subs = append(subs, sub)
			}
		}
	}
	if len(subs) <= 1 {
		return nil // a single question is checked by the other criteria
	}
	return subs
}

// addressesTopic checks that at least half of a sub-question's content
// terms appear in the draft.
func addressesTopic(text, sub string) bool {
	terms := lowerTerms(sub)
	content := terms[:0]
	for _, t := range terms {
		if len(t) > 3 {
			content = append(content, t)
		}
	}
	if len(content) == 0 {
		return true
	}
	return termOverlap(content, text) >= 0.5
}
