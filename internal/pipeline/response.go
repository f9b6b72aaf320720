package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/intellistream/orchestrator/internal/llm"
	"github.com/intellistream/orchestrator/internal/metrics"
	"github.com/intellistream/orchestrator/internal/state"
)

const directSystemPrompt = `You are a friendly assistant. Answer the user's message briefly using the
conversation history when relevant. Do not invent facts that would require research.`

// ResponseStage finalizes the answer: resolves citations into source
// references in first-use order, computes total latency, and handles the
// direct and clarify routes. It never fails; unresolvable citations are
// dropped and logged.
type ResponseStage struct {
	client llm.Client
	logger *zap.Logger
}

func NewResponse(client llm.Client, logger *zap.Logger) *ResponseStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseStage{client: client, logger: logger}
}

// Run produces the terminal FinalAnswer for whatever route was taken.
func (r *ResponseStage) Run(ctx context.Context, st *state.State, decision Decision) error {
	var text string
	var sources []state.CitationRef

	switch decision.Route {
	case state.RouteDirect:
		text = r.directAnswer(ctx, st)
	case state.RouteClarify:
		text = clarifyQuestion(st.Query, decision.Reason)
	default:
		draft, ok := st.Draft()
		if !ok {
			// Query timeout can force responding before synthesis ran.
			text = insufficientInfoText
			break
		}
		text = draft.Text
		sources = r.resolveCitations(st, draft)
	}

	return st.SetFinal(state.FinalAnswer{
		Text:      text,
		Sources:   sources,
		LatencyMs: time.Since(st.StartedAt()).Milliseconds(),
	})
}

// resolveCitations maps the draft's citation markers to CitationRefs in
// first-use order. A marker without matching evidence is an internal
// invariant break: logged, counted, and dropped rather than aborting.
func (r *ResponseStage) resolveCitations(st *state.State, draft state.Draft) []state.CitationRef {
	var sources []state.CitationRef
	for _, id := range citedIDs(draft.Text) {
		item, ok := st.EvidenceByID(id)
		if !ok {
			metrics.CitationsDropped.Inc()
			r.logger.Error("citation id missing from evidence, dropping",
				zap.String("query_id", st.QueryID), zap.String("citation", id))
			continue
		}
		sources = append(sources, state.CitationRef{
			ID:      item.ID,
			Title:   item.Title,
			URL:     item.URL,
			Snippet: truncate(item.Content, 200),
			Score:   item.Score,
		})
	}
	return sources
}

// directAnswer handles greetings and follow-ups answerable from history.
func (r *ResponseStage) directAnswer(ctx context.Context, st *state.State) string {
	messages := historyMessages(st.History)
	messages = append(messages, llm.Message{Role: "user", Content: st.Query})
	text, err := r.client.Generate(ctx, llm.Request{System: directSystemPrompt, Messages: messages})
	if err == nil {
		return strings.TrimSpace(text)
	}
	r.logger.Debug("llm direct answer unavailable, using canned reply",
		zap.String("query_id", st.QueryID), zap.Error(err))
	return "Hello! How can I help you today?"
}

// clarifyQuestion asks the user to disambiguate, deterministically so an
// unavailable model never blocks the clarify route.
func clarifyQuestion(query, reason string) string {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return "Could you tell me a bit more about what you would like to know?"
	}
	return fmt.Sprintf("I want to make sure I understand: could you give me more detail about %q? "+
		"For example, the specific topic, time frame, or entity you have in mind.", truncate(trimmed, 80))
}
