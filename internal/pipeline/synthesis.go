package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/intellistream/orchestrator/internal/llm"
	"github.com/intellistream/orchestrator/internal/state"
)

const synthesisSystemPrompt = `You are a synthesis agent. Write a concise, well-structured answer to the
user's query grounded ONLY in the numbered evidence items. Cite evidence inline with markers
like [e1] after each factual claim. Never cite an id that was not provided. If the evidence is
insufficient, say so explicitly instead of inventing facts.`

const insufficientInfoText = "I could not find sufficient information to answer this question reliably. " +
	"You may want to rephrase the question or try again later."

// citationMarkerPattern matches inline [eN] markers in draft text.
var citationMarkerPattern = regexp.MustCompile(`\[(e\d+)\]`)

// SynthesisStage drafts a cited answer from the analyzed evidence. On a
// revision pass it receives the reflection critique and must address the
// named deficiencies without discarding unrelated correct content.
type SynthesisStage struct {
	client llm.Client
	logger *zap.Logger
}

func NewSynthesis(client llm.Client, logger *zap.Logger) *SynthesisStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SynthesisStage{client: client, logger: logger}
}

// Run produces a new draft and installs it on the state. A prior draft
// plus critique on the state means this is a revision pass.
func (s *SynthesisStage) Run(ctx context.Context, st *state.State, critique *state.Critique) error {
	analysis, _ := st.Analysis()
	evidence := st.Evidence()

	if analysis.NoEvidence || len(evidence) == 0 {
		return st.SetDraft(state.Draft{Text: insufficientInfoText})
	}

	prior, hasPrior := st.Draft()
	draft, err := s.synthesizeLLM(ctx, st, analysis, evidence, prior, hasPrior, critique)
	if err != nil {
		s.logger.Warn("llm synthesis failed, using extractive fallback",
			zap.String("query_id", st.QueryID), zap.Error(err))
		draft = extractiveDraft(evidence, analysis)
	}
	if hasPrior {
		draft.Revision = prior.Revision + 1
	}

	// Citation integrity: markers referencing unknown evidence ids are
	// scrubbed here rather than surfacing a broken draft to reflection.
	draft = scrubUnknownCitations(draft, st, s.logger)
	return st.SetDraft(draft)
}

func (s *SynthesisStage) synthesizeLLM(ctx context.Context, st *state.State, analysis state.Analysis,
	evidence []state.EvidenceItem, prior state.Draft, hasPrior bool, critique *state.Critique) (state.Draft, error) {

	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nEvidence:\n", st.Query)
	for _, e := range evidence {
		fmt.Fprintf(&sb, "[%s] %s: %s\n", e.ID, e.Title, truncate(e.Content, 600))
	}
	if len(analysis.KeyPoints) > 0 {
		fmt.Fprintf(&sb, "\nKey points identified:\n")
		for _, p := range analysis.KeyPoints {
			fmt.Fprintf(&sb, "- %s\n", p)
		}
	}
	if hasPrior && critique != nil {
		fmt.Fprintf(&sb, "\nPrevious draft:\n%s\n\nReviewer critique — address every point, keep correct content:\n", prior.Text)
		for _, note := range critique.Notes {
			fmt.Fprintf(&sb, "- %s\n", note)
		}
	}

	messages := historyMessages(st.History)
	messages = append(messages, llm.Message{Role: "user", Content: sb.String()})

	text, err := s.client.Generate(ctx, llm.Request{System: synthesisSystemPrompt, Messages: messages})
	if err != nil {
		return state.Draft{}, err
	}
	return state.Draft{Text: strings.TrimSpace(text), CitedEvidenceIDs: citedIDs(text)}, nil
}

// extractiveDraft is the deterministic fallback: the top evidence items
// stitched into a cited summary, ordered by analysis relevance when
// available.
func extractiveDraft(evidence []state.EvidenceItem, analysis state.Analysis) state.Draft {
	ranked := make([]state.EvidenceItem, len(evidence))
	copy(ranked, evidence)
	if len(analysis.ItemRelevance) > 0 {
		sort.SliceStable(ranked, func(i, j int) bool {
			return analysis.ItemRelevance[ranked[i].ID] > analysis.ItemRelevance[ranked[j].ID]
		})
	}
	if len(ranked) > 3 {
		ranked = ranked[:3]
	}

	var sb strings.Builder
	sb.WriteString("Based on the available sources:\n\n")
	for _, e := range ranked {
		fmt.Fprintf(&sb, "- %s [%s]\n", firstSentence(e.Content), e.ID)
	}
	text := sb.String()
	return state.Draft{Text: text, CitedEvidenceIDs: citedIDs(text)}
}

// citedIDs extracts the distinct citation ids in first-use order.
func citedIDs(text string) []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, m := range citationMarkerPattern.FindAllStringSubmatch(text, -1) {
		if _, dup := seen[m[1]]; !dup {
			seen[m[1]] = struct{}{}
			ids = append(ids, m[1])
		}
	}
	return ids
}

// scrubUnknownCitations removes markers that do not resolve to evidence.
func scrubUnknownCitations(draft state.Draft, st *state.State, logger *zap.Logger) state.Draft {
	var kept []string
	text := draft.Text
	for _, id := range draft.CitedEvidenceIDs {
		if _, ok := st.EvidenceByID(id); ok {
			kept = append(kept, id)
			continue
		}
		logger.Warn("dropping citation to unknown evidence",
			zap.String("query_id", st.QueryID), zap.String("citation", id))
		text = strings.ReplaceAll(text, "["+id+"]", "")
	}
	draft.Text = strings.TrimSpace(text)
	draft.CitedEvidenceIDs = kept
	return draft
}

func historyMessages(history []state.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
