package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/intellistream/orchestrator/internal/llm"
	"github.com/intellistream/orchestrator/internal/state"
)

const analysisSystemPrompt = `You are an analysis agent. Given a user query and numbered evidence items,
extract named entities, the key points relevant to the query, overall sentiment, and a
relevance score in [0,1] for each evidence item. Respond with JSON only:
{"entities":[{"name":"...","type":"person|company|product|location|other"}],
"key_points":["..."],"sentiment":"positive|negative|neutral|mixed",
"sentiment_confidence":0.0,"item_relevance":{"e1":0.0}}`

// Analysis extracts entities, key points, and relevance/sentiment from
// the evidence list in a single LLM call, with a deterministic keyword
// fallback when the model is unavailable.
type AnalysisStage struct {
	client llm.Client
	logger *zap.Logger
}

func NewAnalysis(client llm.Client, logger *zap.Logger) *AnalysisStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisStage{client: client, logger: logger}
}

// Run analyzes the accumulated evidence and records the result on the
// state. An empty evidence list yields a NoEvidence marker rather than
// an error.
func (a *AnalysisStage) Run(ctx context.Context, st *state.State) error {
	evidence := st.Evidence()
	if len(evidence) == 0 {
		return st.SetAnalysis(state.Analysis{Sentiment: "neutral", NoEvidence: true})
	}

	result, err := a.analyzeLLM(ctx, st.Query, evidence)
	if err != nil {
		a.logger.Warn("llm analysis failed, using heuristic fallback",
			zap.String("query_id", st.QueryID), zap.Error(err))
		result = heuristicAnalysis(st.Query, evidence)
	}
	return st.SetAnalysis(result)
}

func (a *AnalysisStage) analyzeLLM(ctx context.Context, query string, evidence []state.EvidenceItem) (state.Analysis, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nEvidence:\n", query)
	for _, e := range evidence {
		fmt.Fprintf(&sb, "[%s] %s: %s\n", e.ID, e.Title, truncate(e.Content, 500))
	}

	raw, err := a.client.Generate(ctx, llm.Request{
		System:   analysisSystemPrompt,
		Messages: []llm.Message{{Role: "user", Content: sb.String()}},
	})
	if err != nil {
		return state.Analysis{}, err
	}

	var parsed state.Analysis
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return state.Analysis{}, fmt.Errorf("parse analysis output: %w", err)
	}
	if parsed.Sentiment == "" {
		parsed.Sentiment = "neutral"
	}
	return parsed, nil
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// extractJSON tolerates models that wrap JSON in prose or code fences.
func extractJSON(raw string) string {
	if m := jsonObjectPattern.FindString(raw); m != "" {
		return m
	}
	return raw
}

// heuristicAnalysis is the deterministic fallback: capitalized-token
// entities, leading sentences as key points, and keyword-overlap
// relevance per item.
func heuristicAnalysis(query string, evidence []state.EvidenceItem) state.Analysis {
	result := state.Analysis{
		Sentiment:           "neutral",
		SentimentConfidence: 0.5,
		ItemRelevance:       make(map[string]float64, len(evidence)),
	}

	queryTerms := lowerTerms(query)
	seen := make(map[string]struct{})
	for _, e := range evidence {
		for _, name := range capitalizedRuns(e.Title) {
			if _, dup := seen[name]; !dup && len(name) > 2 {
				seen[name] = struct{}{}
				result.Entities = append(result.Entities, state.Entity{Name: name, Type: "other"})
			}
		}
		if point := firstSentence(e.Content); point != "" {
			result.KeyPoints = append(result.KeyPoints, point)
		}
		result.ItemRelevance[e.ID] = termOverlap(queryTerms, e.Title+" "+e.Content)
	}
	if len(result.KeyPoints) > 5 {
		result.KeyPoints = result.KeyPoints[:5]
	}
	return result
}

var capitalizedRunPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+)*\b`)

func capitalizedRuns(text string) []string {
	return capitalizedRunPattern.FindAllString(text, -1)
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	for _, sep := range []string{". ", "! ", "? "} {
		if idx := strings.Index(text, sep); idx > 0 {
			return text[:idx+1]
		}
	}
	return truncate(text, 200)
}

var termPattern = regexp.MustCompile(`[a-z0-9]+`)

func lowerTerms(text string) []string {
	return termPattern.FindAllString(strings.ToLower(text), -1)
}

func termOverlap(terms []string, doc string) float64 {
	if len(terms) == 0 {
		return 0
	}
	present := make(map[string]struct{})
	for _, tok := range lowerTerms(doc) {
		present[tok] = struct{}{}
	}
	matched := 0
	for _, t := range terms {
		if _, ok := present[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
