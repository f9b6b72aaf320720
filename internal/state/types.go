package state

import "time"

// Route is the execution path chosen by the router stage.
type Route string

const (
	RouteResearch Route = "research"
	RouteDirect   Route = "direct"
	RouteClarify  Route = "clarify"
)

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// EvidenceItem is a scored, titled unit of retrieved content.
// Score is normalized to [0,1] and comparable across source kinds
// after merge-ranking.
type EvidenceItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	SourceKind  string    `json:"source_kind"`
	URL         string    `json:"url,omitempty"`
	Content     string    `json:"content"`
	Score       float64   `json:"score"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// Entity is a named entity extracted by the analysis stage.
type Entity struct {
	Name string `json:"name"`
	Type string `json:"type"` // person|company|product|location|other
}

// Analysis holds the analysis stage output.
type Analysis struct {
	Entities            []Entity           `json:"entities"`
	KeyPoints           []string           `json:"key_points"`
	Sentiment           string             `json:"sentiment"` // positive|negative|neutral|mixed
	SentimentConfidence float64            `json:"sentiment_confidence"`
	ItemRelevance       map[string]float64 `json:"item_relevance,omitempty"`
	NoEvidence          bool               `json:"no_evidence"`
}

// Draft is one synthesized answer candidate. Drafts are immutable values;
// a revision pass produces a new Draft rather than mutating the old one.
type Draft struct {
	Text             string   `json:"text"`
	CitedEvidenceIDs []string `json:"cited_evidence_ids"`
	Revision         int      `json:"revision"`
}

// Verdict is the reflection stage decision.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictRevise  Verdict = "revise"
)

// Critique carries the reflection verdict and the named deficiencies a
// revision pass must address.
type Critique struct {
	Verdict Verdict  `json:"verdict"`
	Notes   []string `json:"notes,omitempty"`
}

// TraceEntry records one agent action for observability. Entries are
// append-only and returned to the caller with the final answer.
type TraceEntry struct {
	Agent     string    `json:"agent"`
	Action    string    `json:"action"`
	LatencyMs int64     `json:"latency_ms"`
	StartedAt time.Time `json:"started_at"`
}

// CitationRef resolves a citation marker to its source evidence.
type CitationRef struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	URL     string  `json:"url,omitempty"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// FinalAnswer is the terminal output of the pipeline.
type FinalAnswer struct {
	Text      string        `json:"text"`
	Sources   []CitationRef `json:"sources"`
	LatencyMs int64         `json:"latency_ms"`
}
