package retriever

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/intellistream/orchestrator/internal/connectors"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// stopwords excluded from keyword overlap scoring.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"of": {}, "in": {}, "on": {}, "to": {}, "for": {}, "and": {}, "or": {},
	"what": {}, "how": {}, "why": {}, "who": {}, "which": {}, "about": {},
}

// Retriever is the hybrid document source: dense similarity from the
// vector store blended with keyword overlap, computed over a candidate
// pool before results join the cross-source merge. It satisfies the
// connectors.Connector contract.
type Retriever struct {
	embedder      *Embedder
	store         *VectorStore
	vectorWeight  float64
	keywordWeight float64
	poolSize      int
	logger        *zap.Logger
}

func New(embedder *Embedder, store *VectorStore, vectorWeight, keywordWeight float64, poolSize int, logger *zap.Logger) *Retriever {
	if poolSize <= 0 {
		poolSize = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		embedder:      embedder,
		store:         store,
		vectorWeight:  vectorWeight,
		keywordWeight: keywordWeight,
		poolSize:      poolSize,
		logger:        logger,
	}
}

func (r *Retriever) Name() string { return "retriever" }
func (r *Retriever) Kind() string { return "document" }

// Fetch embeds the query, pulls a candidate pool from the vector store,
// and re-scores each candidate as a weighted blend of normalized dense
// similarity and keyword overlap. The blend happens here, before the
// cross-source merge ever sees these results.
func (r *Retriever) Fetch(ctx context.Context, query string, _ connectors.Params) ([]connectors.Result, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	docs, err := r.store.Search(ctx, vector, r.poolSize)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	terms := tokenize(query)
	maxDense := 0.0
	for _, d := range docs {
		if d.Score > maxDense {
			maxDense = d.Score
		}
	}

	results := make([]connectors.Result, 0, len(docs))
	for _, d := range docs {
		dense := 0.0
		if maxDense > 0 {
			dense = d.Score / maxDense
		}
		keyword := overlapScore(terms, d.Title+" "+d.Content)
		blended := r.vectorWeight*dense + r.keywordWeight*keyword
		results = append(results, connectors.Result{
			Title:       d.Title,
			Content:     d.Content,
			URL:         d.URL,
			NativeScore: blended,
			Scored:      true,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].NativeScore > results[j].NativeScore
	})
	return results, nil
}

// tokenize lowercases, splits on non-alphanumerics, and drops stopwords.
func tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, tok := range raw {
		if _, skip := stopwords[tok]; !skip {
			out = append(out, tok)
		}
	}
	return out
}

// overlapScore is the fraction of query terms present in the document,
// dampened for very short documents so a one-word chunk cannot dominate.
func overlapScore(terms []string, doc string) float64 {
	if len(terms) == 0 {
		return 0
	}
	docTokens := tokenize(doc)
	present := make(map[string]struct{}, len(docTokens))
	for _, tok := range docTokens {
		present[tok] = struct{}{}
	}
	matched := 0
	for _, term := range terms {
		if _, ok := present[term]; ok {
			matched++
		}
	}
	score := float64(matched) / float64(len(terms))
	if len(docTokens) < len(terms) {
		score *= math.Sqrt(float64(len(docTokens)+1) / float64(len(terms)+1))
	}
	return score
}
