// Package retriever implements hybrid document retrieval over an internal
// vector store: dense similarity blended with keyword overlap. It plugs
// into the research fan-out as one more connector.
package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/intellistream/orchestrator/internal/cache"
)

// Embedder turns query text into a dense vector via an OpenAI-compatible
// embeddings endpoint, with a cache in front so repeated queries skip the
// network round trip.
type Embedder struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	cache   cache.Store
	ttl     time.Duration
	logger  *zap.Logger
}

func NewEmbedder(baseURL, apiKey, model string, store cache.Store, ttl time.Duration, logger *zap.Logger) *Embedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 10 * time.Second},
		cache:   store,
		ttl:     ttl,
		logger:  logger,
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the vector for text, consulting the cache first.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.Key("emb", e.model, cache.NormalizeQuery(text))
	if e.cache != nil {
		if raw, ok := e.cache.Get(ctx, key); ok {
			if vec, decoded := cache.DecodeVector(raw); decoded {
				return vec, nil
			}
		}
	}

	payload, err := json.Marshal(embeddingRequest{Model: e.model, Input: []string{text}})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedder: unexpected status %d", resp.StatusCode)
	}

	var body embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("embedder: empty response")
	}
	vec := body.Data[0].Embedding

	if e.cache != nil {
		e.cache.Set(ctx, key, cache.EncodeVector(vec), e.ttl)
	}
	return vec, nil
}
