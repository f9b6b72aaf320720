package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Document is one stored chunk returned by the vector store.
type Document struct {
	ID      string
	Title   string
	Content string
	URL     string
	Score   float64 // cosine similarity reported by the store
}

// VectorStore queries a Qdrant-compatible points search API.
type VectorStore struct {
	baseURL    string
	collection string
	client     *http.Client
}

func NewVectorStore(baseURL, collection string) *VectorStore {
	return &VectorStore{
		baseURL:    baseURL,
		collection: collection,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type searchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type searchResponse struct {
	Result []struct {
		ID      interface{}            `json:"id"`
		Score   float64                `json:"score"`
		Payload map[string]interface{} `json:"payload"`
	} `json:"result"`
}

// Search returns the top-limit chunks by dense similarity.
func (s *VectorStore) Search(ctx context.Context, vector []float32, limit int) ([]Document, error) {
	payload, err := json.Marshal(searchRequest{Vector: vector, Limit: limit, WithPayload: true})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", s.baseURL, s.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("vectorstore: status %d: %s", resp.StatusCode, body)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(body.Result))
	for _, hit := range body.Result {
		doc := Document{
			ID:    fmt.Sprintf("%v", hit.ID),
			Score: hit.Score,
		}
		if v, ok := hit.Payload["title"].(string); ok {
			doc.Title = v
		}
		if v, ok := hit.Payload["content"].(string); ok {
			doc.Content = v
		}
		if v, ok := hit.Payload["url"].(string); ok {
			doc.URL = v
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
