package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/intellistream/orchestrator/internal/config"
)

// WebSearch calls a Tavily-style search API. It is the only connector
// whose provider returns its own relevance score, so results are marked
// Scored and ranked on that score during the merge.
type WebSearch struct {
	httpConnector
	baseURL string
	apiKey  string
	limit   int
}

func NewWebSearch(cfg config.ConnectorConfig, timeout time.Duration, logger *zap.Logger) *WebSearch {
	return &WebSearch{
		httpConnector: newHTTPConnector("web_search", "web", timeout, cfg.RPM, logger),
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
		limit:         5,
	}
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (c *WebSearch) Fetch(ctx context.Context, query string, _ Params) ([]Result, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(map[string]interface{}{
		"api_key":     c.apiKey,
		"query":       query,
		"max_results": c.limit,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web_search: unexpected status %d", resp.StatusCode)
	}

	var body tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(body.Results))
	for _, hit := range body.Results {
		results = append(results, Result{
			Title:       hit.Title,
			Content:     hit.Content,
			URL:         hit.URL,
			NativeScore: hit.Score,
			Scored:      true,
		})
	}
	return results, nil
}
