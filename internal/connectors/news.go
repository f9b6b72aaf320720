package connectors

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/intellistream/orchestrator/internal/config"
)

// News searches recent articles via a NewsAPI-compatible endpoint.
type News struct {
	httpConnector
	baseURL string
	apiKey  string
	limit   int
}

func NewNews(cfg config.ConnectorConfig, timeout time.Duration, logger *zap.Logger) *News {
	return &News{
		httpConnector: newHTTPConnector("news", "news", timeout, cfg.RPM, logger),
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
		limit:         5,
	}
}

type newsAPIResponse struct {
	Status   string `json:"status"`
	Articles []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

func (c *News) Fetch(ctx context.Context, query string, _ Params) ([]Result, error) {
	u := fmt.Sprintf("%s/everything?q=%s&sortBy=publishedAt&pageSize=%d&apiKey=%s",
		c.baseURL, url.QueryEscape(query), c.limit, c.apiKey)

	var body newsAPIResponse
	if err := c.getJSON(ctx, u, &body); err != nil {
		return nil, err
	}
	if body.Status != "ok" {
		return nil, fmt.Errorf("news: provider status %q", body.Status)
	}

	results := make([]Result, 0, len(body.Articles))
	for _, article := range body.Articles {
		published, _ := time.Parse(time.RFC3339, article.PublishedAt)
		content := article.Description
		if article.Source.Name != "" {
			content = fmt.Sprintf("%s — %s", article.Source.Name, content)
		}
		results = append(results, Result{
			Title:       article.Title,
			Content:     content,
			URL:         article.URL,
			PublishedAt: published,
		})
	}
	return results, nil
}
