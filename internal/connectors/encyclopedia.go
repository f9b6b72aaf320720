package connectors

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/intellistream/orchestrator/internal/config"
)

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// Encyclopedia searches Wikipedia's action API. Results carry no native
// relevance score; the API's own ordering is preserved.
type Encyclopedia struct {
	httpConnector
	baseURL string
	limit   int
}

func NewEncyclopedia(cfg config.ConnectorConfig, timeout time.Duration, logger *zap.Logger) *Encyclopedia {
	return &Encyclopedia{
		httpConnector: newHTTPConnector("encyclopedia", "encyclopedia", timeout, cfg.RPM, logger),
		baseURL:       cfg.BaseURL,
		limit:         5,
	}
}

type wikiSearchResponse struct {
	Query struct {
		Search []struct {
			Title     string `json:"title"`
			PageID    int    `json:"pageid"`
			Snippet   string `json:"snippet"`
			Timestamp string `json:"timestamp"`
		} `json:"search"`
	} `json:"query"`
}

func (c *Encyclopedia) Fetch(ctx context.Context, query string, _ Params) ([]Result, error) {
	u := fmt.Sprintf("%s?action=query&list=search&format=json&srlimit=%d&srsearch=%s",
		c.baseURL, c.limit, url.QueryEscape(query))

	var body wikiSearchResponse
	if err := c.getJSON(ctx, u, &body); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(body.Query.Search))
	for _, hit := range body.Query.Search {
		published, _ := time.Parse(time.RFC3339, hit.Timestamp)
		results = append(results, Result{
			Title:       hit.Title,
			Content:     htmlTagPattern.ReplaceAllString(hit.Snippet, ""),
			URL:         fmt.Sprintf("https://en.wikipedia.org/?curid=%d", hit.PageID),
			PublishedAt: published,
		})
	}
	return results, nil
}
