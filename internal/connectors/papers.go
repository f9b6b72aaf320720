package connectors

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/intellistream/orchestrator/internal/config"
)

// Papers searches the arXiv Atom API for academic preprints.
type Papers struct {
	httpConnector
	baseURL string
	limit   int
}

func NewPapers(cfg config.ConnectorConfig, timeout time.Duration, logger *zap.Logger) *Papers {
	return &Papers{
		httpConnector: newHTTPConnector("papers", "papers", timeout, cfg.RPM, logger),
		baseURL:       cfg.BaseURL,
		limit:         5,
	}
}

type arxivFeed struct {
	Entries []struct {
		ID        string `xml:"id"`
		Title     string `xml:"title"`
		Summary   string `xml:"summary"`
		Published string `xml:"published"`
		Authors   []struct {
			Name string `xml:"name"`
		} `xml:"author"`
	} `xml:"entry"`
}

func (c *Papers) Fetch(ctx context.Context, query string, _ Params) ([]Result, error) {
	u := fmt.Sprintf("%s?search_query=all:%s&start=0&max_results=%d&sortBy=relevance",
		c.baseURL, url.QueryEscape(query), c.limit)

	raw, err := c.getBody(ctx, u)
	if err != nil {
		return nil, err
	}
	var feed arxivFeed
	if err := xml.Unmarshal(raw, &feed); err != nil {
		return nil, fmt.Errorf("papers: decode feed: %w", err)
	}

	results := make([]Result, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		published, _ := time.Parse(time.RFC3339, entry.Published)
		authors := make([]string, 0, len(entry.Authors))
		for _, a := range entry.Authors {
			authors = append(authors, a.Name)
		}
		content := strings.TrimSpace(entry.Summary)
		if len(authors) > 0 {
			content = fmt.Sprintf("%s (%s)", content, strings.Join(authors, ", "))
		}
		results = append(results, Result{
			Title:       strings.Join(strings.Fields(entry.Title), " "),
			Content:     content,
			URL:         entry.ID,
			PublishedAt: published,
		})
	}
	return results, nil
}
