package connectors

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/intellistream/orchestrator/internal/config"
)

// Market fetches stock quotes from an Alpha Vantage-compatible API. It
// requires the "symbol" parameter extracted by the router.
type Market struct {
	httpConnector
	baseURL string
	apiKey  string
}

func NewMarket(cfg config.ConnectorConfig, timeout time.Duration, logger *zap.Logger) *Market {
	return &Market{
		httpConnector: newHTTPConnector("market", "market", timeout, cfg.RPM, logger),
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
	}
}

type globalQuoteResponse struct {
	GlobalQuote struct {
		Symbol        string `json:"01. symbol"`
		Price         string `json:"05. price"`
		Change        string `json:"09. change"`
		ChangePercent string `json:"10. change percent"`
		TradingDay    string `json:"07. latest trading day"`
	} `json:"Global Quote"`
}

func (c *Market) Fetch(ctx context.Context, _ string, params Params) ([]Result, error) {
	symbol := params["symbol"]
	if symbol == "" {
		return nil, nil
	}

	u := fmt.Sprintf("%s?function=GLOBAL_QUOTE&symbol=%s&apikey=%s", c.baseURL, url.QueryEscape(symbol), c.apiKey)
	var body globalQuoteResponse
	if err := c.getJSON(ctx, u, &body); err != nil {
		return nil, err
	}
	quote := body.GlobalQuote
	if quote.Symbol == "" {
		// Unknown ticker: the provider returns an empty quote object.
		return nil, nil
	}

	price, err := strconv.ParseFloat(quote.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("market: bad price %q: %w", quote.Price, err)
	}
	published, _ := time.Parse("2006-01-02", quote.TradingDay)
	content := fmt.Sprintf("%s is trading at $%.2f (%s, %s) as of %s.",
		quote.Symbol, price, quote.Change, quote.ChangePercent, quote.TradingDay)

	return []Result{{
		Title:       fmt.Sprintf("%s stock quote", quote.Symbol),
		Content:     content,
		PublishedAt: published,
	}}, nil
}
