// Package connectors holds the adapters to external knowledge sources.
// Every adapter satisfies the same fetch contract: cancellable, rate
// limited, and distinguishing "no results" (empty slice, nil error) from
// failure (non-nil error). Resilience (retry + circuit breaker) is
// applied by the research stage around each Fetch call.
package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Params carries connector-specific parameters extracted by the router,
// e.g. "city" for weather or "symbol" for market quotes.
type Params map[string]string

// Result is one retrieved item before merge-ranking. NativeScore is only
// meaningful when Scored is true; unscored sources receive a fixed
// priority constant during the merge.
type Result struct {
	Title       string
	Content     string
	URL         string
	NativeScore float64
	Scored      bool
	PublishedAt time.Time
}

// Connector adapts one external or internal knowledge source.
type Connector interface {
	// Name identifies the connector for circuit breaking, caching, and
	// trace entries.
	Name() string
	// Kind is the evidence source kind attached to retrieved items.
	Kind() string
	// Fetch retrieves results for the query. An empty slice with a nil
	// error means the source had nothing relevant; an error means the
	// source failed.
	Fetch(ctx context.Context, query string, params Params) ([]Result, error)
}

// httpConnector is the shared transport base: one http.Client with a
// short per-call timeout and an optional requests-per-minute limiter.
type httpConnector struct {
	name    string
	kind    string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func newHTTPConnector(name, kind string, timeout time.Duration, rpm int, logger *zap.Logger) httpConnector {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	var limiter *rate.Limiter
	if rpm > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return httpConnector{
		name:    name,
		kind:    kind,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger.With(zap.String("connector", name)),
	}
}

func (c *httpConnector) Name() string { return c.name }
func (c *httpConnector) Kind() string { return c.kind }

// wait blocks until the connector's rate limit admits a request or the
// context is done.
func (c *httpConnector) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// getJSON issues a GET and decodes the JSON body into out. Non-2xx
// statuses are failures.
func (c *httpConnector) getJSON(ctx context.Context, url string, out interface{}) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", c.name, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// getBody issues a GET and returns the raw body for non-JSON providers.
func (c *httpConnector) getBody(ctx context.Context, url string) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", c.name, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}
