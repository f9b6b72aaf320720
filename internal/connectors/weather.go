package connectors

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/intellistream/orchestrator/internal/config"
)

// Weather fetches current conditions from an OpenWeather-compatible API.
// It requires the "city" parameter extracted by the router and returns at
// most one composed evidence item.
type Weather struct {
	httpConnector
	baseURL string
	apiKey  string
}

func NewWeather(cfg config.ConnectorConfig, timeout time.Duration, logger *zap.Logger) *Weather {
	return &Weather{
		httpConnector: newHTTPConnector("weather", "weather", timeout, cfg.RPM, logger),
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
	}
}

type openWeatherResponse struct {
	Name    string `json:"name"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

func (c *Weather) Fetch(ctx context.Context, _ string, params Params) ([]Result, error) {
	city := params["city"]
	if city == "" {
		// No city could be extracted; the source simply has nothing to say.
		return nil, nil
	}

	u := fmt.Sprintf("%s/weather?q=%s&appid=%s&units=metric", c.baseURL, url.QueryEscape(city), c.apiKey)
	var body openWeatherResponse
	if err := c.getJSON(ctx, u, &body); err != nil {
		return nil, err
	}

	condition := "unknown"
	if len(body.Weather) > 0 {
		condition = body.Weather[0].Description
	}
	content := fmt.Sprintf("Current weather in %s: %s, %.1f°C (feels like %.1f°C), humidity %d%%, wind %.1f m/s.",
		body.Name, condition, body.Main.Temp, body.Main.FeelsLike, body.Main.Humidity, body.Wind.Speed)

	return []Result{{
		Title:       fmt.Sprintf("Weather in %s", body.Name),
		Content:     content,
		PublishedAt: time.Now(),
	}}, nil
}
