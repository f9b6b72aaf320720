package connectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/intellistream/orchestrator/internal/config"
)

func TestEncyclopediaFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "quantum computing", r.URL.Query().Get("srsearch"))
		w.Write([]byte(`{"query":{"search":[
			{"title":"Quantum computing","pageid":25220,"snippet":"A <span class=\"searchmatch\">quantum</span> computer","timestamp":"2024-01-15T10:00:00Z"},
			{"title":"Qubit","pageid":25291,"snippet":"basic unit","timestamp":"2024-02-01T08:30:00Z"}
		]}}`))
	}))
	defer srv.Close()

	c := NewEncyclopedia(config.ConnectorConfig{BaseURL: srv.URL}, time.Second, zaptest.NewLogger(t))
	results, err := c.Fetch(context.Background(), "quantum computing", nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Quantum computing", results[0].Title)
	assert.Equal(t, "A quantum computer", results[0].Content, "snippet markup must be stripped")
	assert.Contains(t, results[0].URL, "curid=25220")
	assert.False(t, results[0].Scored)
}

func TestEncyclopediaEmptyVsFailure(t *testing.T) {
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"query":{"search":[]}}`))
	}))
	defer empty.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	c := NewEncyclopedia(config.ConnectorConfig{BaseURL: empty.URL}, time.Second, zaptest.NewLogger(t))
	results, err := c.Fetch(context.Background(), "xyzzy", nil)
	require.NoError(t, err, "no results is not a failure")
	assert.Empty(t, results)

	c = NewEncyclopedia(config.ConnectorConfig{BaseURL: failing.URL}, time.Second, zaptest.NewLogger(t))
	_, err = c.Fetch(context.Background(), "xyzzy", nil)
	assert.Error(t, err, "a 5xx from the provider is a failure")
}

func TestPapersFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2401.00001</id>
    <title>Attention Is
    All You Need</title>
    <summary> We propose a new architecture. </summary>
    <published>2024-01-01T00:00:00Z</published>
    <author><name>A. Researcher</name></author>
    <author><name>B. Scientist</name></author>
  </entry>
</feed>`))
	}))
	defer srv.Close()

	c := NewPapers(config.ConnectorConfig{BaseURL: srv.URL}, time.Second, zaptest.NewLogger(t))
	results, err := c.Fetch(context.Background(), "transformers", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Attention Is All You Need", results[0].Title, "feed whitespace must be collapsed")
	assert.Contains(t, results[0].Content, "A. Researcher, B. Scientist")
	assert.Equal(t, "http://arxiv.org/abs/2401.00001", results[0].URL)
}

func TestWebSearchFetchCarriesNativeScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		w.Write([]byte(`{"results":[
			{"title":"Result A","url":"https://a.example","content":"alpha","score":0.91},
			{"title":"Result B","url":"https://b.example","content":"beta","score":0.42}
		]}`))
	}))
	defer srv.Close()

	c := NewWebSearch(config.ConnectorConfig{BaseURL: srv.URL, APIKey: "tk"}, time.Second, zaptest.NewLogger(t))
	results, err := c.Fetch(context.Background(), "anything", nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Scored)
	assert.Equal(t, 0.91, results[0].NativeScore)
}

func TestWeatherFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Tokyo", r.URL.Query().Get("q"))
		w.Write([]byte(`{"name":"Tokyo","weather":[{"main":"Clouds","description":"scattered clouds"}],
			"main":{"temp":18.5,"feels_like":17.9,"humidity":60},"wind":{"speed":3.2}}`))
	}))
	defer srv.Close()

	c := NewWeather(config.ConnectorConfig{BaseURL: srv.URL, APIKey: "wk"}, time.Second, zaptest.NewLogger(t))
	results, err := c.Fetch(context.Background(), "weather in tokyo", Params{"city": "Tokyo"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "scattered clouds")
	assert.Contains(t, results[0].Content, "18.5")
}

func TestWeatherWithoutCity(t *testing.T) {
	c := NewWeather(config.ConnectorConfig{BaseURL: "http://unused"}, time.Second, zaptest.NewLogger(t))
	results, err := c.Fetch(context.Background(), "weather", nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestNewsFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","articles":[
			{"title":"Headline","description":"Body","url":"https://n.example/1",
			 "publishedAt":"2024-03-01T12:00:00Z","source":{"name":"Example Times"}}
		]}`))
	}))
	defer srv.Close()

	c := NewNews(config.ConnectorConfig{BaseURL: srv.URL, APIKey: "nk"}, time.Second, zaptest.NewLogger(t))
	results, err := c.Fetch(context.Background(), "elections", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "Example Times")
	assert.Equal(t, 2024, results[0].PublishedAt.Year())
}

func TestNewsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","articles":[]}`))
	}))
	defer srv.Close()

	c := NewNews(config.ConnectorConfig{BaseURL: srv.URL}, time.Second, zaptest.NewLogger(t))
	_, err := c.Fetch(context.Background(), "x", nil)
	assert.Error(t, err)
}

func TestMarketFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"Global Quote":{"01. symbol":"AAPL","05. price":"189.5000",
			"09. change":"+1.2500","10. change percent":"+0.66%","07. latest trading day":"2024-03-01"}}`))
	}))
	defer srv.Close()

	c := NewMarket(config.ConnectorConfig{BaseURL: srv.URL, APIKey: "mk"}, time.Second, zaptest.NewLogger(t))
	results, err := c.Fetch(context.Background(), "apple stock", Params{"symbol": "AAPL"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "$189.50")
}

func TestMarketUnknownSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Global Quote":{}}`))
	}))
	defer srv.Close()

	c := NewMarket(config.ConnectorConfig{BaseURL: srv.URL}, time.Second, zaptest.NewLogger(t))
	results, err := c.Fetch(context.Background(), "", Params{"symbol": "ZZZZZ"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRegistryTagSelectionAndPriority(t *testing.T) {
	order := map[string]int{"weather": 0, "news": 1, "web_search": 6}
	priority := func(name string) int {
		if p, ok := order[name]; ok {
			return p
		}
		return 100
	}
	reg := NewRegistry(priority, zaptest.NewLogger(t))
	reg.Register(NewWebSearch(config.ConnectorConfig{}, time.Second, nil), 0.5, "web")
	reg.Register(NewNews(config.ConnectorConfig{}, time.Second, nil), 0.85, "news")
	reg.Register(NewWeather(config.ConnectorConfig{}, time.Second, nil), 0.95, "weather")

	all := reg.All()
	require.Len(t, all, 3)
	assert.Equal(t, "weather", all[0].Connector.Name())
	assert.Equal(t, "news", all[1].Connector.Name())

	picked := reg.ForTags([]string{"weather", "news"})
	require.Len(t, picked, 2)
	assert.Equal(t, "weather", picked[0].Connector.Name())

	entry, ok := reg.ByName("web_search")
	require.True(t, ok)
	assert.Equal(t, 0.5, entry.Score)
	_, ok = reg.ByName("papers")
	assert.False(t, ok)
}
