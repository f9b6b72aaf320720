package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/intellistream/orchestrator/internal/state"
)

func TestClassifyWeather(t *testing.T) {
	d := Classify("What's the weather in Tokyo?", nil)
	assert.Equal(t, state.RouteResearch, d.Route)
	assert.Contains(t, d.Tags, "weather")
	assert.Equal(t, "Tokyo", d.Params["city"])
}

func TestClassifyMarket(t *testing.T) {
	d := Classify("How is $AAPL doing today?", nil)
	assert.Equal(t, state.RouteResearch, d.Route)
	assert.Contains(t, d.Tags, "market")
	assert.Equal(t, "AAPL", d.Params["symbol"])

	d = Classify("What is the tesla stock price?", nil)
	assert.Contains(t, d.Tags, "market")
	assert.Equal(t, "TSLA", d.Params["symbol"], "company aliases map to symbols")

	d = Classify("MSFT stock price today", nil)
	assert.Equal(t, "MSFT", d.Params["symbol"], "bare uppercase ticker next to a stock keyword")
}

func TestClassifyNews(t *testing.T) {
	d := Classify("latest news about the election", nil)
	assert.Equal(t, state.RouteResearch, d.Route)
	assert.Contains(t, d.Tags, "news")
}

func TestClassifyDirect(t *testing.T) {
	assert.Equal(t, state.RouteDirect, Classify("hello", nil).Route)
	assert.Equal(t, state.RouteDirect, Classify("Thanks!", nil).Route)

	history := []state.Message{{Role: "assistant", Content: "Paris is the capital."}}
	assert.Equal(t, state.RouteDirect, Classify("can you repeat that?", history).Route)
}

func TestClassifyClarify(t *testing.T) {
	assert.Equal(t, state.RouteClarify, Classify("", nil).Route)
	assert.Equal(t, state.RouteClarify, Classify("   ", nil).Route)
	assert.Equal(t, state.RouteClarify, Classify("it?", nil).Route)
	assert.Equal(t, state.RouteClarify, Classify("why", nil).Route)
}

func TestClassifyGenericResearch(t *testing.T) {
	d := Classify("Explain how photosynthesis works", nil)
	assert.Equal(t, state.RouteResearch, d.Route)
	assert.Contains(t, d.Tags, "general")
	assert.Contains(t, d.Tags, "web")
}

func TestClassifyAcademic(t *testing.T) {
	d := Classify("Find papers about transformer architectures", nil)
	assert.Equal(t, state.RouteResearch, d.Route)
	assert.Contains(t, d.Tags, "papers")
}

func TestClassifyURL(t *testing.T) {
	d := Classify("summarize https://example.com/article", nil)
	assert.Equal(t, state.RouteResearch, d.Route)
	assert.Contains(t, d.Tags, "web")
}

func TestClassifyRealtimeFollowUp(t *testing.T) {
	history := []state.Message{
		{Role: "user", Content: "What's the weather in Tokyo?"},
		{Role: "assistant", Content: "It is 18C and cloudy in Tokyo."},
	}
	d := Classify("What about London?", history)
	assert.Equal(t, state.RouteResearch, d.Route)
	assert.Contains(t, d.Tags, "weather")
	assert.Equal(t, "London", d.Params["city"])

	// Without a realtime exchange behind it the same phrasing stays a
	// history follow-up.
	plain := []state.Message{{Role: "assistant", Content: "Paris is the capital."}}
	assert.NotContains(t, Classify("tell me more", plain).Tags, "weather")
}

func TestClassifyRealtimeBeatsGreetingWords(t *testing.T) {
	// "hi" appearing inside a realtime query must not demote it to direct.
	d := Classify("hi, what's the weather in Osaka", nil)
	assert.Equal(t, state.RouteResearch, d.Route)
	assert.Contains(t, d.Tags, "weather")
}
