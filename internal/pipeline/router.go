// Package pipeline implements the query-orchestration stages: routing,
// research fan-out, analysis, synthesis, reflection, and response
// finalization, sequenced by the Orchestrator over one request state.
package pipeline

import (
	"regexp"
	"strings"

	"github.com/intellistream/orchestrator/internal/connectors"
	"github.com/intellistream/orchestrator/internal/state"
)

// Decision is the router output: the execution path plus the connector
// tags and extracted parameters Research uses to prioritize sources.
type Decision struct {
	Route  state.Route
	Tags   []string
	Params connectors.Params
	Reason string
}

var (
	tickerPattern = regexp.MustCompile(`\$([A-Za-z]{1,5})\b`)
	urlPattern    = regexp.MustCompile(`https?://\S+`)
	cityPattern   = regexp.MustCompile(`(?i)\b(?:in|for|at)\s+([A-Z][A-Za-z]+(?:\s+[A-Z][A-Za-z]+)?)`)
	wordPattern   = regexp.MustCompile(`[a-zA-Z0-9']+`)
)

var weatherKeywords = []string{"weather", "temperature", "forecast", "rain", "snow", "humidity", "sunny", "cloudy", "windy"}

var stockKeywords = []string{"stock", "share price", "stock price", "ticker", "nasdaq", "dow jones", "s&p"}

var newsKeywords = []string{"news", "headline", "headlines", "breaking", "latest on", "happened today"}

var paperKeywords = []string{"paper", "papers", "arxiv", "research on", "study on", "publication"}

var greetings = map[string]struct{}{
	"hello": {}, "hi": {}, "hey": {}, "yo": {}, "thanks": {}, "thank you": {},
	"good morning": {}, "good afternoon": {}, "good evening": {}, "goodbye": {}, "bye": {},
	"how are you": {}, "what's up": {}, "whats up": {},
}

// tickerAliases maps common company names to their symbols so "apple
// stock" works without the $AAPL syntax.
var tickerAliases = map[string]string{
	"apple": "AAPL", "microsoft": "MSFT", "google": "GOOGL", "alphabet": "GOOGL",
	"amazon": "AMZN", "tesla": "TSLA", "meta": "META", "nvidia": "NVDA", "netflix": "NFLX",
}

// pronounStarts flag follow-up phrasings answerable from history alone.
var pronounStarts = []string{"what about it", "and then", "tell me more", "what did you", "can you repeat", "say that again"}

// Classify chooses the execution path for a query. Pure function over
// the text: no I/O, never fails; an empty query defaults to clarify.
func Classify(query string, history []state.Message) Decision {
	trimmed := strings.TrimSpace(query)
	lower := strings.ToLower(trimmed)

	if trimmed == "" {
		return Decision{Route: state.RouteClarify, Reason: "empty query"}
	}

	// Real-time data patterns take priority over everything else.
	if d, ok := classifyRealtime(trimmed, lower); ok {
		return d
	}
	if isGreeting(lower) {
		return Decision{Route: state.RouteDirect, Reason: "greeting"}
	}
	if d, ok := classifyRealtimeFollowUp(trimmed, history); ok {
		return d
	}
	if answerableFromHistory(lower, history) {
		return Decision{Route: state.RouteDirect, Reason: "follow-up answerable from history"}
	}

	if urlPattern.MatchString(trimmed) {
		return Decision{Route: state.RouteResearch, Tags: []string{"web"}, Reason: "url in query"}
	}

	if reason, ambiguous := isAmbiguous(lower, history); ambiguous {
		return Decision{Route: state.RouteClarify, Reason: reason}
	}

	if containsAny(lower, paperKeywords) {
		return Decision{Route: state.RouteResearch, Tags: []string{"papers", "general"}, Reason: "academic intent"}
	}
	return Decision{Route: state.RouteResearch, Tags: []string{"general", "web"}, Reason: "generic retrieval"}
}

func classifyRealtime(query, lower string) (Decision, bool) {
	if containsAny(lower, weatherKeywords) {
		params := connectors.Params{}
		if city := extractCity(query); city != "" {
			params["city"] = city
		}
		return Decision{Route: state.RouteResearch, Tags: []string{"weather", "web"}, Params: params, Reason: "weather intent"}, true
	}

	if symbol := extractTicker(query, lower); symbol != "" {
		return Decision{
			Route:  state.RouteResearch,
			Tags:   []string{"market", "news"},
			Params: connectors.Params{"symbol": symbol},
			Reason: "market intent",
		}, true
	}
	if containsAny(lower, stockKeywords) {
		return Decision{Route: state.RouteResearch, Tags: []string{"market", "news", "web"}, Reason: "market intent, no symbol"}, true
	}

	if containsAny(lower, newsKeywords) {
		return Decision{Route: state.RouteResearch, Tags: []string{"news", "web"}, Reason: "news intent"}, true
	}
	return Decision{}, false
}

// classifyRealtimeFollowUp re-routes short location-only follow-ups
// ("what about London?") to the realtime topic of the preceding
// exchange instead of treating them as answerable from history.
func classifyRealtimeFollowUp(query string, history []state.Message) (Decision, bool) {
	words := wordPattern.FindAllString(query, -1)
	if len(words) == 0 || len(words) > 4 {
		return Decision{}, false
	}
	if !recentHistoryMentions(history, weatherKeywords) {
		return Decision{}, false
	}
	city := extractCity(query)
	if city == "" {
		city = trailingProperNoun(query)
	}
	if city == "" {
		return Decision{}, false
	}
	return Decision{
		Route:  state.RouteResearch,
		Tags:   []string{"weather", "web"},
		Params: connectors.Params{"city": city},
		Reason: "location follow-up to weather exchange",
	}, true
}

func recentHistoryMentions(history []state.Message, keywords []string) bool {
	start := len(history) - 4
	if start < 0 {
		start = 0
	}
	for _, m := range history[start:] {
		if containsAny(strings.ToLower(m.Content), keywords) {
			return true
		}
	}
	return false
}

// trailingProperNoun treats a capitalized final token as a location
// candidate for bare follow-ups like "London?".
func trailingProperNoun(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	last := strings.Trim(fields[len(fields)-1], " ?.!,")
	if len(last) > 1 && last[0] >= 'A' && last[0] <= 'Z' {
		return last
	}
	return ""
}

func isGreeting(lower string) bool {
	normalized := strings.Trim(lower, " .!?,")
	_, ok := greetings[normalized]
	return ok
}

func answerableFromHistory(lower string, history []state.Message) bool {
	if len(history) == 0 {
		return false
	}
	for _, p := range pronounStarts {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// isAmbiguous flags queries too thin to research: a single contentless
// word, or a bare pronoun reference with no history to resolve it.
func isAmbiguous(lower string, history []state.Message) (string, bool) {
	words := wordPattern.FindAllString(lower, -1)
	if len(words) == 0 {
		return "no parseable words", true
	}
	if len(words) == 1 && len(words[0]) < 4 {
		return "single short token", true
	}
	if len(history) == 0 {
		switch words[0] {
		case "it", "that", "this", "they", "he", "she":
			return "unresolved referent with no history", true
		}
	}
	return "", false
}

func extractCity(query string) string {
	if m := cityPattern.FindStringSubmatch(query); m != nil {
		return strings.TrimRight(m[1], " ?.!,")
	}
	return ""
}

func extractTicker(query, lower string) string {
	if m := tickerPattern.FindStringSubmatch(query); m != nil {
		return strings.ToUpper(m[1])
	}
	if !containsAny(lower, stockKeywords) {
		return ""
	}
	for alias, symbol := range tickerAliases {
		if strings.Contains(lower, alias) {
			return symbol
		}
	}
	// An all-caps short token next to a stock keyword reads as a symbol.
	for _, word := range strings.Fields(query) {
		cleaned := strings.Trim(word, " ?.!,")
		if len(cleaned) >= 2 && len(cleaned) <= 5 && cleaned == strings.ToUpper(cleaned) && wordPattern.MatchString(cleaned) {
			if _, isAlias := tickerAliases[strings.ToLower(cleaned)]; !isAlias {
				allLetters := true
				for _, r := range cleaned {
					if r < 'A' || r > 'Z' {
						allLetters = false
						break
					}
				}
				if allLetters {
					return cleaned
				}
			}
		}
	}
	return ""
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
