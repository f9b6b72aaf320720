package connectors

import (
	"sort"

	"go.uber.org/zap"

	"github.com/intellistream/orchestrator/internal/config"
)

// Entry pairs a connector with its merge-ranking defaults and the query
// tags that activate it.
type Entry struct {
	Connector Connector
	// Score is the default merge score applied to results the source does
	// not rank itself.
	Score float64
	// Tags are the router tags that select this connector. A connector
	// with no tags is never auto-selected and can only appear as an
	// explicit fallback.
	Tags []string
}

// Registry holds the enabled connectors in policy priority order.
type Registry struct {
	entries  []Entry
	priority func(name string) int
	logger   *zap.Logger
}

func NewRegistry(priority func(name string) int, logger *zap.Logger) *Registry {
	if priority == nil {
		priority = func(string) int { return 0 }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{priority: priority, logger: logger}
}

// Register adds a connector. Entries keep policy priority order so the
// merge can concatenate per-source results deterministically.
func (r *Registry) Register(c Connector, score float64, tags ...string) {
	r.entries = append(r.entries, Entry{Connector: c, Score: score, Tags: tags})
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.priority(r.entries[i].Connector.Name()) < r.priority(r.entries[j].Connector.Name())
	})
	r.logger.Info("connector registered",
		zap.String("connector", c.Name()),
		zap.Float64("score", score),
		zap.Strings("tags", tags))
}

// All returns every registered entry in priority order.
func (r *Registry) All() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// ForTags returns the entries activated by any of the given tags, in
// priority order.
func (r *Registry) ForTags(tags []string) []Entry {
	want := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		want[t] = struct{}{}
	}
	var out []Entry
	for _, e := range r.entries {
		for _, t := range e.Tags {
			if _, ok := want[t]; ok {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// ByName returns the entry for a connector, used for explicit fallbacks
// like the generic web search.
func (r *Registry) ByName(name string) (Entry, bool) {
	for _, e := range r.entries {
		if e.Connector.Name() == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Build wires the HTTP connectors enabled by configuration into a
// registry. Merge scores come from the connector config, with policy
// overrides applied through scoreFor. The caller registers additional
// sources (e.g. the hybrid document retriever) afterwards.
func Build(cfg *config.Config, priority func(string) int, scoreFor func(name string, fallback float64) float64, logger *zap.Logger) *Registry {
	reg := NewRegistry(priority, logger)
	timeout := cfg.Pipeline.ConnectorTimeout
	if scoreFor == nil {
		scoreFor = func(_ string, fallback float64) float64 { return fallback }
	}

	if cfg.Connectors.Encyclopedia.Enabled {
		reg.Register(NewEncyclopedia(cfg.Connectors.Encyclopedia, timeout, logger),
			scoreFor("encyclopedia", cfg.Connectors.Encyclopedia.Score), "encyclopedia", "general")
	}
	if cfg.Connectors.Papers.Enabled {
		reg.Register(NewPapers(cfg.Connectors.Papers, timeout, logger),
			scoreFor("papers", cfg.Connectors.Papers.Score), "papers")
	}
	if cfg.Connectors.WebSearch.Enabled {
		reg.Register(NewWebSearch(cfg.Connectors.WebSearch, timeout, logger),
			scoreFor("web_search", cfg.Connectors.WebSearch.Score), "web")
	}
	if cfg.Connectors.Weather.Enabled {
		reg.Register(NewWeather(cfg.Connectors.Weather, timeout, logger),
			scoreFor("weather", cfg.Connectors.Weather.Score), "weather")
	}
	if cfg.Connectors.News.Enabled {
		reg.Register(NewNews(cfg.Connectors.News, timeout, logger),
			scoreFor("news", cfg.Connectors.News.Score), "news")
	}
	if cfg.Connectors.Market.Enabled {
		reg.Register(NewMarket(cfg.Connectors.Market, timeout, logger),
			scoreFor("market", cfg.Connectors.Market.Score), "market")
	}
	return reg
}
