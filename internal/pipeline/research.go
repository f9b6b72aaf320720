package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/intellistream/orchestrator/internal/cache"
	"github.com/intellistream/orchestrator/internal/circuitbreaker"
	"github.com/intellistream/orchestrator/internal/connectors"
	"github.com/intellistream/orchestrator/internal/metrics"
	"github.com/intellistream/orchestrator/internal/state"
)

// ResearchConfig carries the merge and timeout knobs for the fan-out.
type ResearchConfig struct {
	TopK             int
	MinEvidence      int
	ConnectorTimeout time.Duration
	// RealtimeScore is the merge score for sources that do not rank their
	// own results and have no per-connector default configured.
	RealtimeScore float64
	CacheTTL      time.Duration
	// RealtimeMinScore and RealtimeFloor filter weak evidence on
	// real-time routes: items below RealtimeMinScore drop unless that
	// would empty the list, in which case the floor applies instead.
	RealtimeMinScore float64
	RealtimeFloor    float64
}

// Research fans out to the connectors implied by the routing decision,
// merges per-source results into one ranked evidence list, and appends
// it to the request state.
type Research struct {
	registry *connectors.Registry
	breakers *circuitbreaker.Registry
	cache    cache.Store
	cfg      ResearchConfig
	logger   *zap.Logger
}

func NewResearch(registry *connectors.Registry, breakers *circuitbreaker.Registry, store cache.Store, cfg ResearchConfig, logger *zap.Logger) *Research {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Research{registry: registry, breakers: breakers, cache: store, cfg: cfg, logger: logger}
}

// sourceResult is one connector's contribution, kept in priority order
// until the merge.
type sourceResult struct {
	entry   connectors.Entry
	results []connectors.Result
}

// Run executes the fan-out. Connector failures degrade to zero evidence
// plus a trace entry; the stage itself only fails on context
// cancellation.
func (r *Research) Run(ctx context.Context, st *state.State, decision Decision) error {
	entries := r.selectEntries(decision)
	if len(entries) == 0 {
		return nil
	}

	results := r.fanOut(ctx, st, entries, decision.Params)
	merged := r.merge(results, decision)

	// Thin evidence falls back to generic web search once, if it was not
	// already part of the fan-out.
	if len(merged) < r.cfg.MinEvidence && !hasConnector(entries, "web_search") {
		if web, ok := r.registry.ByName("web_search"); ok {
			extra := r.fanOut(ctx, st, []connectors.Entry{web}, decision.Params)
			merged = r.merge(append(results, extra...), decision)
		}
	}

	metrics.EvidenceMerged.Observe(float64(len(merged)))
	return st.AppendEvidence(merged...)
}

// selectEntries resolves the routing tags to connectors. The hybrid
// document retriever joins every research fan-out as baseline coverage.
func (r *Research) selectEntries(decision Decision) []connectors.Entry {
	entries := r.registry.ForTags(decision.Tags)
	if retr, ok := r.registry.ByName("retriever"); ok && !hasConnector(entries, "retriever") {
		entries = append(entries, retr)
	}
	return entries
}

func (r *Research) fanOut(ctx context.Context, st *state.State, entries []connectors.Entry, params connectors.Params) []sourceResult {
	out := make([]sourceResult, len(entries))
	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry connectors.Entry) {
			defer wg.Done()
			out[i] = sourceResult{entry: entry, results: r.fetchOne(ctx, st, entry, params)}
		}(i, entry)
	}
	wg.Wait()
	return out
}

// fetchOne runs a single connector call: cache first, then the network
// through the resilience wrapper. Failures return nil after recording a
// degradation trace entry.
func (r *Research) fetchOne(ctx context.Context, st *state.State, entry connectors.Entry, params connectors.Params) []connectors.Result {
	name := entry.Connector.Name()
	started := time.Now()

	key := r.cacheKey(name, st.Query, params)
	if r.cache != nil {
		if raw, ok := r.cache.Get(ctx, key); ok {
			var cached []connectors.Result
			if err := json.Unmarshal(raw, &cached); err == nil {
				st.AppendTrace(name, "cache_hit", started)
				metrics.ConnectorRequests.WithLabelValues(name, "cache_hit").Inc()
				return cached
			}
		}
	}

	callCtx := ctx
	if r.cfg.ConnectorTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.cfg.ConnectorTimeout)
		defer cancel()
	}

	var results []connectors.Result
	err := r.breakers.Execute(callCtx, name, func(c context.Context) error {
		var fetchErr error
		results, fetchErr = entry.Connector.Fetch(c, st.Query, params)
		return fetchErr
	})
	metrics.ConnectorLatency.WithLabelValues(name).Observe(float64(time.Since(started).Milliseconds()))
	if err != nil {
		// Degraded source: zero evidence, never fatal for the stage.
		st.AppendTrace(name, "degraded: "+err.Error(), started)
		metrics.ConnectorRequests.WithLabelValues(name, "degraded").Inc()
		r.logger.Warn("connector degraded",
			zap.String("connector", name),
			zap.String("query_id", st.QueryID),
			zap.Error(err))
		return nil
	}

	if len(results) == 0 {
		st.AppendTrace(name, "empty", started)
		metrics.ConnectorRequests.WithLabelValues(name, "empty").Inc()
		return nil
	}

	st.AppendTrace(name, "fetched", started)
	metrics.ConnectorRequests.WithLabelValues(name, "fetched").Inc()
	if r.cache != nil && r.cfg.CacheTTL > 0 {
		if raw, err := json.Marshal(results); err == nil {
			r.cache.Set(ctx, key, raw, r.cfg.CacheTTL)
		}
	}
	return results
}

func (r *Research) cacheKey(connector, query string, params connectors.Params) string {
	parts := []string{connector, cache.NormalizeQuery(query)}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return cache.Key("search", parts...)
}

// merge normalizes per-source scores, concatenates in connector priority
// order, sorts descending (stable, so ties keep priority then fetch
// order), truncates to top-K, and assigns evidence ids.
func (r *Research) merge(sources []sourceResult, decision Decision) []state.EvidenceItem {
	var items []state.EvidenceItem
	for _, src := range sources {
		defaultScore := src.entry.Score
		if defaultScore == 0 {
			defaultScore = r.cfg.RealtimeScore
		}
		for _, res := range src.results {
			score := defaultScore
			if res.Scored {
				score = clamp01(res.NativeScore)
			}
			items = append(items, state.EvidenceItem{
				Title:       res.Title,
				SourceKind:  src.entry.Connector.Kind(),
				URL:         res.URL,
				Content:     res.Content,
				Score:       score,
				PublishedAt: res.PublishedAt,
			})
		}
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	if len(items) > r.cfg.TopK {
		items = items[:r.cfg.TopK]
	}

	if isRealtime(decision.Tags) {
		items = filterRealtime(items, r.cfg.RealtimeMinScore, r.cfg.RealtimeFloor)
	}

	for i := range items {
		items[i].ID = fmt.Sprintf("e%d", i+1)
	}
	return items
}

// filterRealtime drops weak evidence on real-time routes: below minScore
// normally, relaxing to floor when the strict cut would discard
// everything.
func filterRealtime(items []state.EvidenceItem, minScore, floor float64) []state.EvidenceItem {
	if minScore <= 0 {
		return items
	}
	strict := keepAbove(items, minScore)
	if len(strict) > 0 {
		return strict
	}
	return keepAbove(items, floor)
}

func keepAbove(items []state.EvidenceItem, threshold float64) []state.EvidenceItem {
	var out []state.EvidenceItem
	for _, it := range items {
		if it.Score >= threshold {
			out = append(out, it)
		}
	}
	return out
}

func isRealtime(tags []string) bool {
	for _, t := range tags {
		switch t {
		case "weather", "market", "news":
			return true
		}
	}
	return false
}

func hasConnector(entries []connectors.Entry, name string) bool {
	for _, e := range entries {
		if e.Connector.Name() == name {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
