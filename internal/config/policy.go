package config

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Policy holds merge-rank tunables that operators adjust without a
// restart: the connector priority order used for tie-breaking and
// per-source score overrides.
type Policy struct {
	ConnectorPriority []string           `yaml:"connector_priority"`
	SourceScores      map[string]float64 `yaml:"source_scores"`
}

// DefaultPolicy orders specialized realtime sources ahead of generic
// retrieval, matching the router's connector tagging priority.
func DefaultPolicy() Policy {
	return Policy{
		ConnectorPriority: []string{
			"weather", "market", "news",
			"retriever", "encyclopedia", "papers", "web_search",
		},
	}
}

// PolicyStore serves the current policy and hot-reloads it when the file
// changes on disk.
type PolicyStore struct {
	mu     sync.RWMutex
	policy Policy
	path   string
	logger *zap.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewPolicyStore loads the policy file if present, falling back to
// defaults. Path may be empty, in which case no watcher is started.
func NewPolicyStore(path string, logger *zap.Logger) *PolicyStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	ps := &PolicyStore{policy: DefaultPolicy(), path: path, logger: logger, stopCh: make(chan struct{})}
	if path != "" {
		ps.reload()
	}
	return ps
}

// Current returns the active policy.
func (ps *PolicyStore) Current() Policy {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.policy
}

// Priority returns the rank of a connector name; unknown names sort last.
func (ps *PolicyStore) Priority(name string) int {
	p := ps.Current()
	for i, n := range p.ConnectorPriority {
		if n == name {
			return i
		}
	}
	return len(p.ConnectorPriority)
}

// Score returns the policy override for a connector's default merge
// score, or the configured fallback when none is set.
func (ps *PolicyStore) Score(name string, fallback float64) float64 {
	p := ps.Current()
	if s, ok := p.SourceScores[name]; ok {
		return s
	}
	return fallback
}

func (ps *PolicyStore) reload() {
	data, err := os.ReadFile(ps.path)
	if err != nil {
		ps.logger.Debug("policy file not readable, keeping current policy",
			zap.String("path", ps.path), zap.Error(err))
		return
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		ps.logger.Warn("invalid policy file, keeping current policy",
			zap.String("path", ps.path), zap.Error(err))
		return
	}
	if len(p.ConnectorPriority) == 0 {
		p.ConnectorPriority = DefaultPolicy().ConnectorPriority
	}
	ps.mu.Lock()
	ps.policy = p
	ps.mu.Unlock()
	ps.logger.Info("connector policy loaded", zap.String("path", ps.path))
}

// Watch begins hot-reloading the policy file. Call Stop to shut the
// watcher down.
func (ps *PolicyStore) Watch() error {
	if ps.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(ps.path); err != nil {
		_ = w.Close()
		return err
	}
	ps.watcher = w
	go func() {
		for {
			select {
			case <-ps.stopCh:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					ps.reload()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				ps.logger.Warn("policy watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Stop shuts down the watcher if one is running.
func (ps *PolicyStore) Stop() {
	close(ps.stopCh)
	if ps.watcher != nil {
		_ = ps.watcher.Close()
	}
}
