package state

import (
	"errors"
	"sync"
	"time"
)

// Errors returned when a stage violates the state write contract.
var (
	ErrRouteAlreadySet    = errors.New("route already set")
	ErrAnalysisAlreadySet = errors.New("analysis already set")
	ErrFinalAlreadySet    = errors.New("final answer already set")
	ErrStateTerminal      = errors.New("state is terminal: final answer set")
	ErrReflectionBound    = errors.New("reflection pass bound reached")
)

// State is the request-scoped object threaded through one query's pipeline.
// It is owned by a single orchestrator execution; the mutex only covers
// trace appends, which may arrive from concurrent research sub-tasks.
// All other fields follow set-once or append-only contracts enforced by
// the setters below.
type State struct {
	QueryID  string
	ThreadID string
	Query    string
	History  []Message

	startedAt time.Time

	mu               sync.Mutex
	route            Route
	routeSet         bool
	evidence         []EvidenceItem
	analysis         *Analysis
	draft            *Draft
	reflectionPasses int
	maxPasses        int
	trace            []TraceEntry
	final            *FinalAnswer
}

// New creates the request state. History is bounded to the most recent
// maxTurns entries, each truncated to maxTurnChars characters.
func New(queryID, threadID, query string, history []Message, maxPasses, maxTurns, maxTurnChars int) *State {
	if maxPasses < 0 {
		maxPasses = 0
	}
	if maxTurns > 0 && len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	bounded := make([]Message, 0, len(history))
	for _, m := range history {
		if maxTurnChars > 0 && len(m.Content) > maxTurnChars {
			m.Content = m.Content[:maxTurnChars] + "..."
		}
		bounded = append(bounded, m)
	}
	return &State{
		QueryID:   queryID,
		ThreadID:  threadID,
		Query:     query,
		History:   bounded,
		startedAt: time.Now(),
		maxPasses: maxPasses,
	}
}

// StartedAt returns the creation time used for total latency accounting.
func (s *State) StartedAt() time.Time { return s.startedAt }

// SetRoute records the router decision. Set once, never overwritten.
func (s *State) SetRoute(r Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final != nil {
		return ErrStateTerminal
	}
	if s.routeSet {
		return ErrRouteAlreadySet
	}
	s.route = r
	s.routeSet = true
	return nil
}

func (s *State) Route() Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.route
}

// AppendEvidence adds research output. Append-only.
func (s *State) AppendEvidence(items ...EvidenceItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final != nil {
		return ErrStateTerminal
	}
	s.evidence = append(s.evidence, items...)
	return nil
}

// Evidence returns a copy of the evidence list in merge order.
func (s *State) Evidence() []EvidenceItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EvidenceItem, len(s.evidence))
	copy(out, s.evidence)
	return out
}

// EvidenceByID resolves an evidence id, used for citation checks.
func (s *State) EvidenceByID(id string) (EvidenceItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.evidence {
		if e.ID == id {
			return e, true
		}
	}
	return EvidenceItem{}, false
}

// SetAnalysis records the analysis stage output. Set once.
func (s *State) SetAnalysis(a Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final != nil {
		return ErrStateTerminal
	}
	if s.analysis != nil {
		return ErrAnalysisAlreadySet
	}
	s.analysis = &a
	return nil
}

func (s *State) Analysis() (Analysis, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.analysis == nil {
		return Analysis{}, false
	}
	return *s.analysis, true
}

// SetDraft installs a new draft value. Each reflection loop iteration
// replaces the previous draft wholesale; drafts are never mutated in place.
func (s *State) SetDraft(d Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final != nil {
		return ErrStateTerminal
	}
	s.draft = &d
	return nil
}

func (s *State) Draft() (Draft, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return Draft{}, false
	}
	return *s.draft, true
}

// BeginReflectionPass increments the loop counter, refusing to exceed the
// configured bound.
func (s *State) BeginReflectionPass() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reflectionPasses >= s.maxPasses {
		return ErrReflectionBound
	}
	s.reflectionPasses++
	return nil
}

func (s *State) ReflectionPasses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reflectionPasses
}

func (s *State) MaxReflectionPasses() int { return s.maxPasses }

// AppendTrace records an agent action. Safe for concurrent research
// sub-tasks.
func (s *State) AppendTrace(agent, action string, startedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace = append(s.trace, TraceEntry{
		Agent:     agent,
		Action:    action,
		LatencyMs: time.Since(startedAt).Milliseconds(),
		StartedAt: startedAt,
	})
}

func (s *State) Trace() []TraceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TraceEntry, len(s.trace))
	copy(out, s.trace)
	return out
}

// TraceFor returns trace entries for one agent, used by tests and the
// degraded-source accounting.
func (s *State) TraceFor(agent string) []TraceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TraceEntry
	for _, t := range s.trace {
		if t.Agent == agent {
			out = append(out, t)
		}
	}
	return out
}

// SetFinal records the terminal answer. Set exactly once; all writes after
// this fail with ErrStateTerminal.
func (s *State) SetFinal(f FinalAnswer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final != nil {
		return ErrFinalAlreadySet
	}
	s.final = &f
	return nil
}

func (s *State) Final() (FinalAnswer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final == nil {
		return FinalAnswer{}, false
	}
	return *s.final, true
}
