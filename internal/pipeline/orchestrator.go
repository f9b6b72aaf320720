package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/intellistream/orchestrator/internal/metrics"
	"github.com/intellistream/orchestrator/internal/state"
	"github.com/intellistream/orchestrator/internal/streaming"
)

// Persister receives the finished run for storage. The pipeline does not
// depend on its durability; failures are logged and the response stands.
type Persister interface {
	SaveRun(ctx context.Context, st *state.State) error
}

// OrchestratorConfig carries the per-query execution knobs.
type OrchestratorConfig struct {
	MaxReflectionPasses int
	HistoryTurns        int
	HistoryTurnChars    int
	StageTimeout        time.Duration
	QueryTimeout        time.Duration
}

// Orchestrator owns the request state for one query at a time and
// sequences the stages per the routing decision, emitting progress and
// token events as the pipeline advances. Instances are safe for
// concurrent Execute calls; all per-query data lives on the State.
type Orchestrator struct {
	research   *Research
	analysis   *AnalysisStage
	synthesis  *SynthesisStage
	reflection *ReflectionStage
	response   *ResponseStage
	stream     *streaming.Manager
	persist    Persister
	cfg        OrchestratorConfig
	logger     *zap.Logger
}

func NewOrchestrator(research *Research, analysis *AnalysisStage, synthesis *SynthesisStage,
	reflection *ReflectionStage, response *ResponseStage, stream *streaming.Manager,
	persist Persister, cfg OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		research:   research,
		analysis:   analysis,
		synthesis:  synthesis,
		reflection: reflection,
		response:   response,
		stream:     stream,
		persist:    persist,
		cfg:        cfg,
		logger:     logger,
	}
}

// Execute runs one query through the pipeline. It returns the finished
// state; the same result is delivered as response/done events on the
// stream. Caller disconnection cancels ctx and aborts in-flight work;
// the per-query timeout instead forces an early jump to the response
// stage with whatever state exists.
func (o *Orchestrator) Execute(ctx context.Context, queryID, threadID, query string, history []state.Message) (st *state.State, err error) {
	if queryID == "" {
		queryID = uuid.NewString()
	}
	if threadID == "" {
		threadID = uuid.NewString()
	}
	st = state.New(queryID, threadID, query, history, o.cfg.MaxReflectionPasses, o.cfg.HistoryTurns, o.cfg.HistoryTurnChars)
	metrics.QueriesStarted.Inc()
	started := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("orchestrator panic: %v", rec)
			o.logger.Error("fatal orchestrator error",
				zap.String("query_id", queryID), zap.Any("panic", rec))
			o.stream.Publish(queryID, streaming.Event{Type: streaming.TypeError, Message: "internal error"})
		}
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.QueriesCompleted.WithLabelValues(string(st.Route()), status).Inc()
		metrics.QueryDuration.Observe(time.Since(started).Seconds())
	}()

	queryCtx := ctx
	var cancel context.CancelFunc
	if o.cfg.QueryTimeout > 0 {
		queryCtx, cancel = context.WithTimeout(ctx, o.cfg.QueryTimeout)
		defer cancel()
	}

	decision := o.runRouter(st)
	phase := state.PhaseRouting

	if decision.Route == state.RouteResearch {
		phase, err = o.runResearchPath(queryCtx, ctx, st, decision, phase)
		if err != nil {
			o.stream.Publish(queryID, streaming.Event{Type: streaming.TypeError, Message: err.Error()})
			return st, err
		}
		metrics.ReflectionPasses.Observe(float64(st.ReflectionPasses()))
	}

	if !st.CanTransition(phase, state.PhaseResponding) {
		err = fmt.Errorf("illegal transition %s -> responding", phase)
		o.stream.Publish(queryID, streaming.Event{Type: streaming.TypeError, Message: "internal error"})
		return st, err
	}
	if err = o.runResponse(queryCtx, st, decision); err != nil {
		o.stream.Publish(queryID, streaming.Event{Type: streaming.TypeError, Message: "internal error"})
		return st, err
	}

	final, _ := st.Final()
	o.streamFinal(queryID, threadID, final)
	o.persistRun(st)
	return st, nil
}

// runRouter is local and deterministic: it never fails and takes no
// timeout of its own.
func (o *Orchestrator) runRouter(st *state.State) Decision {
	started := time.Now()
	o.emitStatus(st.QueryID, "router", streaming.StatusStarted)
	decision := Classify(st.Query, st.History)
	if err := st.SetRoute(decision.Route); err != nil {
		// Unreachable under the single-execution contract.
		o.logger.Error("route write rejected", zap.String("query_id", st.QueryID), zap.Error(err))
	}
	st.AppendTrace("router", "classified: "+string(decision.Route)+" ("+decision.Reason+")", started)
	o.observeStage("router", started, nil)
	o.emitStatus(st.QueryID, "router", streaming.StatusCompleted)
	o.logger.Info("query routed",
		zap.String("query_id", st.QueryID),
		zap.String("route", string(decision.Route)),
		zap.Strings("tags", decision.Tags),
		zap.String("reason", decision.Reason))
	return decision
}

// runResearchPath executes Research -> Analysis -> Synthesis and the
// bounded Reflection loop. A fired per-query timeout short-circuits to
// the response phase with partial state instead of failing.
func (o *Orchestrator) runResearchPath(queryCtx, parentCtx context.Context, st *state.State, decision Decision, phase state.Phase) (state.Phase, error) {
	type step struct {
		phase state.Phase
		agent string
		run   func(context.Context) error
	}
	steps := []step{
		{state.PhaseResearching, "research", func(c context.Context) error { return o.research.Run(c, st, decision) }},
		{state.PhaseAnalyzing, "analysis", func(c context.Context) error { return o.analysis.Run(c, st) }},
		{state.PhaseSynthesizing, "synthesis", func(c context.Context) error { return o.synthesis.Run(c, st, nil) }},
	}

	for _, s := range steps {
		if !st.CanTransition(phase, s.phase) {
			return phase, fmt.Errorf("illegal transition %s -> %s", phase, s.phase)
		}
		phase = s.phase
		if timedOut, err := o.runStage(queryCtx, parentCtx, st, s.agent, s.run); err != nil {
			return phase, err
		} else if timedOut {
			return phase, nil
		}
	}

	// Reflection loop: critique then revise, bounded by the pass budget.
	for {
		if !st.CanTransition(phase, state.PhaseReflecting) {
			return phase, fmt.Errorf("illegal transition %s -> reflecting", phase)
		}
		phase = state.PhaseReflecting

		var critique state.Critique
		timedOut, err := o.runStage(queryCtx, parentCtx, st, "reflection", func(c context.Context) error {
			critique = o.reflection.Run(c, st)
			return nil
		})
		if err != nil {
			return phase, err
		}
		if timedOut || critique.Verdict == state.VerdictApprove {
			return phase, nil
		}
		// Loop-back edge is guarded by the pass budget; taking it spends
		// one pass.
		if !st.CanTransition(phase, state.PhaseSynthesizing) {
			return phase, nil
		}
		if begErr := st.BeginReflectionPass(); begErr != nil {
			return phase, nil
		}
		phase = state.PhaseSynthesizing
		revise := critique
		if timedOut, err := o.runStage(queryCtx, parentCtx, st, "synthesis", func(c context.Context) error {
			return o.synthesis.Run(c, st, &revise)
		}); err != nil {
			return phase, err
		} else if timedOut {
			return phase, nil
		}
	}
}

// runStage executes one stage under the stage timeout, emitting status
// events and trace/metric entries. It reports (timedOut=true, nil) when
// the per-query ceiling fired, and a non-nil error only for caller
// cancellation or an internal invariant break.
func (o *Orchestrator) runStage(queryCtx, parentCtx context.Context, st *state.State, agent string, run func(context.Context) error) (bool, error) {
	started := time.Now()
	o.emitStatus(st.QueryID, agent, streaming.StatusStarted)

	stageCtx := queryCtx
	var cancel context.CancelFunc
	if o.cfg.StageTimeout > 0 {
		stageCtx, cancel = context.WithTimeout(queryCtx, o.cfg.StageTimeout)
		defer cancel()
	}

	err := run(stageCtx)
	st.AppendTrace(agent, "completed", started)
	o.observeStage(agent, started, err)
	o.emitStatus(st.QueryID, agent, streaming.StatusCompleted)

	if parentCtx.Err() != nil {
		// Caller disconnected: abandon the query outright.
		return false, parentCtx.Err()
	}
	if queryCtx.Err() != nil {
		// Per-query ceiling: respond with whatever state exists.
		o.logger.Warn("query timeout, forcing early response",
			zap.String("query_id", st.QueryID), zap.String("stage", agent))
		st.AppendTrace("orchestrator", "query_timeout_forced_response", started)
		return true, nil
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		// Stage-internal failures are absorbed by the stages themselves;
		// anything surfacing here is a state-contract violation.
		return false, err
	}
	return false, nil
}

func (o *Orchestrator) runResponse(queryCtx context.Context, st *state.State, decision Decision) error {
	started := time.Now()
	o.emitStatus(st.QueryID, "response", streaming.StatusStarted)

	// The response stage must run even after the query deadline fired.
	ctx := queryCtx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(queryCtx), 5*time.Second)
		defer cancel()
	}
	err := o.response.Run(ctx, st, decision)
	st.AppendTrace("response", "completed", started)
	o.observeStage("response", started, err)
	o.emitStatus(st.QueryID, "response", streaming.StatusCompleted)
	return err
}

// streamFinal emits the token stream for the final text, then the
// response and done events.
func (o *Orchestrator) streamFinal(queryID, threadID string, final state.FinalAnswer) {
	for _, word := range strings.Fields(final.Text) {
		o.stream.Publish(queryID, streaming.Event{Type: streaming.TypeToken, Content: word + " "})
	}
	o.stream.Publish(queryID, streaming.Event{
		Type:    streaming.TypeResponse,
		Content: final.Text,
		Payload: final,
	})
	o.stream.Publish(queryID, streaming.Event{
		Type:    streaming.TypeDone,
		Payload: map[string]string{"thread_id": threadID},
	})
}

func (o *Orchestrator) persistRun(st *state.State) {
	if o.persist == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.persist.SaveRun(ctx, st); err != nil {
			o.logger.Warn("run persistence failed",
				zap.String("query_id", st.QueryID), zap.Error(err))
		}
	}()
}

func (o *Orchestrator) emitStatus(queryID, agent, status string) {
	o.stream.Publish(queryID, streaming.Event{Type: streaming.TypeAgentStatus, Agent: agent, Status: status})
}

func (o *Orchestrator) observeStage(agent string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.StageExecutions.WithLabelValues(agent, status).Inc()
	metrics.StageDuration.WithLabelValues(agent).Observe(float64(time.Since(started).Milliseconds()))
}
