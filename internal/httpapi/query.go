// Package httpapi exposes the pipeline over HTTP: a blocking query
// endpoint, a streaming variant, and SSE/WebSocket reattach endpoints
// keyed by query id.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/intellistream/orchestrator/internal/pipeline"
	"github.com/intellistream/orchestrator/internal/state"
	"github.com/intellistream/orchestrator/internal/streaming"
)

const maxMessageChars = 10000

// QueryHandler serves query submission endpoints.
type QueryHandler struct {
	orch   *pipeline.Orchestrator
	stream *streaming.Manager
	logger *zap.Logger
}

func NewQueryHandler(orch *pipeline.Orchestrator, stream *streaming.Manager, logger *zap.Logger) *QueryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryHandler{orch: orch, stream: stream, logger: logger}
}

// RegisterRoutes registers the query endpoints on the provided mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/query", h.handleQuery)
	mux.HandleFunc("/api/v1/query/stream", h.handleQueryStream)
}

type queryRequest struct {
	Message  string          `json:"message"`
	ThreadID string          `json:"thread_id,omitempty"`
	History  []state.Message `json:"history,omitempty"`
}

type queryResponse struct {
	QueryID   string              `json:"query_id"`
	ThreadID  string              `json:"thread_id"`
	Response  string              `json:"response"`
	Sources   []state.CitationRef `json:"sources"`
	Trace     []state.TraceEntry  `json:"trace"`
	LatencyMs int64               `json:"latency_ms"`
}

func (h *QueryHandler) parseRequest(w http.ResponseWriter, r *http.Request) (*queryRequest, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return nil, false
	}
	var req queryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return nil, false
	}
	if len(req.Message) > maxMessageChars {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("message exceeds %d characters", maxMessageChars))
		return nil, false
	}
	return &req, true
}

// handleQuery is the non-streaming variant: it blocks until the pipeline
// finishes and returns the final payload synchronously.
func (h *QueryHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseRequest(w, r)
	if !ok {
		return
	}
	queryID := uuid.NewString()
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	st, err := h.orch.Execute(r.Context(), queryID, threadID, req.Message, req.History)
	h.stream.Forget(queryID)
	if err != nil {
		h.logger.Error("query execution failed", zap.String("query_id", queryID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query execution failed")
		return
	}
	final, ok := st.Final()
	if !ok {
		writeError(w, http.StatusInternalServerError, "no answer produced")
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		QueryID:   queryID,
		ThreadID:  threadID,
		Response:  final.Text,
		Sources:   final.Sources,
		Trace:     st.Trace(),
		LatencyMs: final.LatencyMs,
	})
}

// handleQueryStream runs the pipeline and streams its events over SSE on
// the same connection. Client disconnect cancels the pipeline.
func (h *QueryHandler) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseRequest(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	queryID := uuid.NewString()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := h.stream.Subscribe(queryID, 256)
	defer h.stream.Unsubscribe(queryID, ch)
	defer h.stream.Forget(queryID)

	fmt.Fprintf(w, ": query %s accepted\n\n", queryID)
	flusher.Flush()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := h.orch.Execute(r.Context(), queryID, req.ThreadID, req.Message, req.History); err != nil {
			h.logger.Warn("streamed query failed", zap.String("query_id", queryID), zap.Error(err))
		}
	}()

	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()

	for {
		select {
		case <-r.Context().Done():
			<-done
			return
		case evt := <-ch:
			writeSSE(w, evt)
			flusher.Flush()
			if evt.Type == streaming.TypeDone || evt.Type == streaming.TypeError {
				<-done
				return
			}
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt streaming.Event) {
	// Sequence numbers start at 0, so the id line is written for every
	// event; otherwise the first event could never anchor a resume.
	fmt.Fprintf(w, "id: %d\n", evt.Seq)
	if evt.Type != "" {
		fmt.Fprintf(w, "event: %s\n", evt.Type)
	}
	fmt.Fprintf(w, "data: %s\n\n", string(evt.Marshal()))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
