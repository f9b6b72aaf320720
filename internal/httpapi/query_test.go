package httpapi

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/intellistream/orchestrator/internal/circuitbreaker"
	"github.com/intellistream/orchestrator/internal/connectors"
	"github.com/intellistream/orchestrator/internal/llm"
	"github.com/intellistream/orchestrator/internal/pipeline"
	"github.com/intellistream/orchestrator/internal/streaming"
)

// newTestServer wires a minimal pipeline with no connectors and no LLM
// provider: direct-route queries still answer via the canned fallback.
func newTestServer(t *testing.T) (*http.ServeMux, *streaming.Manager, *circuitbreaker.Registry) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), circuitbreaker.RetryPolicy{MaxAttempts: 1}, logger)
	reg := connectors.NewRegistry(nil, logger)
	client := llm.NewHTTPClient("", "", "m", time.Second, 0, 0, breakers, logger)
	stream := streaming.NewManager(64, time.Second)

	orch := pipeline.NewOrchestrator(
		pipeline.NewResearch(reg, breakers, nil, pipeline.ResearchConfig{TopK: 10}, logger),
		pipeline.NewAnalysis(client, logger),
		pipeline.NewSynthesis(client, logger),
		pipeline.NewReflection(logger),
		pipeline.NewResponse(client, logger),
		stream, nil,
		pipeline.OrchestratorConfig{MaxReflectionPasses: 2, StageTimeout: time.Second, QueryTimeout: 5 * time.Second},
		logger,
	)

	mux := http.NewServeMux()
	NewQueryHandler(orch, stream, logger).RegisterRoutes(mux)
	NewStreamingHandler(stream, logger).RegisterRoutes(mux)
	NewHealthHandler(breakers).RegisterRoutes(mux)
	return mux, stream, breakers
}

func TestQueryEndpoint(t *testing.T) {
	mux, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(`{"message":"hello","thread_id":"t1"}`))
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp queryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "t1", resp.ThreadID)
	assert.NotEmpty(t, resp.QueryID)
	assert.NotEmpty(t, resp.Response)
	assert.NotEmpty(t, resp.Trace)
}

func TestQueryValidation(t *testing.T) {
	mux, _, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"empty message", `{"message":""}`},
		{"missing message", `{}`},
		{"oversized message", `{"message":"` + strings.Repeat("x", maxMessageChars+1) + `"}`},
		{"bad json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(tc.body))
			mux.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/query", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestQueryStreamEndpoint(t *testing.T) {
	mux, _, _ := newTestServer(t)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/query/stream", "application/json",
		strings.NewReader(`{"message":"hello"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var types, ids []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			types = append(types, strings.TrimPrefix(line, "event: "))
		}
		if strings.HasPrefix(line, "id: ") {
			ids = append(ids, strings.TrimPrefix(line, "id: "))
		}
		if line == "event: done" {
			break
		}
	}
	require.NotEmpty(t, types)
	assert.Equal(t, "agent_status", types[0])
	assert.Contains(t, types, "response")
	assert.Equal(t, "done", types[len(types)-1])

	// Every event carries an id so any of them can anchor a
	// Last-Event-ID resume, including the very first.
	require.NotEmpty(t, ids)
	assert.Equal(t, "0", ids[0])
	assert.Len(t, ids, len(types))
}

func TestSSEReplayEndpoint(t *testing.T) {
	mux, stream, _ := newTestServer(t)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	for i := 0; i < 3; i++ {
		stream.Publish("q-replay", streaming.Event{Type: streaming.TypeToken, Content: "x"})
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/stream/sse?query_id=q-replay&last_event_id=1", nil)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// Seq 2 is the only event after id 1; read until we see it.
	scanner := bufio.NewScanner(resp.Body)
	found := false
	deadline := time.After(time.Second)
	lines := make(chan string)
	go func() {
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()
	for !found {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before replayed event")
			}
			if line == "id: 2" {
				found = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for replayed event")
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	mux, _, breakers := newTestServer(t)
	breakers.Get("llm") // lazily created breaker shows up in the report

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status   string            `json:"status"`
		Breakers map[string]string `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "closed", body.Breakers["llm"])
}
