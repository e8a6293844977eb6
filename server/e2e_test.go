package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/qaflow/ai/openrouter"
	"github.com/teranos/qaflow/ai/reasoning"
	"github.com/teranos/qaflow/am"
	"github.com/teranos/qaflow/db"
	"github.com/teranos/qaflow/dispatch"
	"github.com/teranos/qaflow/errors"
	qaflowtest "github.com/teranos/qaflow/internal/testing"
	"github.com/teranos/qaflow/jobs"
	"github.com/teranos/qaflow/pipeline"
	"github.com/teranos/qaflow/pulse/async"
)

// scriptedAI answers every stage prompt with a fixed JSON object
type scriptedAI struct {
	calls atomic.Int32
	fail  bool
}

func (a *scriptedAI) Chat(_ context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error) {
	a.calls.Add(1)
	if a.fail {
		return nil, errors.New("provider unreachable")
	}
	var content string
	switch {
	case strings.Contains(req.SystemPrompt, "classify a single user question"):
		content = "```json\n{\"category\": \"factual_direct\", \"confidence\": 0.95}\n```"
	case strings.Contains(req.SystemPrompt, "lookup stage"):
		content = `Sure! {"answer": "Paris is the capital of France.", "sources": ["atlas"]}`
	default:
		content = `{}`
	}
	return &openrouter.ChatResponse{Content: content, Model: "scripted"}, nil
}

type stack struct {
	url  string
	pool *async.WorkerPool
	ai   *scriptedAI
}

func newStack(t *testing.T, ai *scriptedAI) *stack {
	t.Helper()
	nop := zap.NewNop().Sugar()
	conn := qaflowtest.CreateTestDB(t)

	store := jobs.NewStore(conn, db.DialectSQLite)
	queue := async.NewQueue(conn, db.DialectSQLite)
	reasoner := reasoning.NewLLMClient(ai, am.ReasoningConfig{TimeoutSeconds: 5}, reasoning.WithLogger(nop))
	engine := pipeline.NewEngine(store, reasoner, nil,
		pipeline.Config{StageRetries: 1, RetryDelay: time.Millisecond},
		pipeline.WithLogger(nop))

	pool := async.NewWorkerPool(context.Background(), queue,
		async.WorkerPoolConfig{Workers: 2, PollInterval: 20 * time.Millisecond, StopTimeout: 5 * time.Second}, nop)
	pool.Registry().Register(dispatch.NewPipelineHandler(engine))
	pool.Start()
	t.Cleanup(pool.Stop)

	d := dispatch.NewDispatcher(store, dispatch.NewPulseTrigger(queue), dispatch.WithLogger(nop))
	s := New(d, jobs.NewStatusReader(store), WithWorkerPool(pool), WithLogger(nop))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &stack{url: ts.URL, pool: pool, ai: ai}
}

func (st *stack) submit(t *testing.T, question string) string {
	t.Helper()
	resp, err := http.Post(st.url+"/query", "application/json",
		strings.NewReader(`{"question":"`+question+`"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body QueryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.JobID)
	assert.Equal(t, "/status/"+body.JobID, body.CheckStatusURL)
	return body.JobID
}

func (st *stack) waitTerminal(t *testing.T, jobID string) map[string]any {
	t.Helper()
	var view map[string]any
	require.Eventually(t, func() bool {
		resp, err := http.Get(st.url + "/status/" + jobID)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		view = nil
		if json.NewDecoder(resp.Body).Decode(&view) != nil {
			return false
		}
		return view["status"] == "completed" || view["status"] == "failed"
	}, 10*time.Second, 20*time.Millisecond)
	return view
}

func TestEndToEndCompletes(t *testing.T) {
	st := newStack(t, &scriptedAI{})

	jobID := st.submit(t, "What is the capital of France?")
	view := st.waitTerminal(t, jobID)

	assert.Equal(t, "completed", view["status"])
	assert.Equal(t, "What is the capital of France?", view["question"])
	assert.NotContains(t, view, "error")
	assert.NotContains(t, view, "progress")

	result, ok := view["result"].(map[string]any)
	require.True(t, ok, "result: %v", view["result"])
	assert.Equal(t, "Paris is the capital of France.", result["answer"])
	assert.Equal(t, "factual_direct", result["category"])
	assert.Equal(t, []any{"classify", "lookup"}, result["stages"])
	assert.Equal(t, false, result["degraded"])

	// One classify call for the single fragment, one lookup call.
	assert.Equal(t, int32(2), st.ai.calls.Load())
}

func TestEndToEndReasoningOutage(t *testing.T) {
	st := newStack(t, &scriptedAI{fail: true})

	jobID := st.submit(t, "What is the capital of France?")
	view := st.waitTerminal(t, jobID)

	assert.Equal(t, "failed", view["status"])
	assert.Equal(t, "classify stage failed: unavailable: provider unreachable", view["error"])
	assert.NotContains(t, view, "result")
}

func TestEndToEndHealthReportsWorkers(t *testing.T) {
	st := newStack(t, &scriptedAI{})

	resp, err := http.Get(st.url + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	require.NotNil(t, body.Workers)
	assert.Equal(t, 2, body.Workers.Total)
}
