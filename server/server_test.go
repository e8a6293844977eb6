package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/qaflow/errors"
	"github.com/teranos/qaflow/jobs"
)

type fakeSubmitter struct {
	id       string
	err      error
	question string
	context  json.RawMessage
}

func (f *fakeSubmitter) Submit(_ context.Context, question string, c json.RawMessage) (string, error) {
	f.question, f.context = question, c
	return f.id, f.err
}

type fakeStatus map[string]*jobs.View

func (f fakeStatus) Get(_ context.Context, id string) (*jobs.View, error) {
	if v, ok := f[id]; ok {
		return v, nil
	}
	return nil, errors.NewNotFoundError("job %s", id)
}

func newTestServer(sub Submitter, status StatusGetter) *Server {
	return New(sub, status,
		WithLogger(zap.NewNop().Sugar()),
		WithClock(func() time.Time { return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC) }),
	)
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET,POST,OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return rec, out
}

func TestQueryAccepted(t *testing.T) {
	sub := &fakeSubmitter{id: "job-123"}
	s := newTestServer(sub, fakeStatus{})

	rec, body := do(t, s, http.MethodPost, "/query", `{"question":"What is our Q3 revenue?","context":{"team":"sales"}}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, map[string]any{
		"job_id":           "job-123",
		"status":           "processing",
		"message":          "Your request is being processed",
		"check_status_url": "/status/job-123",
	}, body)
	assert.Equal(t, "What is our Q3 revenue?", sub.question)
	assert.JSONEq(t, `{"team":"sales"}`, string(sub.context))
}

func TestQueryRejected(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{"question":`, "Invalid JSON body"},
		{"not an object", `"hello"`, "Invalid JSON body"},
		{"missing question", `{}`, "Question is required"},
		{"blank question", `{"question":"   "}`, "Question is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{id: "unused"}
			rec, body := do(t, newTestServer(sub, fakeStatus{}), http.MethodPost, "/query", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, body["error"])
			assert.Empty(t, sub.question)
		})
	}
}

func TestQueryStoreFailure(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("disk I/O error")}
	rec, body := do(t, newTestServer(sub, fakeStatus{}), http.MethodPost, "/query", `{"question":"q"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to submit question", body["error"])
}

func TestStatus(t *testing.T) {
	created := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	status := fakeStatus{
		"done": {JobID: "done", Status: jobs.StatusCompleted, CreatedAt: created, Question: "q",
			Result: json.RawMessage(`{"answer":"42"}`)},
		"broken": {JobID: "broken", Status: jobs.StatusFailed, CreatedAt: created, Question: "q",
			Error: "classify stage failed: timeout: deadline exceeded"},
	}
	s := newTestServer(&fakeSubmitter{}, status)

	rec, body := do(t, s, http.MethodGet, "/status/done", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, map[string]any{"answer": "42"}, body["result"])
	assert.NotContains(t, body, "error")

	rec, body = do(t, s, http.MethodGet, "/status/broken", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "classify stage failed: timeout: deadline exceeded", body["error"])
	assert.NotContains(t, body, "result")

	rec, body = do(t, s, http.MethodGet, "/status/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, map[string]any{"error": "Job not found", "job_id": "nope"}, body)
}

func TestOptionsAnyPath(t *testing.T) {
	s := newTestServer(&fakeSubmitter{}, fakeStatus{})
	for _, path := range []string{"/query", "/status/x", "/anything/else"} {
		rec, body := do(t, s, http.MethodOptions, path, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, body)
	}
}

func TestUnknownRoutes(t *testing.T) {
	s := newTestServer(&fakeSubmitter{}, fakeStatus{})
	tests := []struct{ method, path string }{
		{http.MethodGet, "/"},
		{http.MethodGet, "/query"},
		{http.MethodPost, "/status/abc"},
		{http.MethodDelete, "/status/abc"},
		{http.MethodGet, "/nowhere"},
	}
	for _, tt := range tests {
		rec, body := do(t, s, tt.method, tt.path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Not found: "+tt.method+" "+tt.path, body["error"])
	}
}

func TestHealth(t *testing.T) {
	rec, body := do(t, newTestServer(&fakeSubmitter{}, fakeStatus{}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "qaflow", body["service"])
	assert.Equal(t, "2026-10-16T12:00:00Z", body["timestamp"])
	assert.Contains(t, body, "version")
	assert.NotContains(t, body, "workers")
}
