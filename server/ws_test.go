package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/qaflow/errors"
	"github.com/teranos/qaflow/jobs"
)

// scriptedStatus walks through a fixed sequence of views, repeating the last
type scriptedStatus struct {
	mu    sync.Mutex
	views []*jobs.View
	reads int
}

func (s *scriptedStatus) Get(_ context.Context, id string) (*jobs.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.views) == 0 {
		return nil, errors.NewNotFoundError("job %s", id)
	}
	i := min(s.reads, len(s.views)-1)
	s.reads++
	return s.views[i], nil
}

func dialStream(t *testing.T, status StatusGetter, jobID string) *websocket.Conn {
	t.Helper()
	s := New(&fakeSubmitter{}, status, WithLogger(zap.NewNop().Sugar()), WithStreamInterval(10*time.Millisecond))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/status/" + jobID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readView(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var v map[string]any
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func TestStatusStreamPushesChanges(t *testing.T) {
	processing := &jobs.View{JobID: "j", Status: jobs.StatusProcessing, Question: "q"}
	advanced := &jobs.View{JobID: "j", Status: jobs.StatusProcessing, Question: "q",
		Progress: &jobs.Progress{Current: 1, Total: 2, Completed: []jobs.StageRecord{{Stage: "classify", Attempts: 1}}}}
	done := &jobs.View{JobID: "j", Status: jobs.StatusCompleted, Question: "q", Result: json.RawMessage(`{"answer":"Paris"}`)}

	// Repeated views must not be pushed twice.
	status := &scriptedStatus{views: []*jobs.View{processing, processing, advanced, advanced, done}}
	conn := dialStream(t, status, "j")

	assert.Equal(t, "processing", readView(t, conn)["status"])
	second := readView(t, conn)
	assert.Equal(t, "processing", second["status"])
	assert.Contains(t, second, "progress")
	final := readView(t, conn)
	assert.Equal(t, "completed", final["status"])

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestStatusStreamUnknownJob(t *testing.T) {
	conn := dialStream(t, &scriptedStatus{}, "missing")

	assert.Equal(t, map[string]any{"error": "Job not found", "job_id": "missing"}, readView(t, conn))

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestShutdownClosesStreamsAndRejectsNewOnes(t *testing.T) {
	processing := &jobs.View{JobID: "j", Status: jobs.StatusProcessing, Question: "q"}
	s := New(&fakeSubmitter{}, &scriptedStatus{views: []*jobs.View{processing}},
		WithLogger(zap.NewNop().Sugar()), WithStreamInterval(10*time.Millisecond))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/status/j"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	assert.Equal(t, "processing", readView(t, conn)["status"])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
