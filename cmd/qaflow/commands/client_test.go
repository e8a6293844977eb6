package commands

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/qaflow/errors"
	"github.com/teranos/qaflow/jobs"
	"github.com/teranos/qaflow/server"
)

type stubSubmitter struct{ id string }

func (s stubSubmitter) Submit(context.Context, string, json.RawMessage) (string, error) {
	return s.id, nil
}

// stubStatus returns each scripted view in turn, then repeats the last
type stubStatus struct {
	mu    sync.Mutex
	views []*jobs.View
}

func (s *stubStatus) Get(_ context.Context, id string) (*jobs.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.views) == 0 || s.views[0].JobID != id {
		return nil, errors.NewNotFoundError("job %s", id)
	}
	v := s.views[0]
	if len(s.views) > 1 {
		s.views = s.views[1:]
	}
	return v, nil
}

func newClient(t *testing.T, sub server.Submitter, status server.StatusGetter) *apiClient {
	t.Helper()
	srv := server.New(sub, status, server.WithLogger(zap.NewNop().Sugar()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return newAPIClient(ts.URL + "/")
}

func TestClientSubmit(t *testing.T) {
	c := newClient(t, stubSubmitter{id: "job-1"}, &stubStatus{})

	resp, err := c.Submit(context.Background(), "Who won the 2022 World Cup?", nil)
	require.NoError(t, err)
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, "/status/job-1", resp.CheckStatusURL)
}

func TestClientSubmitRejected(t *testing.T) {
	c := newClient(t, stubSubmitter{id: "job-1"}, &stubStatus{})

	_, err := c.Submit(context.Background(), "   ", nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.Contains(t, err.Error(), "Question is required")
}

func TestClientStatusNotFound(t *testing.T) {
	c := newClient(t, stubSubmitter{}, &stubStatus{})

	_, err := c.Status(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestClientWaitUntilTerminal(t *testing.T) {
	created := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	status := &stubStatus{views: []*jobs.View{
		{JobID: "job-1", Status: jobs.StatusProcessing, CreatedAt: created},
		{JobID: "job-1", Status: jobs.StatusProcessing, CreatedAt: created},
		{JobID: "job-1", Status: jobs.StatusCompleted, CreatedAt: created, Result: json.RawMessage(`{"answer":"Argentina"}`)},
	}}
	c := newClient(t, stubSubmitter{}, status)

	polls := 0
	view, err := c.Wait(context.Background(), "job-1", 5*time.Millisecond, func(*jobs.View) { polls++ })
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, view.Status)
	assert.Equal(t, "Argentina", answerOf(view.Result))
	assert.Equal(t, 3, polls)
}

func TestClientWaitGivesUp(t *testing.T) {
	status := &stubStatus{views: []*jobs.View{{JobID: "job-1", Status: jobs.StatusProcessing}}}
	c := newClient(t, stubSubmitter{}, status)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Wait(ctx, "job-1", 5*time.Millisecond, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAnswerOf(t *testing.T) {
	assert.Equal(t, "42", answerOf(json.RawMessage(`{"answer":"42"}`)))
	assert.Empty(t, answerOf(json.RawMessage(`not json`)))
	assert.Empty(t, answerOf(nil))
}
