package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/qaflow/errors"
	"github.com/teranos/qaflow/jobs"
)

type fakeSubmitter struct {
	question string
	context  json.RawMessage
	err      error
}

func (f *fakeSubmitter) Submit(_ context.Context, q string, c json.RawMessage) (string, error) {
	f.question, f.context = q, c
	if f.err != nil {
		return "", f.err
	}
	return "job-1", nil
}

type fakeStatus struct{}

func (fakeStatus) Get(_ context.Context, id string) (*jobs.View, error) {
	if id != "job-1" {
		return nil, errors.NewNotFoundError("job %s", id)
	}
	return &jobs.View{JobID: "job-1", Status: jobs.StatusCompleted, Question: "q",
		Result: json.RawMessage(`{"answer":"42"}`)}, nil
}

func callTool(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "unexpected content %T", res.Content[0])
	return text.Text
}

func TestSubmitQuestion(t *testing.T) {
	sub := &fakeSubmitter{}
	s := NewServer(sub, fakeStatus{}, zap.NewNop().Sugar())

	res, err := s.handleSubmit(context.Background(), callTool(map[string]any{
		"question": "What is our Q3 revenue?",
		"context":  map[string]any{"region": "EU"},
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.JSONEq(t, `{"job_id":"job-1","status":"processing"}`, resultText(t, res))
	assert.Equal(t, "What is our Q3 revenue?", sub.question)
	assert.JSONEq(t, `{"region":"EU"}`, string(sub.context))
}

func TestSubmitQuestionErrors(t *testing.T) {
	s := NewServer(&fakeSubmitter{}, fakeStatus{}, zap.NewNop().Sugar())
	res, err := s.handleSubmit(context.Background(), callTool(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	s = NewServer(&fakeSubmitter{err: errors.NewInvalidRequestError("question is required")}, fakeStatus{}, zap.NewNop().Sugar())
	res, err = s.handleSubmit(context.Background(), callTool(map[string]any{"question": " "}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Question is required", resultText(t, res))

	s = NewServer(&fakeSubmitter{err: errors.New("disk full")}, fakeStatus{}, zap.NewNop().Sugar())
	res, err = s.handleSubmit(context.Background(), callTool(map[string]any{"question": "q"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Failed to submit question", resultText(t, res))
}

func TestGetJobStatus(t *testing.T) {
	s := NewServer(&fakeSubmitter{}, fakeStatus{}, zap.NewNop().Sugar())

	res, err := s.handleStatus(context.Background(), callTool(map[string]any{"job_id": "job-1"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &view))
	assert.Equal(t, "completed", view["status"])
	assert.Equal(t, map[string]any{"answer": "42"}, view["result"])

	res, err = s.handleStatus(context.Background(), callTool(map[string]any{"job_id": "other"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Job not found: other", resultText(t, res))
}
