package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/qaflow/ai/openrouter"
	"github.com/teranos/qaflow/am"
	"github.com/teranos/qaflow/errors"
)

func newTestLocalClient(url string) *LocalClient {
	return NewLocalClient(am.LocalInferenceConfig{
		Enabled:        true,
		BaseURL:        url,
		Model:          "test-model",
		TimeoutSeconds: 5,
		ContextSize:    8192,
	}, nil)
}

func TestLocalClient_Chat(t *testing.T) {
	var got localChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"category\":\"inferential\"}"}}]}`))
	}))
	defer server.Close()

	resp, err := newTestLocalClient(server.URL).Chat(context.Background(), openrouter.ChatRequest{
		SystemPrompt: "classify",
		UserPrompt:   "why is the sky blue?",
		JSONMode:     true,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"category":"inferential"}`, resp.Content)
	assert.Equal(t, "test-model", got.Model)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	require.NotNil(t, got.Options)
	assert.Equal(t, 8192, got.Options.NumCtx)
	require.NotNil(t, got.ResponseFormat)
}

func TestLocalClient_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestLocalClient(server.URL).Chat(context.Background(), openrouter.ChatRequest{UserPrompt: "hi"})
	var apiErr *openrouter.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestLocalClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := newTestLocalClient(server.URL).Chat(ctx, openrouter.ChatRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
