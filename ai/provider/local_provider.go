package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/qaflow/ai/openrouter"
	"github.com/teranos/qaflow/am"
	"github.com/teranos/qaflow/errors"
)

// LocalClient talks to Ollama, LocalAI or any OpenAI-compatible local server
type LocalClient struct {
	baseURL     string
	model       string
	contextSize int
	httpClient  *http.Client
	logger      *zap.SugaredLogger
}

// NewLocalClient creates a client for local inference
func NewLocalClient(cfg am.LocalInferenceConfig, logger *zap.SugaredLogger) *LocalClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LocalClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		contextSize: cfg.ContextSize,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger.Named("local"),
	}
}

// localChatRequest matches the OpenAI chat format; Ollama reads options too
type localChatRequest struct {
	Model          string                     `json:"model"`
	Messages       []openrouter.Message       `json:"messages"`
	Stream         bool                       `json:"stream"`
	ResponseFormat *openrouter.ResponseFormat `json:"response_format,omitempty"`
	Options        *localOptions              `json:"options,omitempty"`
}

type localOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"num_predict,omitempty"` // Ollama uses num_predict
	NumCtx      int     `json:"num_ctx,omitempty"`
}

// Chat implements AIClient for local inference
func (c *LocalClient) Chat(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error) {
	messages := []openrouter.Message{{Role: "user", Content: req.UserPrompt}}
	if req.SystemPrompt != "" {
		messages = append([]openrouter.Message{{Role: "system", Content: req.SystemPrompt}}, messages...)
	}

	opts := &localOptions{Temperature: 0.2, MaxTokens: 2048, NumCtx: c.contextSize}
	if req.Temperature != nil {
		opts.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		opts.MaxTokens = *req.MaxTokens
	}

	body := localChatRequest{Model: c.model, Messages: messages, Options: opts}
	if req.JSONMode {
		body.ResponseFormat = &openrouter.ResponseFormat{Type: "json_object"}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "local inference request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, errors.WithStack(&openrouter.APIError{StatusCode: resp.StatusCode, Body: string(respBody)})
	}

	var completion openrouter.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, errors.Wrap(err, "failed to decode response")
	}
	if len(completion.Choices) == 0 {
		return nil, openrouter.ErrNoChoices
	}

	c.logger.Debugw("Local inference response", "model", c.model, "content_length", len(completion.Choices[0].Message.Content))

	return &openrouter.ChatResponse{
		Content: strings.TrimSpace(completion.Choices[0].Message.Content),
		Model:   c.model,
		Usage:   completion.Usage,
	}, nil
}

// Model returns the configured local model name
func (c *LocalClient) Model() string {
	return c.model
}
