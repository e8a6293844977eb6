// Package openrouter is a thin client for the OpenRouter chat completions API.
// It performs exactly one HTTP request per call; retry policy belongs to the caller.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/qaflow/errors"
)

const (
	// DefaultModel is the fallback model when none is specified.
	// Keep in sync with am/defaults.go.
	DefaultModel = "openai/gpt-4o-mini"

	// DefaultBaseURL is the public OpenRouter endpoint
	DefaultBaseURL = "https://openrouter.ai/api/v1"
)

// ErrNotConfigured is returned by Chat when no API key is set
var ErrNotConfigured = errors.New("OpenRouter API key not configured")

// Client represents an OpenRouter.ai API client
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	config     Config
	logger     *zap.SugaredLogger
}

// Config holds AI client configuration
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature *float64 // nil = use default (0.2)
	MaxTokens   *int     // nil = use default (1000)
	Timeout     time.Duration
	Title       string // X-Title header shown on the OpenRouter dashboard
	Logger      *zap.SugaredLogger
}

// NewClient creates a new OpenRouter.ai client with defaults applied
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Temperature == nil {
		defaultTemp := 0.2
		config.Temperature = &defaultTemp
	}
	if config.MaxTokens == nil {
		defaultTokens := 1000
		config.MaxTokens = &defaultTokens
	}
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}
	if config.Title == "" {
		config.Title = "qaflow"
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Client{
		apiKey:     config.APIKey,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
		logger:     logger,
	}
}

// ChatCompletionRequest represents a request to the chat completions endpoint
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ResponseFormat asks compatible models for a JSON object reply
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatRequest represents a high-level request to the AI
type ChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  *float64 // Override default temperature
	MaxTokens    *int     // Override default max tokens
	Model        *string  // Override default model
	JSONMode     bool     // Request a JSON object response
}

// ChatResponse represents the AI response
type ChatResponse struct {
	Content string
	Model   string
	Usage   Usage
}

// Message represents a message in a chat completion
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse represents the response from chat completions
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice represents a completion choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// APIError is a non-200 response from the API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, body)
}

// Temporary reports whether the status code suggests the call may succeed later
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ErrNoChoices is returned when the API answered without any completion
var ErrNoChoices = errors.New("no response choices from OpenRouter")

// CreateChatCompletion sends a chat completion request to OpenRouter
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("X-Title", c.config.Title)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.WithStack(&APIError{StatusCode: resp.StatusCode, Body: string(respBody)})
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}

	return &chatResp, nil
}

// Chat sends a single chat completion request built from a system and user prompt
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c.config.APIKey == "" {
		return nil, ErrNotConfigured
	}

	temperature := *c.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	maxTokens := *c.config.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	model := c.config.Model
	if req.Model != nil {
		model = *req.Model
	}

	c.logger.Debugw("AI Chat Request",
		"model", model,
		"temperature", temperature,
		"max_tokens", maxTokens,
		"user_prompt", req.UserPrompt,
	)

	messages := []Message{{Role: "user", Content: req.UserPrompt}}
	if req.SystemPrompt != "" {
		messages = append([]Message{{Role: "system", Content: req.SystemPrompt}}, messages...)
	}

	openrouterReq := ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	if req.JSONMode {
		openrouterReq.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	start := time.Now()
	resp, err := c.CreateChatCompletion(ctx, openrouterReq)
	if err != nil {
		c.logger.Warnw("OpenRouter API error", "error", err, "model", model, "duration_ms", time.Since(start).Milliseconds())
		return nil, errors.Wrap(err, "OpenRouter API error")
	}

	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	responseText := resp.Choices[0].Message.Content

	c.logger.Debugw("OpenRouter response",
		"content_length", len(responseText),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"estimated_cost_usd", CalculateCost(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &ChatResponse{
		Content: strings.TrimSpace(responseText),
		Model:   model,
		Usage:   resp.Usage,
	}, nil
}

// IsConfigured returns true if the client has an API key
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// SetHTTPClient overrides the HTTP client (tests only)
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
