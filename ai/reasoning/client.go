package reasoning

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/qaflow/ai/openrouter"
	"github.com/teranos/qaflow/ai/provider"
	"github.com/teranos/qaflow/am"
	"github.com/teranos/qaflow/errors"
	"github.com/teranos/qaflow/logger"
)

// DefaultTimeout bounds a single call when no timeout is configured
const DefaultTimeout = 60 * time.Second

// LLMClient runs stages against a chat completion provider
type LLMClient struct {
	ai      provider.AIClient
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// Option configures an LLMClient
type Option func(*LLMClient)

// WithLimiter replaces the limiter built from configuration
func WithLimiter(l *rate.Limiter) Option {
	return func(c *LLMClient) { c.limiter = l }
}

// WithTimeout sets the per-call timeout
func WithTimeout(d time.Duration) Option {
	return func(c *LLMClient) { c.timeout = d }
}

// WithLogger sets the logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *LLMClient) { c.logger = l }
}

// NewLLMClient wraps ai with rate limiting and per-call timeouts taken from cfg
func NewLLMClient(ai provider.AIClient, cfg am.ReasoningConfig, opts ...Option) *LLMClient {
	c := &LLMClient{
		ai:      ai,
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		logger:  logger.ComponentLogger("reasoning"),
	}
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60.0), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	return c
}

// Invoke runs one stage. Classification splits the question and makes one
// call per fragment; every other stage makes exactly one call.
func (c *LLMClient) Invoke(ctx context.Context, stage StageKind, payload Payload) (*StageOutput, error) {
	if !stage.Known() {
		return nil, errors.Newf("unknown stage kind %q", stage)
	}
	if payload.CurrentDate == "" {
		payload.CurrentDate = time.Now().UTC().Format(DateLayout)
	}
	payload.StageKind = stage

	if stage == StageClassify {
		return c.classify(ctx, payload)
	}

	data, degraded, err := c.call(ctx, stage, payload)
	if err != nil {
		return nil, err
	}
	return &StageOutput{Stage: stage, Data: data, Degraded: degraded}, nil
}

func (c *LLMClient) classify(ctx context.Context, payload Payload) (*StageOutput, error) {
	texts := SplitFragments(payload.Question)
	if len(texts) == 0 {
		fragments := []Fragment{{Text: strings.TrimSpace(payload.Question), Category: CategoryFactualDirect}}
		return classifyOutput(fragments, false)
	}

	fragments := make([]Fragment, 0, len(texts))
	degraded := false
	for _, text := range texts {
		fp := payload
		fp.Question = text
		data, fellBack, err := c.call(ctx, StageClassify, fp)
		if err != nil {
			return nil, err
		}
		degraded = degraded || fellBack

		var reply struct {
			Category string `json:"category"`
		}
		_ = json.Unmarshal(data, &reply)
		category, ok := ParseCategory(reply.Category)
		if !ok {
			category = CategoryFactualDirect
			degraded = true
		}
		fragments = append(fragments, ApplyDateGuard(Fragment{Text: text, Category: category}, payload.CurrentDate))
	}
	return classifyOutput(fragments, degraded)
}

func classifyOutput(fragments []Fragment, degraded bool) (*StageOutput, error) {
	data, err := json.Marshal(map[string]any{"fragments": fragments})
	if err != nil {
		return nil, errors.Wrap(err, "encode classification")
	}
	return &StageOutput{Stage: StageClassify, Data: data, Fragments: fragments, Degraded: degraded}, nil
}

// call performs one provider request and returns schema-valid data, falling
// back to the deterministic value when the reply cannot be used.
func (c *LLMClient) call(ctx context.Context, stage StageKind, payload Payload) (json.RawMessage, bool, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, false, limiterFailure(stage, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.ai.Chat(callCtx, openrouter.ChatRequest{
		SystemPrompt: systemPrompt(stage, payload),
		UserPrompt:   userPrompt(payload),
	})
	if err != nil {
		kind := classifyProviderError(err)
		if kind != KindTimeout && callCtx.Err() == context.DeadlineExceeded {
			kind = KindTimeout
		}
		c.logger.Warnw("Reasoning call failed",
			logger.FieldStage, stage,
			logger.FieldErrorKind, kind,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
			logger.FieldError, err,
		)
		return nil, false, NewFailure(stage, kind, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, false, NewFailure(stage, KindMalformedResponse, errors.New("empty response"))
	}

	data, err := ExtractJSON(resp.Content)
	if err == nil {
		err = Validate(stage, data)
	}
	if err != nil {
		c.logger.Infow("Using fallback output",
			logger.FieldStage, stage,
			logger.FieldError, err,
		)
		return Fallback(stage, resp.Content, payload), true, nil
	}

	c.logger.Debugw("Reasoning call completed",
		logger.FieldStage, stage,
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)
	return data, false, nil
}
