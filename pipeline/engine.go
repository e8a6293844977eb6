// Package pipeline drives a job through its reasoning stages.
//
// Run classifies the question, looks up the stage route for the dominant
// category and executes the remaining stages in order. Progress is written
// after every stage and exactly one terminal status is written at the end.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/qaflow/ai/reasoning"
	"github.com/teranos/qaflow/am"
	"github.com/teranos/qaflow/errors"
	"github.com/teranos/qaflow/jobs"
	"github.com/teranos/qaflow/logger"
)

// Store is the part of the job store the engine needs
type Store interface {
	Get(ctx context.Context, jobID string) (*jobs.Job, error)
	Update(ctx context.Context, jobID string, u jobs.Update, expected *jobs.Status) error
}

// Config controls retries and reporting
type Config struct {
	StageRetries int
	RetryDelay   time.Duration
	ReportFormat string
}

// ConfigFromAM converts the [pipeline] config section
func ConfigFromAM(c am.PipelineConfig) Config {
	return Config{
		StageRetries: c.StageRetries,
		RetryDelay:   time.Duration(c.RetryDelayMS) * time.Millisecond,
		ReportFormat: c.ReportFormat,
	}
}

// Engine executes pipeline runs
type Engine struct {
	store    Store
	reasoner reasoning.Client
	routes   *Routes
	cfg      Config
	now      func() time.Time
	logger   *zap.SugaredLogger
}

// Option configures an Engine
type Option func(*Engine)

// WithClock sets the clock used for the current date
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine. A nil routes table selects the embedded one.
func NewEngine(store Store, reasoner reasoning.Client, routes *Routes, cfg Config, opts ...Option) *Engine {
	if routes == nil {
		routes = DefaultRoutes()
	}
	if cfg.StageRetries < 0 {
		cfg.StageRetries = 0
	}
	if cfg.ReportFormat == "" {
		cfg.ReportFormat = reasoning.ReportSummary
	}
	e := &Engine{
		store:    store,
		reasoner: reasoner,
		routes:   routes,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.ComponentLogger("pipeline"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Routes returns the route table in use
func (e *Engine) Routes() *Routes {
	return e.routes
}

// Run is the transient state of one pipeline execution
type Run struct {
	JobID       string
	Question    string
	Context     json.RawMessage
	CurrentDate string
	Fragments   []reasoning.Fragment
	Category    reasoning.Category
	Route       []reasoning.StageKind
	Results     []StageResult
}

// StageResult is the outcome of one completed stage
type StageResult struct {
	Stage    reasoning.StageKind
	Output   *reasoning.StageOutput
	Attempts int
	Duration time.Duration
}

func (r *Run) priorOutputs() map[string]json.RawMessage {
	if len(r.Results) == 0 {
		return nil
	}
	out := make(map[string]json.RawMessage, len(r.Results))
	for _, res := range r.Results {
		out[string(res.Stage)] = res.Output.Data
	}
	return out
}

func (r *Run) degraded() bool {
	for _, res := range r.Results {
		if res.Output.Degraded {
			return true
		}
	}
	return false
}

// Run executes the pipeline for jobID. Errors are returned only when the job
// could not be read; stage failures end in a failed job instead.
func (e *Engine) Run(ctx context.Context, jobID string) error {
	ctx = logger.WithJobID(ctx, jobID)
	log := logger.FromContext(ctx, e.logger)

	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			log.Errorw("Job not found, nothing to run")
			return nil
		}
		return errors.Wrapf(err, "failed to load job %s", jobID)
	}
	if job.Status.IsTerminal() {
		log.Infow("Job already finished, skipping run", logger.FieldStatus, job.Status)
		return nil
	}

	run := &Run{
		JobID:       job.ID,
		Question:    job.Question,
		Context:     job.Context,
		CurrentDate: e.now().UTC().Format(reasoning.DateLayout),
	}

	classified, err := e.runStage(ctx, run, reasoning.StageClassify)
	if err != nil {
		return e.fail(ctx, run, reasoning.StageClassify, err)
	}

	run.Fragments = classified.Output.Fragments
	if len(run.Fragments) == 0 {
		run.Fragments = []reasoning.Fragment{{Text: job.Question, Category: reasoning.CategoryFactualDirect}}
	}
	run.Category = e.routes.DominantCategory(run.Fragments)
	run.Route = e.routes.StagesFor(run.Category)
	run.Results = append(run.Results, *classified)

	log.Infow("Question classified",
		logger.FieldCategory, run.Category,
		logger.FieldRoute, run.Route,
		logger.FieldCount, len(run.Fragments),
	)

	if !e.advance(ctx, run) {
		return nil
	}

	for _, stage := range run.Route[1:] {
		res, err := e.runStage(ctx, run, stage)
		if err != nil {
			return e.fail(ctx, run, stage, err)
		}
		run.Results = append(run.Results, *res)
		if !e.advance(ctx, run) {
			return nil
		}
	}

	return e.complete(ctx, run)
}

// runStage invokes one stage, retrying transient failures
func (e *Engine) runStage(ctx context.Context, run *Run, stage reasoning.StageKind) (*StageResult, error) {
	log := logger.FromContext(ctx, e.logger)
	payload := reasoning.Payload{
		Question:     run.Question,
		Context:      run.Context,
		PriorOutputs: run.priorOutputs(),
		CurrentDate:  run.CurrentDate,
	}
	if stage == reasoning.StageReporting {
		payload.ReportFormat = e.cfg.ReportFormat
	}

	start := time.Now()
	for attempt := 1; ; attempt++ {
		out, err := e.invoke(ctx, stage, payload)
		if err == nil {
			log.Debugw("Stage completed",
				logger.FieldStage, stage,
				logger.FieldAttempt, attempt,
				logger.FieldDurationMS, time.Since(start).Milliseconds(),
			)
			return &StageResult{Stage: stage, Output: out, Attempts: attempt, Duration: time.Since(start)}, nil
		}

		kind, ok := reasoning.KindOf(err)
		if !ok || !kind.Retryable() || attempt > e.cfg.StageRetries {
			return nil, err
		}

		log.Warnw("Stage failed, retrying",
			logger.FieldStage, stage,
			logger.FieldAttempt, attempt,
			logger.FieldErrorKind, kind,
			logger.FieldError, err,
		)

		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(e.cfg.RetryDelay):
		}
	}
}

// invoke calls the reasoner and converts a panic into an error
func (e *Engine) invoke(ctx context.Context, stage reasoning.StageKind, payload reasoning.Payload) (out *reasoning.StageOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = errors.Newf("panic: %v", r)
		}
	}()

	out, err = e.reasoner.Invoke(ctx, stage, payload)
	if err == nil && out == nil {
		err = reasoning.NewFailure(stage, reasoning.KindMalformedResponse, errors.New("no output"))
	}
	return out, err
}

// advance records progress. It reports false when the run should stop
// because the job is no longer ours to write.
func (e *Engine) advance(ctx context.Context, run *Run) bool {
	progress := &jobs.Progress{
		Category:  string(run.Category),
		Route:     stageNames(run.Route),
		Completed: make([]jobs.StageRecord, 0, len(run.Results)),
		Current:   len(run.Results),
		Total:     len(run.Route),
	}
	for _, res := range run.Results {
		progress.Completed = append(progress.Completed, jobs.StageRecord{
			Stage:      string(res.Stage),
			Attempts:   res.Attempts,
			DurationMS: res.Duration.Milliseconds(),
			Degraded:   res.Output.Degraded,
			Output:     res.Output.Data,
		})
	}

	err := e.store.Update(ctx, run.JobID, jobs.Advance(progress), jobs.Expect(jobs.StatusProcessing))
	switch {
	case err == nil:
		return true
	case errors.IsConditionFailed(err), errors.IsNotFoundError(err):
		logger.FromContext(ctx, e.logger).Debugw("Job left processing, stopping run", logger.FieldError, err)
		return false
	default:
		logger.FromContext(ctx, e.logger).Warnw("Failed to record progress", logger.FieldError, err)
		return true
	}
}

func (e *Engine) fail(ctx context.Context, run *Run, stage reasoning.StageKind, cause error) error {
	if ctx.Err() != nil {
		// Shutdown mid-run: leave the job processing so it can be redelivered.
		logger.FromContext(ctx, e.logger).Warnw("Run interrupted",
			logger.FieldStage, stage,
			logger.FieldError, cause,
		)
		return ctx.Err()
	}

	msg := FailureMessage(stage, cause)
	logger.FromContext(ctx, e.logger).Warnw("Job failed",
		logger.FieldStage, stage,
		logger.FieldError, msg,
	)
	e.terminal(ctx, run, jobs.Failed(msg))
	return nil
}

func (e *Engine) complete(ctx context.Context, run *Run) error {
	result, err := json.Marshal(e.buildResult(run))
	if err != nil {
		return e.fail(ctx, run, run.Route[len(run.Route)-1], errors.Wrap(err, "encode result"))
	}
	e.terminal(ctx, run, jobs.Completed(result))
	return nil
}

func (e *Engine) terminal(ctx context.Context, run *Run, u jobs.Update) {
	log := logger.FromContext(ctx, e.logger)
	err := e.store.Update(ctx, run.JobID, u, jobs.Expect(jobs.StatusProcessing))
	switch {
	case err == nil:
		log.Infow("Job finished", logger.FieldStatus, *u.Status, logger.FieldCategory, run.Category)
	case errors.IsConditionFailed(err):
		log.Debugw("Terminal write lost to an earlier one", logger.FieldStatus, *u.Status)
	default:
		log.Errorw("Failed to write terminal status", logger.FieldStatus, *u.Status, logger.FieldError, err)
	}
}

// FailureMessage renders the stored error text for a failed stage
func FailureMessage(stage reasoning.StageKind, err error) string {
	var f *reasoning.Failure
	if errors.As(err, &f) {
		return fmt.Sprintf("%s stage failed: %s: %s", stage, f.Kind, f.Message())
	}
	return fmt.Sprintf("%s stage failed: %v", stage, err)
}

func stageNames(route []reasoning.StageKind) []string {
	names := make([]string, len(route))
	for i, s := range route {
		names[i] = string(s)
	}
	return names
}
