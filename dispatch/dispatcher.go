// Package dispatch admits questions and hands them to an execution backend.
//
// Submit persists a processing job and fires a trigger without waiting for
// the pipeline. A trigger failure marks the job failed but still returns its
// id, so the caller learns about the failure on its first status poll.
package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/qaflow/am"
	"github.com/teranos/qaflow/errors"
	"github.com/teranos/qaflow/jobs"
	"github.com/teranos/qaflow/logger"
)

// DefaultTTL is how long a job record lives after admission
const DefaultTTL = 24 * time.Hour

// Store is the part of the job store admission needs
type Store interface {
	Create(ctx context.Context, job *jobs.Job) error
	Update(ctx context.Context, jobID string, u jobs.Update, expected *jobs.Status) error
}

// Dispatcher creates jobs and triggers their pipeline runs
type Dispatcher struct {
	store   Store
	trigger Trigger
	ttl     time.Duration
	now     func() time.Time
	newID   func() string
	logger  *zap.SugaredLogger
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithTTL overrides the job lifetime
func WithTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithClock overrides the admission clock
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithIDGenerator overrides job id generation
func WithIDGenerator(newID func() string) Option {
	return func(d *Dispatcher) { d.newID = newID }
}

// WithLogger sets the dispatcher logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// TTLFromAM converts jobs.ttl_hours, falling back to DefaultTTL
func TTLFromAM(c am.JobsConfig) time.Duration {
	if c.TTLHours <= 0 {
		return DefaultTTL
	}
	return time.Duration(c.TTLHours) * time.Hour
}

// NewDispatcher creates a dispatcher over store that fires trigger
func NewDispatcher(store Store, trigger Trigger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:   store,
		trigger: trigger,
		ttl:     DefaultTTL,
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  logger.ComponentLogger("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit admits question and returns the new job id.
// A blank question is rejected with ErrInvalidRequest before anything is stored.
func (d *Dispatcher) Submit(ctx context.Context, question string, jobContext json.RawMessage) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", errors.NewInvalidRequestError("question is required")
	}
	if len(jobContext) > 0 && !json.Valid(jobContext) {
		return "", errors.NewInvalidRequestError("context must be valid JSON")
	}

	job := jobs.New(d.newID(), question, jobContext, d.now(), d.ttl)
	if err := d.store.Create(ctx, job); err != nil {
		return "", errors.Wrap(err, "failed to create job")
	}
	// The job exists now, so it must reach a trigger or a failed state even
	// if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	log := d.logger.With(logger.FieldJobID, job.ID)
	inv := Invocation{JobID: job.ID, Question: job.Question, Context: job.Context}
	if err := d.trigger.Fire(ctx, inv); err != nil {
		log.Warnw("Trigger failed, marking job failed", logger.FieldError, err)
		msg := "dispatch failed: " + err.Error()
		if uerr := d.store.Update(ctx, job.ID, jobs.Failed(msg), jobs.Expect(jobs.StatusProcessing)); uerr != nil {
			uerr = errors.Wrap(uerr, "failed to record dispatch failure")
			return "", errors.WithDetail(uerr, "Job ID: "+job.ID)
		}
		return job.ID, nil
	}

	log.Infow("Job admitted", "trigger", d.trigger.Name())
	return job.ID, nil
}
