package dispatch

import (
	"context"
	"encoding/json"

	"github.com/teranos/qaflow/errors"
	"github.com/teranos/qaflow/pulse/async"
)

// PipelineHandlerName routes pulse tasks to PipelineHandler
const PipelineHandlerName = "qa.pipeline"

// Invocation is the message a trigger delivers to the execution backend
type Invocation struct {
	JobID    string          `json:"job_id"`
	Question string          `json:"question"`
	Context  json.RawMessage `json:"context,omitempty"`
}

// Trigger starts a pipeline run without waiting for it
type Trigger interface {
	Fire(ctx context.Context, inv Invocation) error
	Name() string
}

// Enqueuer is the part of the pulse queue PulseTrigger needs
type Enqueuer interface {
	Enqueue(ctx context.Context, task *async.Task) error
}

// PulseTrigger enqueues a qa.pipeline task on the durable pulse queue
type PulseTrigger struct {
	queue Enqueuer
}

// NewPulseTrigger creates a trigger over queue
func NewPulseTrigger(queue Enqueuer) *PulseTrigger {
	return &PulseTrigger{queue: queue}
}

func (t *PulseTrigger) Name() string { return "pulse" }

func (t *PulseTrigger) Fire(ctx context.Context, inv Invocation) error {
	task, err := async.NewTaskWithPayload(PipelineHandlerName, inv)
	if err != nil {
		return err
	}
	if err := t.queue.Enqueue(ctx, task); err != nil {
		return errors.Wrapf(err, "failed to enqueue pipeline task for job %s", inv.JobID)
	}
	return nil
}

// Publisher is the part of the bus client NatsTrigger needs
type Publisher interface {
	PublishJSON(ctx context.Context, subject string, v any) error
}

// NatsTrigger publishes invocations for `qaflow worker --backend nats`
type NatsTrigger struct {
	pub     Publisher
	subject string
}

// NewNatsTrigger creates a trigger publishing on subject
func NewNatsTrigger(pub Publisher, subject string) *NatsTrigger {
	return &NatsTrigger{pub: pub, subject: subject}
}

func (t *NatsTrigger) Name() string { return "nats" }

func (t *NatsTrigger) Fire(ctx context.Context, inv Invocation) error {
	return t.pub.PublishJSON(ctx, t.subject, inv)
}
