package dispatch

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/teranos/qaflow/errors"
	"github.com/teranos/qaflow/logger"
	"github.com/teranos/qaflow/pulse/async"
)

// Runner executes the pipeline for one job
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// PipelineHandler runs qa.pipeline tasks from the pulse queue
type PipelineHandler struct {
	runner Runner
}

// NewPipelineHandler creates the pulse handler over runner
func NewPipelineHandler(runner Runner) *PipelineHandler {
	return &PipelineHandler{runner: runner}
}

func (h *PipelineHandler) Name() string { return PipelineHandlerName }

// Execute decodes the invocation and runs the pipeline. An undecodable
// payload or a missing job fails the task without retries.
func (h *PipelineHandler) Execute(ctx context.Context, task *async.Task) error {
	inv, err := DecodeInvocation(task.Payload)
	if err != nil {
		return async.Permanent(err)
	}
	err = h.runner.Run(logger.WithJobID(ctx, inv.JobID), inv.JobID)
	if errors.IsNotFoundError(err) {
		return async.Permanent(err)
	}
	return err
}

// DecodeInvocation parses an invocation message and checks it names a job
func DecodeInvocation(data []byte) (Invocation, error) {
	var inv Invocation
	if err := json.Unmarshal(data, &inv); err != nil {
		return inv, errors.Wrap(err, "failed to unmarshal invocation")
	}
	if inv.JobID == "" {
		return inv, errors.NewInvalidRequestError("invocation has no job_id")
	}
	return inv, nil
}

// MessageHandler adapts runner to a bus subscription callback. Each
// message is one run; errors are logged since there is no one to return them to.
func MessageHandler(runner Runner, log *zap.SugaredLogger) func(ctx context.Context, data []byte) {
	return func(ctx context.Context, data []byte) {
		inv, err := DecodeInvocation(data)
		if err != nil {
			log.Warnw("Dropping invalid invocation", logger.FieldError, err)
			return
		}
		if err := runner.Run(logger.WithJobID(ctx, inv.JobID), inv.JobID); err != nil {
			log.Errorw("Pipeline run failed", logger.FieldJobID, inv.JobID, logger.FieldError, err)
		}
	}
}
