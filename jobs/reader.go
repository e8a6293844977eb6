package jobs

import (
	"context"
	"encoding/json"
	"time"
)

// Getter is the read side of the job store
type Getter interface {
	Get(ctx context.Context, jobID string) (*Job, error)
}

// View is the client-facing projection of a job.
// Result appears only when completed, Error only when failed and Progress
// only while processing.
type View struct {
	JobID     string          `json:"job_id"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	Question  string          `json:"question"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Progress  *Progress       `json:"progress,omitempty"`
}

// StatusReader projects stored jobs into Views. It never writes.
type StatusReader struct {
	store Getter
}

// NewStatusReader creates a reader over the given store
func NewStatusReader(store Getter) *StatusReader {
	return &StatusReader{store: store}
}

// Get returns the view for jobID, or ErrNotFound when it is unknown or expired
func (r *StatusReader) Get(ctx context.Context, jobID string) (*View, error) {
	job, err := r.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return Project(job), nil
}

// Project builds the View for a job
func Project(job *Job) *View {
	v := &View{
		JobID:     job.ID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
		Question:  job.Question,
	}
	switch job.Status {
	case StatusCompleted:
		v.Result = job.Result
	case StatusFailed:
		v.Error = job.Error
	case StatusProcessing:
		v.Progress = job.Progress
	}
	return v
}
