// Package jobs persists question-answering jobs: the durable record the
// dispatcher creates, the pipeline mutates and the status reader projects.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/teranos/qaflow/errors"
)

// Status is the lifecycle state of a job
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions are permitted
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	return s == StatusProcessing || s.IsTerminal()
}

// Job is one submitted question and its end-to-end processing record.
// Result is set only when completed, Error only when failed.
type Job struct {
	ID        string          `json:"job_id"`
	Status    Status          `json:"status"`
	Question  string          `json:"question"`
	Context   json.RawMessage `json:"context,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Progress  *Progress       `json:"progress,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Progress records how far the pipeline has advanced for a job
type Progress struct {
	Category  string        `json:"category,omitempty"`
	Route     []string      `json:"route,omitempty"`
	Completed []StageRecord `json:"completed"`
	Current   int           `json:"current"`
	Total     int           `json:"total"`
}

// StageRecord is the persisted outcome of one finished stage
type StageRecord struct {
	Stage      string          `json:"stage"`
	Attempts   int             `json:"attempts"`
	DurationMS int64           `json:"duration_ms"`
	Degraded   bool            `json:"degraded,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
}

// New returns a processing job admitted at now that expires after ttl.
// A nil or empty context is stored as {}.
func New(id, question string, context json.RawMessage, now time.Time, ttl time.Duration) *Job {
	if len(context) == 0 || string(context) == "null" {
		context = json.RawMessage(`{}`)
	}
	now = now.UTC()
	return &Job{
		ID:        id,
		Status:    StatusProcessing,
		Question:  question,
		Context:   context,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// checkInvariant enforces the status/result/error relationship on a full record
func (j *Job) checkInvariant() error {
	if !j.Status.Valid() {
		return errors.NewInvalidRequestError("unknown job status %q", j.Status)
	}
	switch j.Status {
	case StatusCompleted:
		if len(j.Result) == 0 || j.Error != "" {
			return errors.NewInvalidRequestError("completed job %s needs a result and no error", j.ID)
		}
	case StatusFailed:
		if j.Error == "" || len(j.Result) != 0 {
			return errors.NewInvalidRequestError("failed job %s needs an error and no result", j.ID)
		}
	default:
		if len(j.Result) != 0 || j.Error != "" {
			return errors.NewInvalidRequestError("processing job %s cannot carry a result or error", j.ID)
		}
	}
	return nil
}

// Update is a partial patch applied by Store.Update. Nil fields are left untouched.
type Update struct {
	Status   *Status
	Result   json.RawMessage
	Error    *string
	Progress *Progress
}

// Completed returns the terminal patch for a successful run
func Completed(result json.RawMessage) Update {
	s := StatusCompleted
	return Update{Status: &s, Result: result}
}

// Failed returns the terminal patch for a failed run
func Failed(message string) Update {
	s := StatusFailed
	return Update{Status: &s, Error: &message}
}

// Advance returns a non-terminal patch recording pipeline progress
func Advance(p *Progress) Update {
	return Update{Progress: p}
}

// Expect returns a pointer for use as the expected status of Store.Update
func Expect(s Status) *Status {
	return &s
}

func (u Update) validate() error {
	if u.Status == nil && u.Result == nil && u.Error == nil && u.Progress == nil {
		return errors.NewInvalidRequestError("empty job update")
	}

	status := StatusProcessing
	if u.Status != nil {
		status = *u.Status
		if !status.Valid() {
			return errors.NewInvalidRequestError("unknown job status %q", status)
		}
	}

	switch status {
	case StatusCompleted:
		if len(u.Result) == 0 || !json.Valid(u.Result) {
			return errors.NewInvalidRequestError("completed update needs a JSON result")
		}
		if u.Error != nil {
			return errors.NewInvalidRequestError("completed update cannot set an error")
		}
	case StatusFailed:
		if u.Error == nil || *u.Error == "" {
			return errors.NewInvalidRequestError("failed update needs an error message")
		}
		if u.Result != nil {
			return errors.NewInvalidRequestError("failed update cannot set a result")
		}
	default:
		if u.Result != nil || u.Error != nil {
			return errors.NewInvalidRequestError("result and error require a terminal status")
		}
	}
	return nil
}
