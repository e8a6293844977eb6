// Package async is the durable in-process task queue behind qaflow's workers.
//
// Tasks are rows in async_tasks. A worker claims a queued task with a single
// conditional UPDATE, so two workers never run the same task, and hands it to
// the handler registered under the task's handler name. Tasks left running by
// a crash are requeued when the pool starts.
package async

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/qaflow/errors"
)

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// IsValidStatus returns true if the status string is a valid TaskStatus
func IsValidStatus(s string) bool {
	switch TaskStatus(s) {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Task is one unit of background work.
// HandlerName selects the TaskHandler; Payload is owned by that handler.
type Task struct {
	ID          string          `json:"id"`
	HandlerName string          `json:"handler_name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      TaskStatus      `json:"status"`
	Attempts    int             `json:"attempts"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// NewTask creates a queued task for handlerName
func NewTask(handlerName string, payload json.RawMessage) (*Task, error) {
	if handlerName == "" {
		return nil, errors.New("handlerName cannot be empty")
	}
	now := time.Now().UTC()
	return &Task{
		ID:          uuid.NewString(),
		HandlerName: handlerName,
		Payload:     payload,
		Status:      TaskStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// NewTaskWithPayload marshals payload and creates a queued task
func NewTaskWithPayload(handlerName string, payload any) (*Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal payload for %s", handlerName)
	}
	return NewTask(handlerName, data)
}

// IsFinished reports whether the task reached completed or failed
func (t *Task) IsFinished() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// DecodePayload unmarshals the task payload into v
func (t *Task) DecodePayload(v any) error {
	if len(t.Payload) == 0 {
		return errors.Newf("task %s has no payload", t.ID)
	}
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return errors.Wrapf(err, "invalid payload for task %s", t.ID)
	}
	return nil
}
