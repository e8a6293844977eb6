package async

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/teranos/qaflow/db"
	"github.com/teranos/qaflow/errors"
)

const (
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
	// claimCandidates is how many queued ids a dequeue tries before giving up
	claimCandidates = 8
)

// Queue wraps the task store with claim semantics and change notifications
type Queue struct {
	store       *Store
	now         func() time.Time
	mu          sync.RWMutex
	subscribers []chan *Task
}

// NewQueue creates a queue over conn
func NewQueue(conn *sql.DB, dialect db.Dialect) *Queue {
	return &Queue{
		store: NewStore(conn, dialect),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Store returns the underlying task store
func (q *Queue) Store() *Store {
	return q.store
}

// Enqueue persists a new task and wakes subscribers
func (q *Queue) Enqueue(ctx context.Context, task *Task) error {
	if err := q.store.CreateTask(ctx, task); err != nil {
		err = errors.Wrap(err, "failed to enqueue task")
		err = errors.WithDetail(err, fmt.Sprintf("Task ID: %s", task.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", task.HandlerName))
		return err
	}
	q.notifySubscribers(task)
	return nil
}

// Dequeue claims the oldest queued task and returns it marked running.
// It returns nil when nothing is queued.
func (q *Queue) Dequeue(ctx context.Context) (*Task, error) {
	ids, err := q.store.NextQueuedIDs(ctx, claimCandidates)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get queued tasks")
	}

	for _, id := range ids {
		claimed, err := q.store.Claim(ctx, id, q.now())
		if err != nil {
			return nil, err
		}
		if !claimed {
			continue
		}
		task, err := q.store.GetTask(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load claimed task %s", id)
		}
		q.notifySubscribers(task)
		return task, nil
	}
	return nil, nil
}

// GetTask retrieves a task by ID
func (q *Queue) GetTask(ctx context.Context, id string) (*Task, error) {
	return q.store.GetTask(ctx, id)
}

// Complete marks a running task completed
func (q *Queue) Complete(ctx context.Context, task *Task) error {
	now := q.now()
	task.Status = TaskStatusCompleted
	task.Error = ""
	task.CompletedAt = &now
	task.UpdatedAt = now
	return q.update(ctx, task)
}

// Fail marks a task failed with taskErr
func (q *Queue) Fail(ctx context.Context, task *Task, taskErr error) error {
	now := q.now()
	task.Status = TaskStatusFailed
	task.Error = taskErr.Error()
	task.CompletedAt = &now
	task.UpdatedAt = now
	if err := q.update(ctx, task); err != nil {
		return errors.WithDetail(err, fmt.Sprintf("Task error: %s", taskErr.Error()))
	}
	return nil
}

// Requeue puts a task back in the queue, keeping its attempt count
func (q *Queue) Requeue(ctx context.Context, task *Task, reason string) error {
	task.Status = TaskStatusQueued
	task.Error = reason
	task.StartedAt = nil
	task.UpdatedAt = q.now()
	return q.update(ctx, task)
}

func (q *Queue) update(ctx context.Context, task *Task) error {
	if err := q.store.UpdateTask(ctx, task); err != nil {
		err = errors.Wrap(err, "failed to update task")
		err = errors.WithDetail(err, fmt.Sprintf("Task ID: %s", task.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Status: %s", task.Status))
		return err
	}
	q.notifySubscribers(task)
	return nil
}

// ListTasks returns tasks, optionally filtered by status
func (q *Queue) ListTasks(ctx context.Context, status *TaskStatus, limit int) ([]*Task, error) {
	return q.store.ListTasks(ctx, status, limit)
}

// Cleanup removes finished tasks older than olderThan
func (q *Queue) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	return q.store.DeleteFinished(ctx, q.now().Add(-olderThan))
}

// QueueStats returns statistics about the queue
type QueueStats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats(ctx context.Context) (*QueueStats, error) {
	counts, err := q.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := &QueueStats{
		Queued:    counts[TaskStatusQueued],
		Running:   counts[TaskStatusRunning],
		Completed: counts[TaskStatusCompleted],
		Failed:    counts[TaskStatusFailed],
	}
	stats.Total = stats.Queued + stats.Running + stats.Completed + stats.Failed
	return stats, nil
}

// Subscribe returns a channel that receives task updates.
// The caller is responsible for calling Unsubscribe when done.
func (q *Queue) Subscribe() chan *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Task, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel. The channel is not closed.
func (q *Queue) Unsubscribe(ch chan *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers sends a snapshot of task to every subscriber without blocking
func (q *Queue) notifySubscribers(task *Task) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	snapshot := *task
	for _, ch := range q.subscribers {
		select {
		case ch <- &snapshot:
		default:
		}
	}
}
