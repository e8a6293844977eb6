package async

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/qaflow/am"
	"github.com/teranos/qaflow/errors"
)

const (
	// MaxOrphanedTasksToRecover bounds the requeue sweep on startup
	MaxOrphanedTasksToRecover = 1000
	// DefaultStopTimeout is how long Stop waits for in-flight tasks
	DefaultStopTimeout = 30 * time.Second
)

// pulseLogger wraps zap.SugaredLogger with lifecycle helpers:
// Starting logs at debug for opening events, Closing at warn for shutdown.
type pulseLogger struct {
	*zap.SugaredLogger
}

func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw("✿ "+msg, keysAndValues...)
}

func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw("❀ "+msg, keysAndValues...)
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers      int           `json:"workers"`
	PollInterval time.Duration `json:"poll_interval"`
	StopTimeout  time.Duration `json:"stop_timeout"`
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      2,
		PollInterval: time.Second,
		StopTimeout:  DefaultStopTimeout,
	}
}

// PoolConfigFromAM converts the [pulse] config section
func PoolConfigFromAM(c am.PulseConfig) WorkerPoolConfig {
	cfg := DefaultWorkerPoolConfig()
	cfg.Workers = c.Workers
	if c.PollIntervalMS > 0 {
		cfg.PollInterval = time.Duration(c.PollIntervalMS) * time.Millisecond
	}
	return cfg
}

// WorkerPool manages a pool of workers that process queued tasks
type WorkerPool struct {
	queue         *Queue
	registry      *HandlerRegistry
	executor      TaskExecutor
	poolConfig    WorkerPoolConfig
	workers       int
	parentCtx     context.Context
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	wake          chan struct{}
	activeWorkers int
	tasksDone     int
	logger        pulseLogger
	mu            sync.Mutex
}

// NewWorkerPool creates a worker pool over queue with an empty handler registry.
// Callers must register handlers before calling Start.
func NewWorkerPool(ctx context.Context, queue *Queue, cfg WorkerPoolConfig, logger *zap.SugaredLogger) *WorkerPool {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	registry := NewHandlerRegistry()
	workerCtx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		queue:      queue,
		registry:   registry,
		executor:   NewRegistryExecutor(registry),
		poolConfig: cfg,
		workers:    cfg.Workers,
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
		wake:       make(chan struct{}, max(cfg.Workers, 1)),
		logger:     pulseLogger{logger.Named("pulse")},
	}
}

// Start recovers orphaned tasks and launches the workers
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
	}
	ctx := wp.ctx
	wp.mu.Unlock()

	if n, err := wp.recoverOrphanedTasks(ctx); err != nil {
		wp.logger.Warnw("Failed to recover orphaned tasks", "error", err)
	} else if n > 0 {
		wp.logger.Infow("Recovered orphaned tasks", "count", n)
	}

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.workers)
	}

	sub := wp.queue.Subscribe()
	wp.wg.Add(1)
	go wp.forwardWakeups(ctx, sub)

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
	wp.logger.Starting("Worker pool started", "workers", wp.workers, "poll_interval", wp.poolConfig.PollInterval)
}

// recoverOrphanedTasks requeues tasks left running by a previous process
func (wp *WorkerPool) recoverOrphanedTasks(ctx context.Context) (int, error) {
	running := TaskStatusRunning
	orphans, err := wp.queue.ListTasks(ctx, &running, MaxOrphanedTasksToRecover)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list running tasks")
	}

	recovered := 0
	for _, task := range orphans {
		if err := wp.queue.Requeue(ctx, task, ""); err != nil {
			wp.logger.Warnw("Failed to recover orphaned task", "task_id", task.ID, "error", err)
			continue
		}
		wp.logger.Starting("Recovered orphaned task", "task_id", task.ID, "handler", task.HandlerName)
		recovered++
	}
	return recovered, nil
}

// forwardWakeups turns queue notifications about queued tasks into worker wakeups
func (wp *WorkerPool) forwardWakeups(ctx context.Context, sub chan *Task) {
	defer wp.wg.Done()
	defer wp.queue.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-sub:
			if task.Status != TaskStatusQueued {
				continue
			}
			select {
			case wp.wake <- struct{}{}:
			default:
			}
		}
	}
}

// Stop cancels the workers and waits for them up to the stop timeout
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	cancel := wp.cancel
	wp.mu.Unlock()
	cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Infow("❀ Worker pool stopped, all workers exited cleanly")
	case <-time.After(wp.poolConfig.StopTimeout):
		wp.logger.Closing("Worker pool stop timed out, tasks may still be running", "timeout", wp.poolConfig.StopTimeout)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.poolConfig.PollInterval)
	defer ticker.Stop()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wp.wake:
		}

		// Drain the queue before waiting again.
		for {
			processed, err := wp.processNextTask(ctx)
			if err == nil {
				if errorCount > 0 {
					wp.logger.Infow("Worker recovered from errors", "worker_id", id, "previous_error_count", errorCount)
				}
				errorCount = 0
				backoff = time.Second
				if processed && ctx.Err() == nil {
					continue
				}
				break
			}

			if ctx.Err() != nil || errors.Is(err, sql.ErrConnDone) {
				return
			}
			errorCount++
			wp.logger.Errorw("Worker error processing task",
				"worker_id", id,
				"error", err,
				"consecutive_errors", errorCount)

			if errorCount >= maxConsecutiveErrors {
				wp.logger.Warnw("Worker backing off due to consecutive errors",
					"worker_id", id,
					"backoff", backoff,
					"consecutive_errors", errorCount)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				backoff = min(backoff*2, maxBackoff)
			}
			break
		}
	}
}

// processNextTask claims and runs one task. processed is false when the queue was empty.
func (wp *WorkerPool) processNextTask(ctx context.Context) (processed bool, err error) {
	if ctx.Err() != nil {
		return false, nil
	}

	task, err := wp.queue.Dequeue(ctx)
	if err != nil {
		return false, errors.Wrap(err, "failed to dequeue task")
	}
	if task == nil {
		return false, nil
	}

	wp.mu.Lock()
	wp.activeWorkers++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.tasksDone++
		wp.mu.Unlock()
	}()

	log := wp.logger.With("task_id", task.ID, "handler", task.HandlerName, "attempt", task.Attempts)
	start := time.Now()

	execErr := wp.execute(ctx, task)
	if execErr == nil {
		log.Debugw("Task completed", "duration_ms", time.Since(start).Milliseconds())
		return true, wp.queue.Complete(context.WithoutCancel(ctx), task)
	}

	// Shutdown mid-task: put it back for the next start.
	if ctx.Err() != nil {
		wp.logger.Closing("Task interrupted by shutdown, re-queuing", "task_id", task.ID)
		if err := wp.queue.Requeue(context.WithoutCancel(ctx), task, ""); err != nil {
			log.Errorw("Failed to re-queue interrupted task", "error", err)
		}
		return true, nil
	}

	ec := ClassifyError(task.HandlerName, execErr)
	if ec.Retryable && task.Attempts <= MaxRetries {
		log.Infow("꩜ Retry scheduled",
			"retry_count", task.Attempts,
			"max_retries", MaxRetries,
			"error_code", ec.Code,
			"error", execErr)
		reason := fmt.Sprintf("retry %d/%d: %v", task.Attempts, MaxRetries, execErr)
		return true, wp.queue.Requeue(ctx, task, reason)
	}

	log.Warnw("Task failed", "error_code", ec.Code, "error", execErr)
	return true, wp.queue.Fail(ctx, task, execErr)
}

// execute runs the task and converts a handler panic into a permanent error
func (wp *WorkerPool) execute(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(errors.Newf("handler %s panicked: %v", task.HandlerName, r))
		}
	}()
	return wp.executor.Execute(ctx, task)
}

// Queue returns the task queue
func (wp *WorkerPool) Queue() *Queue {
	return wp.queue
}

// TasksProcessed returns how many tasks this pool has run since creation
func (wp *WorkerPool) TasksProcessed() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.tasksDone
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// Registry returns the handler registry. Register handlers before Start:
//
//	pool := async.NewWorkerPool(ctx, queue, cfg, logger)
//	pool.Registry().Register(dispatch.NewPipelineHandler(engine))
//	pool.Start()
func (wp *WorkerPool) Registry() *HandlerRegistry {
	return wp.registry
}
