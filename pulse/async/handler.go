package async

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/teranos/qaflow/errors"
)

// TaskHandler executes one kind of task.
// Domain packages implement it and register under a handler name; the worker
// pool routes tasks by HandlerName without knowing their payloads.
type TaskHandler interface {
	// Execute runs the task. Handlers should return promptly once ctx is done.
	Execute(ctx context.Context, task *Task) error

	// Name returns the handler name tasks are routed by (e.g. "qa.pipeline")
	Name() string
}

// TaskExecutor runs a task by whatever means
type TaskExecutor interface {
	Execute(ctx context.Context, task *Task) error
}

// HandlerRegistry manages task handlers by name.
// Thread-safe for concurrent handler registration and lookup.
type HandlerRegistry struct {
	handlers map[string]TaskHandler
	mu       sync.RWMutex
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]TaskHandler),
	}
}

// Register adds a handler using its name.
// Panics if a handler is already registered with that name.
func (r *HandlerRegistry) Register(handler TaskHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := handler.Name()
	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("handler already registered for name: %s", name))
	}
	r.handlers[name] = handler
}

// Get retrieves the handler for a handler name, or nil.
func (r *HandlerRegistry) Get(name string) TaskHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}

// Has checks if a handler is registered for a name.
func (r *HandlerRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[name]
	return exists
}

// Names returns all registered handler names, sorted.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegistryExecutor dispatches tasks to the handler registered for their name.
type RegistryExecutor struct {
	registry *HandlerRegistry
}

// NewRegistryExecutor creates an executor backed by a handler registry.
func NewRegistryExecutor(registry *HandlerRegistry) *RegistryExecutor {
	return &RegistryExecutor{registry: registry}
}

// Execute implements TaskExecutor. Unknown handler names are permanent failures.
func (e *RegistryExecutor) Execute(ctx context.Context, task *Task) error {
	if task.HandlerName == "" {
		return Permanent(errors.New("task missing handler_name"))
	}
	handler := e.registry.Get(task.HandlerName)
	if handler == nil {
		return Permanent(errors.Newf("no handler registered for handler name: %s", task.HandlerName))
	}
	return handler.Execute(ctx, task)
}

// HandlerFunc adapts a function to TaskHandler
type HandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, task *Task) error
}

func (h HandlerFunc) Execute(ctx context.Context, task *Task) error {
	return h.Fn(ctx, task)
}

func (h HandlerFunc) Name() string {
	return h.HandlerName
}
