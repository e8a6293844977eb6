package async

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(name string) HandlerFunc {
	return HandlerFunc{HandlerName: name, Fn: func(context.Context, *Task) error { return nil }}
}

func TestHandlerRegistry(t *testing.T) {
	r := NewHandlerRegistry()
	r.Register(noop("qa.pipeline"))
	r.Register(noop("jobs.sweep"))

	assert.True(t, r.Has("qa.pipeline"))
	assert.False(t, r.Has("missing"))
	assert.Nil(t, r.Get("missing"))
	assert.Equal(t, []string{"jobs.sweep", "qa.pipeline"}, r.Names())

	assert.Panics(t, func() { r.Register(noop("qa.pipeline")) })
}

func TestRegistryExecutor(t *testing.T) {
	r := NewHandlerRegistry()
	var seen string
	r.Register(HandlerFunc{HandlerName: "qa.pipeline", Fn: func(_ context.Context, task *Task) error {
		seen = task.ID
		return nil
	}})
	exec := NewRegistryExecutor(r)

	task := mustTask(t, "qa.pipeline", nil)
	require.NoError(t, exec.Execute(context.Background(), task))
	assert.Equal(t, task.ID, seen)

	err := exec.Execute(context.Background(), mustTask(t, "missing", nil))
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	err = exec.Execute(context.Background(), &Task{ID: "x"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}
