package async

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teranos/qaflow/db"
	qaflowtest "github.com/teranos/qaflow/internal/testing"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	return NewQueue(qaflowtest.CreateTestDB(t), db.DialectSQLite)
}

func mustTask(t *testing.T, handler string, payload any) *Task {
	t.Helper()
	task, err := NewTaskWithPayload(handler, payload)
	require.NoError(t, err)
	return task
}
