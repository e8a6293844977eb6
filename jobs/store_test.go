package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/qaflow/db"
	"github.com/teranos/qaflow/errors"
	qaflowtest "github.com/teranos/qaflow/internal/testing"
)

// fakeClock is a settable clock shared by a store under test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	return NewStore(qaflowtest.CreateTestDB(t), db.DialectSQLite, WithClock(clock.Now)), clock
}

func seedJob(t *testing.T, store *Store, id string) *Job {
	t.Helper()
	job := New(id, "What are your storage rates?", json.RawMessage(`{"tier":"gold"}`), store.Now(), 24*time.Hour)
	require.NoError(t, store.Create(context.Background(), job))
	return job
}

func TestCreateAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	created := seedJob(t, store, "job-1")

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Equal(t, "What are your storage rates?", got.Question)
	assert.JSONEq(t, `{"tier":"gold"}`, string(got.Context))
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, created.ExpiresAt.Unix(), got.ExpiresAt.Unix())
	assert.Nil(t, got.Result)
	assert.Empty(t, got.Error)
	assert.Nil(t, got.Progress)
}

func TestCreateDefaultsContext(t *testing.T) {
	store, _ := newTestStore(t)
	job := New("job-ctx", "q", nil, store.Now(), time.Hour)
	require.NoError(t, store.Create(context.Background(), job))

	got, err := store.Get(context.Background(), "job-ctx")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(got.Context))
}

func TestCreateDuplicate(t *testing.T) {
	store, _ := newTestStore(t)
	seedJob(t, store, "dup")

	err := store.Create(context.Background(), New("dup", "another", nil, store.Now(), time.Hour))
	require.Error(t, err)
	assert.True(t, errors.IsAlreadyExists(err))

	got, err := store.Get(context.Background(), "dup")
	require.NoError(t, err)
	assert.Equal(t, "What are your storage rates?", got.Question, "original record must survive")
}

func TestCreateRejectsBrokenInvariant(t *testing.T) {
	store, _ := newTestStore(t)
	job := New("bad", "q", nil, store.Now(), time.Hour)
	job.Error = "premature"

	err := store.Create(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestGetUnknown(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "never-created")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestExpiredJobIsNotFound(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	seedJob(t, store, "old")

	require.NoError(t, store.Update(ctx, "old", Completed(json.RawMessage(`{"answer":"42"}`)), Expect(StatusProcessing)))

	clock.Advance(24*time.Hour + time.Second)

	_, err := store.Get(ctx, "old")
	assert.True(t, errors.IsNotFoundError(err))

	err = store.Update(ctx, "old", Failed("late"), nil)
	assert.True(t, errors.IsNotFoundError(err), "expired records are not updatable")

	n, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUpdateProgressThenComplete(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	seedJob(t, store, "job-p")

	clock.Advance(2 * time.Second)
	progress := &Progress{
		Category:  "factual_direct",
		Route:     []string{"classify", "lookup"},
		Completed: []StageRecord{{Stage: "classify", Attempts: 1, DurationMS: 12}},
		Current:   1,
		Total:     2,
	}
	require.NoError(t, store.Update(ctx, "job-p", Advance(progress), Expect(StatusProcessing)))

	got, err := store.Get(ctx, "job-p")
	require.NoError(t, err)
	require.NotNil(t, got.Progress)
	assert.Equal(t, progress.Route, got.Progress.Route)
	assert.Equal(t, 1, got.Progress.Current)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	require.NoError(t, store.Update(ctx, "job-p", Completed(json.RawMessage(`{"answer":"yes"}`)), Expect(StatusProcessing)))

	got, err = store.Get(ctx, "job-p")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.JSONEq(t, `{"answer":"yes"}`, string(got.Result))
	assert.Empty(t, got.Error)
}

func TestTerminalStatesAreMonotonic(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	seedJob(t, store, "job-t")

	require.NoError(t, store.Update(ctx, "job-t", Failed("reasoning unavailable"), Expect(StatusProcessing)))

	tests := []struct {
		name     string
		update   Update
		expected *Status
	}{
		{"conditional complete", Completed(json.RawMessage(`{"answer":"x"}`)), Expect(StatusProcessing)},
		{"unconditional complete", Completed(json.RawMessage(`{"answer":"x"}`)), nil},
		{"progress after terminal", Advance(&Progress{Current: 2}), nil},
		{"expecting the terminal status", Failed("again"), Expect(StatusFailed)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Update(ctx, "job-t", tt.update, tt.expected)
			require.Error(t, err)
			assert.True(t, errors.IsConditionFailed(err), "got %v", err)
		})
	}

	got, err := store.Get(ctx, "job-t")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "reasoning unavailable", got.Error)
	assert.Nil(t, got.Result)
}

func TestUpdateUnknownJob(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.Update(context.Background(), "ghost", Failed("x"), Expect(StatusProcessing))
	assert.True(t, errors.IsNotFoundError(err))
}

func TestUpdateValidation(t *testing.T) {
	store, _ := newTestStore(t)
	seedJob(t, store, "job-v")

	completed := StatusCompleted
	failed := StatusFailed
	bogus := Status("paused")
	msg := "boom"

	tests := []struct {
		name   string
		update Update
	}{
		{"empty patch", Update{}},
		{"unknown status", Update{Status: &bogus}},
		{"completed without result", Update{Status: &completed}},
		{"completed with invalid json", Update{Status: &completed, Result: json.RawMessage(`{nope`)}},
		{"completed with error", Update{Status: &completed, Result: json.RawMessage(`{}`), Error: &msg}},
		{"failed without error", Update{Status: &failed}},
		{"failed with result", Update{Status: &failed, Error: &msg, Result: json.RawMessage(`{}`)}},
		{"result without status", Update{Result: json.RawMessage(`{}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Update(context.Background(), "job-v", tt.update, nil)
			require.Error(t, err)
			assert.True(t, errors.IsInvalidRequestError(err))
		})
	}

	got, err := store.Get(context.Background(), "job-v")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
}

func TestConcurrentTerminalWritesHaveOneWinner(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	seedJob(t, store, "race")

	const writers = 8
	var wg sync.WaitGroup
	results := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var u Update
			if i%2 == 0 {
				u = Completed(json.RawMessage(`{"answer":"done"}`))
			} else {
				u = Failed("lost")
			}
			results <- store.Update(ctx, "race", u, Expect(StatusProcessing))
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.IsConditionFailed(err), "losers must see ConditionFailed, got %v", err)
	}
	assert.Equal(t, 1, wins)

	first, err := store.Get(ctx, "race")
	require.NoError(t, err)
	require.True(t, first.Status.IsTerminal())
	if first.Status == StatusCompleted {
		assert.Empty(t, first.Error)
		assert.NotNil(t, first.Result)
	} else {
		assert.Nil(t, first.Result)
		assert.NotEmpty(t, first.Error)
	}

	for i := 0; i < 3; i++ {
		again, err := store.Get(ctx, "race")
		require.NoError(t, err)
		assert.Equal(t, first.Status, again.Status)
	}
}

func TestCountByStatus(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	seedJob(t, store, "a")
	seedJob(t, store, "b")
	seedJob(t, store, "c")
	require.NoError(t, store.Update(ctx, "c", Failed("x"), nil))

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[StatusProcessing])
	assert.Equal(t, 1, counts[StatusFailed])
}
