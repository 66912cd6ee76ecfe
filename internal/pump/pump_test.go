package pump

import (
	"context"
	"errors"
	"testing"
	"time"

	"offsync/internal/models"
	"offsync/internal/queue"
	"offsync/internal/repository"
	"offsync/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("connection refused")

func isTransient(err error) bool { return errors.Is(err, errTransient) }

type fixture struct {
	store *repository.MemoryQueueStore
	out   *queue.Queue
	dead  *queue.Queue
}

func newFixture(t *testing.T, keys ...string) *fixture {
	t.Helper()
	store := repository.NewMemoryQueueStore()
	f := &fixture{
		store: store,
		out:   queue.New(models.QueueOutbound, models.LocalToUpstream, queue.Options{Store: store}),
		dead:  queue.New(models.QueueDeadLetter, models.DeadLetter, queue.Options{Store: store}),
	}
	for _, key := range keys {
		_, err := f.out.Enqueue(context.Background(), &models.Resource{Type: "Patient", Key: key}, models.OperationInsert)
		require.NoError(t, err)
	}
	return f
}

func count(t *testing.T, q *queue.Queue) int {
	t.Helper()
	n, err := q.Count(context.Background())
	require.NoError(t, err)
	return n
}

func keyOf(entry *models.QueueEntry) string {
	if res, ok := entry.Data.(*models.Resource); ok {
		return res.Key
	}
	return ""
}

func TestRun_DrainsInOrder(t *testing.T) {
	f := newFixture(t, "a", "b", "c")

	var seen []string
	err := Run(context.Background(), f.out, func(_ context.Context, e *models.QueueEntry) (bool, error) {
		seen = append(seen, keyOf(e))
		return true, nil
	}, Options{})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, seen)
	assert.Zero(t, count(t, f.out))
}

func TestRun_EmptyQueue(t *testing.T) {
	f := newFixture(t)
	called := false
	err := Run(context.Background(), f.out, func(context.Context, *models.QueueEntry) (bool, error) {
		called = true
		return true, nil
	}, Options{})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestRun_CallbackStopDequeuesCurrent(t *testing.T) {
	f := newFixture(t, "a", "b")

	calls := 0
	err := Run(context.Background(), f.out, func(context.Context, *models.QueueEntry) (bool, error) {
		calls++
		return false, nil
	}, Options{})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, count(t, f.out))
	head, err := f.out.Peek(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", keyOf(head))
}

func TestRun_BeforeAndAfterHooks(t *testing.T) {
	f := newFixture(t, "a")

	afterCalled := false
	err := Run(context.Background(), f.out, func(context.Context, *models.QueueEntry) (bool, error) {
		t.Fatal("callback must not run when before declines")
		return true, nil
	}, Options{
		Before: func(context.Context) bool { return false },
		After:  func(context.Context) { afterCalled = true },
	})
	require.NoError(t, err)
	assert.False(t, afterCalled)
	assert.Equal(t, 1, count(t, f.out))

	err = Run(context.Background(), f.out, func(context.Context, *models.QueueEntry) (bool, error) {
		return true, nil
	}, Options{
		Before: func(context.Context) bool { return true },
		After:  func(context.Context) { afterCalled = true },
	})
	require.NoError(t, err)
	assert.True(t, afterCalled)
}

func TestRun_UnhandledErrorDequeuesAndPropagates(t *testing.T) {
	f := newFixture(t, "a", "b")
	boom := errors.New("boom")

	afterCalled := false
	err := Run(context.Background(), f.out, func(context.Context, *models.QueueEntry) (bool, error) {
		return false, boom
	}, Options{After: func(context.Context) { afterCalled = true }})

	assert.ErrorIs(t, err, boom)
	assert.True(t, afterCalled)
	assert.Equal(t, 1, count(t, f.out), "failed entry is dequeued exactly once")
}

func TestRun_ErrorPolicyDispositions(t *testing.T) {
	boom := errors.New("boom")
	failing := func(context.Context, *models.QueueEntry) (bool, error) { return false, boom }

	tests := []struct {
		name        string
		disposition Disposition
		remaining   int
	}{
		{"continue", Continue, 0},
		{"abort", Abort, 2},
		{"retain", Retain, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "a", "b", "c")
			err := Run(context.Background(), f.out, failing, Options{
				Error: func(context.Context, *models.QueueEntry, error) Disposition { return tt.disposition },
			})
			require.NoError(t, err)
			assert.Equal(t, tt.remaining, count(t, f.out))
		})
	}
}

func TestRunDefault_DeadLettersPermanentFailures(t *testing.T) {
	f := newFixture(t, "a", "b", "c")

	err := RunDefault(context.Background(), f.out, func(_ context.Context, e *models.QueueEntry) (bool, error) {
		if keyOf(e) == "b" {
			return false, errors.New("validation failed")
		}
		return true, nil
	}, f.dead, isTransient, Options{})

	require.NoError(t, err)
	assert.Zero(t, count(t, f.out))
	require.Equal(t, 1, count(t, f.dead))

	dead, err := f.dead.Peek(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", keyOf(dead))
	assert.Equal(t, models.QueueOutbound, dead.OriginalQueue)
	assert.Equal(t, "validation failed", dead.Reason)
	assert.Equal(t, 1, dead.Retries())
}

func TestRunDefault_RetainsOnCommunicationFailure(t *testing.T) {
	f := newFixture(t, "a", "b")

	calls := 0
	err := RunDefault(context.Background(), f.out, func(context.Context, *models.QueueEntry) (bool, error) {
		calls++
		return false, errTransient
	}, f.dead, isTransient, Options{})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, count(t, f.out))
	assert.Zero(t, count(t, f.dead))
}

func TestRunDefault_UndecodableEntryIsDeadLettered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.store.Append(ctx, models.QueueOutbound, &models.QueueRecord{
		QueueEntry: models.QueueEntry{CorrelationKey: "poison", ResourceType: "Patient", Operation: models.OperationInsert},
		Payload:    []byte("{not json"),
		Codec:      "json",
	})
	require.NoError(t, err)
	_, err = f.out.Enqueue(ctx, &models.Resource{Type: "Patient", Key: "good"}, models.OperationInsert)
	require.NoError(t, err)

	var seen []string
	err = RunDefault(ctx, f.out, func(_ context.Context, e *models.QueueEntry) (bool, error) {
		seen = append(seen, keyOf(e))
		return true, nil
	}, f.dead, isTransient, Options{})

	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, seen)
	assert.Zero(t, count(t, f.out))
	assert.Equal(t, 1, count(t, f.dead))
}

func TestRun_CallbackRetry(t *testing.T) {
	f := newFixture(t, "a")

	calls := 0
	err := Run(context.Background(), f.out, func(context.Context, *models.QueueEntry) (bool, error) {
		calls++
		if calls < 3 {
			return false, errors.New("flaky")
		}
		return true, nil
	}, Options{CallbackRetry: &worker.RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond}})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Zero(t, count(t, f.out))
}

func TestRun_StopsOnCancelledContext(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Run(ctx, f.out, func(context.Context, *models.QueueEntry) (bool, error) {
		calls++
		cancel()
		return true, nil
	}, Options{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, count(t, f.out))
}

func TestDisposition_String(t *testing.T) {
	assert.Equal(t, "unhandled", Unhandled.String())
	assert.Equal(t, "continue", Continue.String())
	assert.Equal(t, "abort", Abort.String())
	assert.Equal(t, "retain", Retain.String())
}
