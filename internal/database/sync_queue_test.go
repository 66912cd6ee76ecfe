package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"offsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(resourceType, key string) *models.QueueRecord {
	return &models.QueueRecord{
		QueueEntry: models.QueueEntry{
			CorrelationKey: key,
			CreationTime:   time.Now(),
			ResourceType:   resourceType,
			Operation:      models.OperationInsert,
		},
		Payload: []byte(`{"kind":"resource"}`),
		Codec:   "json",
	}
}

func TestQueueStore_FIFO(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewQueueStore(db)

	for _, key := range []string{"a", "b", "c"} {
		_, err := store.Append(ctx, "out", newRecord("Patient", key))
		require.NoError(t, err)
	}
	_, err := store.Append(ctx, "in", newRecord("Patient", "other"))
	require.NoError(t, err)

	n, err := store.Count(ctx, "out")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	head, err := store.Peek(ctx, "out")
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "a", head.CorrelationKey)
	assert.Equal(t, "out", head.Queue)

	// Peek does not remove.
	again, err := store.Peek(ctx, "out")
	require.NoError(t, err)
	assert.Equal(t, head.ID, again.ID)

	var order []string
	for {
		rec, err := store.PopFront(ctx, "out")
		require.NoError(t, err)
		if rec == nil {
			break
		}
		order = append(order, rec.CorrelationKey)
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)

	n, err = store.Count(ctx, "in")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueueStore_EmptyQueue(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewQueueStore(db)

	rec, err := store.Peek(ctx, "out")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = store.PopFront(ctx, "out")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = store.Get(ctx, "out", 42)
	require.NoError(t, err)
	assert.Nil(t, rec)

	n, err := store.Count(ctx, "out")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueueStore_RoundTripFields(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewQueueStore(db)

	rec := newRecord("Bundle", "corr-1")
	rec.RetryCount = models.IntPtr(2)
	rec.OriginalQueue = "out"
	rec.Reason = "timeout"
	rec.DataFileKey = "abc"
	rec.Payload = nil

	id, err := store.Append(ctx, "deadletter", rec)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)

	got, err := store.Get(ctx, "deadletter", id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "corr-1", got.CorrelationKey)
	assert.Equal(t, 2, got.Retries())
	assert.Equal(t, "out", got.OriginalQueue)
	assert.Equal(t, "timeout", got.Reason)
	assert.Equal(t, "abc", got.DataFileKey)
	assert.Equal(t, models.OperationInsert, got.Operation)
	assert.WithinDuration(t, rec.CreationTime, got.CreationTime, time.Second)

	// Entries are scoped to their queue.
	other, err := store.Get(ctx, "out", id)
	require.NoError(t, err)
	assert.Nil(t, other)

	plain, err := store.Append(ctx, "out", newRecord("Patient", "p"))
	require.NoError(t, err)
	got, err = store.Get(ctx, "out", plain)
	require.NoError(t, err)
	assert.Nil(t, got.RetryCount)
	assert.Empty(t, got.OriginalQueue)
}

func TestQueueStore_ListAndDelete(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewQueueStore(db)

	var ids []int64
	for i := 0; i < 5; i++ {
		id, err := store.Append(ctx, "out", newRecord("Patient", "k"))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	page, err := store.List(ctx, "out", 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[0], page[0].ID)

	page, err = store.List(ctx, "out", page[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)

	require.NoError(t, store.Delete(ctx, "out", ids[2]))
	n, err := store.Count(ctx, "out")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	rec, err := store.Get(ctx, "out", ids[2])
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestQueueStore_ConcurrentPopFront(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewQueueStore(db)

	const total = 20
	for i := 0; i < total; i++ {
		_, err := store.Append(ctx, "out", newRecord("Patient", "k"))
		require.NoError(t, err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				rec, err := store.PopFront(ctx, "out")
				if !assert.NoError(t, err) || rec == nil {
					return
				}
				mu.Lock()
				assert.False(t, seen[rec.ID], "entry %d dequeued twice", rec.ID)
				seen[rec.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
}
