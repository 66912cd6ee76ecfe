package queue

import (
	"context"
	"errors"
	"strings"
	"testing"

	"offsync/internal/codec"
	"offsync/internal/models"
	"offsync/internal/repository"
	"offsync/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, name string, pattern models.SynchronizationPattern) (*Queue, *repository.MemoryQueueStore) {
	t.Helper()
	store := repository.NewMemoryQueueStore()
	return New(name, pattern, Options{Store: store}), store
}

func patient(key string) *models.Resource {
	return &models.Resource{Type: "Patient", Key: key, VersionKey: key + "-v1"}
}

func TestQueue_EnqueuePeekDequeue(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, models.QueueOutbound, models.LocalToUpstream)

	var ids []int64
	for _, key := range []string{"a", "b", "c"} {
		before, err := q.Count(ctx)
		require.NoError(t, err)

		entry, err := q.Enqueue(ctx, patient(key), models.OperationInsert)
		require.NoError(t, err)
		assert.NotZero(t, entry.ID)
		assert.NotEmpty(t, entry.CorrelationKey)
		assert.Equal(t, "Patient", entry.ResourceType)
		ids = append(ids, entry.ID)

		after, err := q.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, before+1, after)
	}

	head, err := q.Peek(ctx)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, ids[0], head.ID)
	res, ok := head.Data.(*models.Resource)
	require.True(t, ok)
	assert.Equal(t, "a", res.Key)

	for _, want := range ids {
		entry, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, want, entry.ID)
	}

	entry, err := q.Peek(ctx)
	require.NoError(t, err)
	assert.Nil(t, entry)
	entry, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestQueue_EnqueueValidation(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, "out", models.LocalToUpstream)

	_, err := q.Enqueue(ctx, nil, models.OperationInsert)
	assert.Error(t, err)

	_, err = q.Enqueue(ctx, patient("a"), models.Operation("upsert"))
	assert.Error(t, err)
}

func TestQueue_CorrelationKeyFromPayload(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, "out", models.LocalToUpstream)

	b := models.NewBundle(patient("a"))
	b.CorrelationKey = "corr-123"
	entry, err := q.Enqueue(ctx, b, models.OperationUpdate)
	require.NoError(t, err)
	assert.Equal(t, "corr-123", entry.CorrelationKey)
	assert.Equal(t, models.TypeBundle, entry.ResourceType)
}

func TestQueue_Hooks(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, "out", models.LocalToUpstream)

	var posted []int64
	q.OnPostEnqueue(func(_ context.Context, ev *EnqueueEvent) {
		assert.Same(t, q, ev.Queue)
		posted = append(posted, ev.Entry.ID)
	})
	q.OnPreEnqueue(func(_ context.Context, ev *EnqueueEvent) bool {
		res, ok := ev.Entry.Data.(*models.Resource)
		return !ok || res.Key != "veto"
	})

	entry, err := q.Enqueue(ctx, patient("ok"), models.OperationInsert)
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, patient("veto"), models.OperationInsert)
	assert.ErrorIs(t, err, ErrEnqueueCancelled)

	assert.Equal(t, []int64{entry.ID}, posted)
	n, _ := q.Count(ctx)
	assert.Equal(t, 1, n)
}

func TestQueue_EnqueueFromDeadLetterRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryQueueStore()
	out := New(models.QueueOutbound, models.LocalToUpstream, Options{Store: store})
	dl := New(models.QueueDeadLetter, models.DeadLetter, Options{Store: store})

	original, err := out.Enqueue(ctx, patient("f"), models.OperationUpdate)
	require.NoError(t, err)

	head, err := out.Peek(ctx)
	require.NoError(t, err)

	dead, err := dl.EnqueueFrom(ctx, head, "validation failed")
	require.NoError(t, err)
	assert.Equal(t, original.CorrelationKey, dead.CorrelationKey)
	assert.Equal(t, models.QueueOutbound, dead.OriginalQueue)
	assert.Equal(t, "validation failed", dead.Reason)
	assert.Equal(t, 1, dead.Retries())

	// The source entry is not removed by EnqueueFrom.
	n, _ := out.Count(ctx)
	assert.Equal(t, 1, n)

	stored, err := dl.Get(ctx, dead.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.QueueOutbound, stored.OriginalQueue)

	// Copying a dead-letter entry within dead-letter keeps the first origin.
	again, err := dl.EnqueueFrom(ctx, stored, "again")
	require.NoError(t, err)
	assert.Equal(t, models.QueueOutbound, again.OriginalQueue)

	retried, err := out.EnqueueFrom(ctx, stored, models.ReasonRetry)
	require.NoError(t, err)
	assert.Equal(t, original.CorrelationKey, retried.CorrelationKey)
	assert.Empty(t, retried.OriginalQueue)
	assert.Equal(t, 2, retried.Retries())

	got, err := out.Get(ctx, retried.ID)
	require.NoError(t, err)
	assert.Equal(t, head.Data, got.Data)
	assert.True(t, got.IsRetry())
}

func TestQueue_UndecodablePayload(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryQueueStore()
	out := New(models.QueueOutbound, models.LocalToUpstream, Options{Store: store})
	dl := New(models.QueueDeadLetter, models.DeadLetter, Options{Store: store})

	rec := &models.QueueRecord{
		QueueEntry: models.QueueEntry{CorrelationKey: "bad", ResourceType: "Patient", Operation: models.OperationInsert},
		Payload:    []byte("{not json"),
		Codec:      "json",
	}
	_, err := store.Append(ctx, models.QueueOutbound, rec)
	require.NoError(t, err)

	head, err := out.Peek(ctx)
	assert.ErrorIs(t, err, ErrUndecodable)
	require.NotNil(t, head)
	assert.Nil(t, head.Data)

	// The raw bytes still move to dead-letter.
	dead, err := dl.EnqueueFrom(ctx, head, "undecodable")
	require.NoError(t, err)
	raw, err := store.Get(ctx, models.QueueDeadLetter, dead.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("{not json"), raw.Payload)
}

func TestQueue_LargePayloadGoesToBlobStore(t *testing.T) {
	ctx := context.Background()
	blobs, err := storage.NewFileBlobStore(t.TempDir())
	require.NoError(t, err)
	cborCodec, err := codec.New("cbor")
	require.NoError(t, err)

	store := repository.NewMemoryQueueStore()
	q := New("out", models.LocalToUpstream, Options{Store: store, Blobs: blobs, InlineThreshold: 256, Codec: cborCodec})

	big := patient("big")
	big.Attributes = map[string]interface{}{"notes": strings.Repeat("x", 1024)}
	entry, err := q.Enqueue(ctx, big, models.OperationInsert)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.DataFileKey)

	raw, err := store.Get(ctx, "out", entry.ID)
	require.NoError(t, err)
	assert.Empty(t, raw.Payload)
	assert.Equal(t, "cbor", raw.Codec)

	got, err := q.Peek(ctx)
	require.NoError(t, err)
	res := got.Data.(*models.Resource)
	assert.Equal(t, big.Attributes["notes"], res.Attributes["notes"])

	small, err := q.Enqueue(ctx, patient("s"), models.OperationInsert)
	require.NoError(t, err)
	assert.Empty(t, small.DataFileKey)
}

func TestQueue_MixedCodecs(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryQueueStore()
	jsonQ := New("out", models.LocalToUpstream, Options{Store: store})
	cborCodec, _ := codec.New("cbor")
	cborQ := New("out", models.LocalToUpstream, Options{Store: store, Codec: cborCodec})

	_, err := jsonQ.Enqueue(ctx, patient("j"), models.OperationInsert)
	require.NoError(t, err)

	got, err := cborQ.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, "j", got.Data.(*models.Resource).Key)
}

func TestQueue_GetDeleteQuery(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, "out", models.LocalToUpstream)

	var ids []int64
	for i := 0; i < 250; i++ {
		key := "k"
		if i%50 == 0 {
			key = "match"
		}
		e, err := q.Enqueue(ctx, patient(key), models.OperationInsert)
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}

	var matched []int64
	for entry, err := range q.Query(ctx, func(e *models.QueueEntry) bool {
		return e.Data.(*models.Resource).Key == "match"
	}) {
		require.NoError(t, err)
		matched = append(matched, entry.ID)
	}
	assert.Equal(t, []int64{ids[0], ids[50], ids[100], ids[150], ids[200]}, matched)

	// Early termination.
	seen := 0
	for range q.Query(ctx, nil) {
		seen++
		if seen == 3 {
			break
		}
	}
	assert.Equal(t, 3, seen)

	require.NoError(t, q.Delete(ctx, ids[0]))
	gone, err := q.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Nil(t, gone)

	n, _ := q.Count(ctx)
	assert.Equal(t, 249, n)
}

type failingStore struct {
	*repository.MemoryQueueStore
}

func (failingStore) Append(context.Context, string, *models.QueueRecord) (int64, error) {
	return 0, errors.New("disk full")
}

func TestQueue_StoreErrors(t *testing.T) {
	ctx := context.Background()
	q := New("out", models.LocalToUpstream, Options{Store: failingStore{repository.NewMemoryQueueStore()}})

	posted := false
	q.OnPostEnqueue(func(context.Context, *EnqueueEvent) { posted = true })

	_, err := q.Enqueue(ctx, patient("a"), models.OperationInsert)
	assert.ErrorContains(t, err, "disk full")
	assert.False(t, posted)
}
