// Package queue implements durable FIFO work queues and the registry of the
// well-known synchronization queues.
package queue

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"offsync/internal/codec"
	"offsync/internal/domain"
	"offsync/internal/metrics"
	"offsync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrEnqueueCancelled is returned when a pre-enqueue hook vetoes an entry.
	ErrEnqueueCancelled = errors.New("enqueue cancelled")

	// ErrUndecodable marks an entry whose stored payload cannot be decoded.
	// The entry itself is still returned so it can be dead-lettered.
	ErrUndecodable = errors.New("undecodable queue payload")
)

// EnqueueEvent describes an entry being added to a queue.
type EnqueueEvent struct {
	Queue *Queue
	Entry *models.QueueEntry
}

// PreEnqueueHook may cancel an enqueue by returning false.
type PreEnqueueHook func(ctx context.Context, ev *EnqueueEvent) bool

// PostEnqueueHook observes an entry after it has been persisted.
type PostEnqueueHook func(ctx context.Context, ev *EnqueueEvent)

// Options configures the storage side of a queue.
type Options struct {
	Store           domain.QueueStore
	Codec           codec.Codec
	Blobs           domain.BlobStore
	InlineThreshold int
	Logger          *zerolog.Logger
}

// Queue is a durable, ordered, at-least-once FIFO store of work items.
// A queue is not safe for two concurrent consumers; producers may enqueue concurrently.
type Queue struct {
	name            string
	pattern         models.SynchronizationPattern
	store           domain.QueueStore
	codec           codec.Codec
	blobs           domain.BlobStore
	inlineThreshold int
	logger          *zerolog.Logger

	mu        sync.RWMutex
	preHooks  []PreEnqueueHook
	postHooks []PostEnqueueHook
}

func New(name string, pattern models.SynchronizationPattern, opts Options) *Queue {
	if opts.Codec == nil {
		opts.Codec = codec.JSON{}
	}
	if opts.InlineThreshold <= 0 {
		opts.InlineThreshold = models.DefaultInlineThreshold
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	logger := opts.Logger.With().Str("queue", name).Logger()
	return &Queue{
		name:            name,
		pattern:         pattern.Normalize(),
		store:           opts.Store,
		codec:           opts.Codec,
		blobs:           opts.Blobs,
		inlineThreshold: opts.InlineThreshold,
		logger:          &logger,
	}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) Pattern() models.SynchronizationPattern { return q.pattern }

// OnPreEnqueue registers a hook that runs before an entry is stored.
func (q *Queue) OnPreEnqueue(hook PreEnqueueHook) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.preHooks = append(q.preHooks, hook)
}

// OnPostEnqueue registers a hook that runs after an entry is stored.
func (q *Queue) OnPostEnqueue(hook PostEnqueueHook) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.postHooks = append(q.postHooks, hook)
}

// Enqueue appends data as a new entry. The correlation key is taken from the
// payload when it carries one, otherwise a fresh one is generated.
func (q *Queue) Enqueue(ctx context.Context, data models.Payload, op models.Operation) (*models.QueueEntry, error) {
	if data == nil {
		return nil, fmt.Errorf("queue %s: nil payload", q.name)
	}
	if !op.Valid() {
		return nil, fmt.Errorf("queue %s: invalid operation %q", q.name, op)
	}

	correlationKey := ""
	if c, ok := data.(models.Correlated); ok {
		correlationKey = c.GetCorrelationKey()
	}
	if correlationKey == "" {
		correlationKey = uuid.NewString()
	}

	entry := &models.QueueEntry{
		CorrelationKey: correlationKey,
		CreationTime:   time.Now().UTC(),
		ResourceType:   data.PayloadType(),
		Operation:      op,
		Queue:          q.name,
		Data:           data,
	}

	if err := q.append(ctx, entry, nil); err != nil {
		return nil, err
	}
	return entry, nil
}

// EnqueueFrom copies another entry into this queue, keeping its correlation
// key and payload and bumping its retry count. Dead-letter queues also record
// where the entry came from. The source entry is left where it is.
func (q *Queue) EnqueueFrom(ctx context.Context, other *models.QueueEntry, reason string) (*models.QueueEntry, error) {
	if other == nil {
		return nil, fmt.Errorf("queue %s: nil source entry", q.name)
	}

	entry := &models.QueueEntry{
		CorrelationKey: other.CorrelationKey,
		CreationTime:   time.Now().UTC(),
		ResourceType:   other.ResourceType,
		Operation:      other.Operation,
		RetryCount:     models.IntPtr(other.Retries() + 1),
		Queue:          q.name,
		Data:           other.Data,
		Reason:         reason,
	}
	if q.pattern.Has(models.DeadLetter) {
		entry.OriginalQueue = other.Queue
		if other.IsDeadLetter() {
			entry.OriginalQueue = other.OriginalQueue
		}
	}
	if entry.CorrelationKey == "" {
		entry.CorrelationKey = uuid.NewString()
	}

	var raw *models.QueueRecord
	if other.Data == nil {
		// Copy the stored bytes as-is; the payload may not be decodable.
		src, err := q.sourceRecord(ctx, other)
		if err != nil {
			return nil, err
		}
		raw = src
	}

	if err := q.append(ctx, entry, raw); err != nil {
		return nil, err
	}
	return entry, nil
}

func (q *Queue) sourceRecord(ctx context.Context, other *models.QueueEntry) (*models.QueueRecord, error) {
	if other.Queue != "" {
		rec, err := q.store.Get(ctx, other.Queue, other.ID)
		if err != nil {
			return nil, fmt.Errorf("queue %s: load source entry %d: %w", q.name, other.ID, err)
		}
		if rec != nil {
			return rec, nil
		}
	}
	if other.DataFileKey != "" {
		return &models.QueueRecord{QueueEntry: models.QueueEntry{DataFileKey: other.DataFileKey}, Codec: q.codec.Name()}, nil
	}
	return nil, fmt.Errorf("queue %s: source entry %d has no payload", q.name, other.ID)
}

func (q *Queue) append(ctx context.Context, entry *models.QueueEntry, raw *models.QueueRecord) error {
	ev := &EnqueueEvent{Queue: q, Entry: entry}

	q.mu.RLock()
	pre := append([]PreEnqueueHook(nil), q.preHooks...)
	post := append([]PostEnqueueHook(nil), q.postHooks...)
	q.mu.RUnlock()

	for _, hook := range pre {
		if !hook(ctx, ev) {
			q.logger.Debug().Str("correlation_key", entry.CorrelationKey).Msg("enqueue cancelled by hook")
			return ErrEnqueueCancelled
		}
	}

	rec := &models.QueueRecord{QueueEntry: *entry}
	if raw != nil {
		rec.Payload = raw.Payload
		rec.Codec = raw.Codec
		rec.DataFileKey = raw.DataFileKey
	} else if err := q.encode(ctx, rec); err != nil {
		return err
	}

	id, err := q.store.Append(ctx, q.name, rec)
	if err != nil {
		return fmt.Errorf("queue %s: %w", q.name, err)
	}
	entry.ID = id
	entry.DataFileKey = rec.DataFileKey
	metrics.IncEnqueued(q.name)

	q.logger.Debug().
		Int64("entry_id", id).
		Str("correlation_key", entry.CorrelationKey).
		Str("resource_type", entry.ResourceType).
		Str("operation", string(entry.Operation)).
		Msg("entry enqueued")

	for _, hook := range post {
		hook(ctx, ev)
	}
	return nil
}

func (q *Queue) encode(ctx context.Context, rec *models.QueueRecord) error {
	data, err := q.codec.Encode(rec.Data)
	if err != nil {
		return fmt.Errorf("queue %s: encode payload: %w", q.name, err)
	}
	rec.Codec = q.codec.Name()

	if q.blobs != nil && len(data) > q.inlineThreshold {
		key, err := q.blobs.Put(ctx, data)
		if err != nil {
			return fmt.Errorf("queue %s: store payload blob: %w", q.name, err)
		}
		rec.DataFileKey = key
		return nil
	}
	rec.Payload = data
	return nil
}

// hydrate turns a stored record into an entry with its payload decoded.
// On decode failure the entry is returned without Data alongside ErrUndecodable.
func (q *Queue) hydrate(ctx context.Context, rec *models.QueueRecord) (*models.QueueEntry, error) {
	if rec == nil {
		return nil, nil
	}
	entry := rec.QueueEntry
	entry.Queue = q.name

	data := rec.Payload
	if rec.DataFileKey != "" {
		if q.blobs == nil {
			return &entry, fmt.Errorf("%w: entry %d references blob %s but no blob store is configured", ErrUndecodable, rec.ID, rec.DataFileKey)
		}
		blob, err := q.blobs.Get(ctx, rec.DataFileKey)
		if err != nil {
			return &entry, fmt.Errorf("%w: entry %d: %v", ErrUndecodable, rec.ID, err)
		}
		data = blob
	}
	if len(data) == 0 {
		return &entry, nil
	}

	c := q.codec
	if rec.Codec != "" && rec.Codec != c.Name() {
		other, err := codec.New(rec.Codec)
		if err != nil {
			return &entry, fmt.Errorf("%w: entry %d: %v", ErrUndecodable, rec.ID, err)
		}
		c = other
	}
	payload, err := c.Decode(data)
	if err != nil {
		return &entry, fmt.Errorf("%w: entry %d: %v", ErrUndecodable, rec.ID, err)
	}
	entry.Data = payload
	return &entry, nil
}

// Peek returns the oldest entry without removing it, or nil when empty.
func (q *Queue) Peek(ctx context.Context) (*models.QueueEntry, error) {
	rec, err := q.store.Peek(ctx, q.name)
	if err != nil {
		return nil, fmt.Errorf("queue %s: peek: %w", q.name, err)
	}
	return q.hydrate(ctx, rec)
}

// Dequeue removes and returns the oldest entry, or nil when empty.
func (q *Queue) Dequeue(ctx context.Context) (*models.QueueEntry, error) {
	rec, err := q.store.PopFront(ctx, q.name)
	if err != nil {
		return nil, fmt.Errorf("queue %s: dequeue: %w", q.name, err)
	}
	if rec == nil {
		return nil, nil
	}
	metrics.IncDequeued(q.name)
	q.logger.Debug().Int64("entry_id", rec.ID).Str("correlation_key", rec.CorrelationKey).Msg("entry dequeued")
	return q.hydrate(ctx, rec)
}

func (q *Queue) Count(ctx context.Context) (int, error) {
	n, err := q.store.Count(ctx, q.name)
	if err != nil {
		return 0, fmt.Errorf("queue %s: count: %w", q.name, err)
	}
	return n, nil
}

// Get returns the entry with the id, or nil when it is not on this queue.
func (q *Queue) Get(ctx context.Context, id int64) (*models.QueueEntry, error) {
	rec, err := q.store.Get(ctx, q.name, id)
	if err != nil {
		return nil, fmt.Errorf("queue %s: get %d: %w", q.name, id, err)
	}
	return q.hydrate(ctx, rec)
}

func (q *Queue) Delete(ctx context.Context, id int64) error {
	if err := q.store.Delete(ctx, q.name, id); err != nil {
		return fmt.Errorf("queue %s: delete %d: %w", q.name, id, err)
	}
	return nil
}

const queryPageSize = 100

// Query lazily yields the entries matching predicate in queue order. A nil
// predicate matches everything. Entries are read in pages as iteration proceeds.
func (q *Queue) Query(ctx context.Context, predicate func(*models.QueueEntry) bool) iter.Seq2[*models.QueueEntry, error] {
	return func(yield func(*models.QueueEntry, error) bool) {
		var after int64
		for {
			page, err := q.store.List(ctx, q.name, after, queryPageSize)
			if err != nil {
				yield(nil, fmt.Errorf("queue %s: list: %w", q.name, err))
				return
			}
			for _, rec := range page {
				after = rec.ID
				entry, err := q.hydrate(ctx, rec)
				if err != nil && !errors.Is(err, ErrUndecodable) {
					if !yield(nil, err) {
						return
					}
					continue
				}
				if predicate != nil && !predicate(entry) {
					continue
				}
				if !yield(entry, nil) {
					return
				}
			}
			if len(page) < queryPageSize {
				return
			}
		}
	}
}
