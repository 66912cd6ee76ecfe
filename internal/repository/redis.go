package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"offsync/internal/config"
	"offsync/internal/models"

	"github.com/redis/go-redis/v9"
)

var errOrphanedID = errors.New("orphaned queue id")

// RedisQueueStore keeps every queue as a LIST of entry ids plus a HASH of the
// encoded rows. Ids come from one shared INCR sequence so they stay unique
// when an entry moves between queues.
type RedisQueueStore struct {
	client *redis.Client
	prefix string
}

// NewRedisClient builds a Redis client from the configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisQueueStore(client *redis.Client, prefix string) *RedisQueueStore {
	if prefix == "" {
		prefix = "offsync"
	}
	return &RedisQueueStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisQueueStore) idsKey(queue string) string {
	return fmt.Sprintf("%s:queue:%s:ids", r.prefix, queue)
}

func (r *RedisQueueStore) rowsKey(queue string) string {
	return fmt.Sprintf("%s:queue:%s:rows", r.prefix, queue)
}

func (r *RedisQueueStore) seqKey() string {
	return r.prefix + ":queue:seq"
}

func (r *RedisQueueStore) Append(ctx context.Context, queue string, rec *models.QueueRecord) (int64, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	id, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate queue id: %w", err)
	}

	rec.ID = id
	rec.Queue = queue
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal queue entry: %w", err)
	}

	field := strconv.FormatInt(id, 10)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.rowsKey(queue), field, data)
		pipe.RPush(ctx, r.idsKey(queue), field)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to append queue entry: %w", err)
	}
	return id, nil
}

func (r *RedisQueueStore) Peek(ctx context.Context, queue string) (*models.QueueRecord, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	for {
		field, err := r.client.LIndex(ctx, r.idsKey(queue), 0).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to peek queue %s: %w", queue, err)
		}

		rec, err := r.row(ctx, queue, field)
		if err != nil || rec != nil {
			return rec, err
		}
		// Orphaned id without a row; drop it and look again.
		if err := r.client.LRem(ctx, r.idsKey(queue), 1, field).Err(); err != nil {
			return nil, fmt.Errorf("failed to drop orphaned id %s: %w", field, err)
		}
	}
}

// PopFront decodes the head row before removing anything, so a read or decode
// failure leaves the entry in place. The id and the row are removed in one
// transaction guarded by WATCH on the id list.
func (r *RedisQueueStore) PopFront(ctx context.Context, queue string) (*models.QueueRecord, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	idsKey := r.idsKey(queue)
	for {
		var rec *models.QueueRecord
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			field, err := tx.LIndex(ctx, idsKey, 0).Result()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to dequeue %s: %w", queue, err)
			}

			head, err := r.row(ctx, queue, field)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.LPop(ctx, idsKey)
				pipe.HDel(ctx, r.rowsKey(queue), field)
				return nil
			})
			if err != nil {
				return err
			}
			if head == nil {
				// Orphaned id; it is gone now, look at the next one.
				return errOrphanedID
			}
			rec = head
			return nil
		}, idsKey)

		switch {
		case errors.Is(err, redis.TxFailedErr), errors.Is(err, errOrphanedID):
			continue
		case err != nil:
			return nil, err
		}
		return rec, nil
	}
}

func (r *RedisQueueStore) Get(ctx context.Context, queue string, id int64) (*models.QueueRecord, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	return r.row(ctx, queue, strconv.FormatInt(id, 10))
}

func (r *RedisQueueStore) Delete(ctx context.Context, queue string, id int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	field := strconv.FormatInt(id, 10)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, r.idsKey(queue), 1, field)
		pipe.HDel(ctx, r.rowsKey(queue), field)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete queue entry %d: %w", id, err)
	}
	return nil
}

func (r *RedisQueueStore) Count(ctx context.Context, queue string) (int, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	n, err := r.client.LLen(ctx, r.idsKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count queue %s: %w", queue, err)
	}
	return int(n), nil
}

func (r *RedisQueueStore) List(ctx context.Context, queue string, afterID int64, limit int) ([]*models.QueueRecord, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	fields, err := r.client.LRange(ctx, r.idsKey(queue), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list queue %s: %w", queue, err)
	}

	var out []*models.QueueRecord
	for _, field := range fields {
		if limit > 0 && len(out) >= limit {
			break
		}
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil || id <= afterID {
			continue
		}
		rec, err := r.row(ctx, queue, field)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *RedisQueueStore) row(ctx context.Context, queue, field string) (*models.QueueRecord, error) {
	val, err := r.client.HGet(ctx, r.rowsKey(queue), field).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue row %s: %w", field, err)
	}

	var rec models.QueueRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue row %s: %w", field, err)
	}
	return &rec, nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
