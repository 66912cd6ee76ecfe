package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"offsync/internal/models"
)

// MemoryQueueStore is a non-durable queue store for tests and throwaway installs.
type MemoryQueueStore struct {
	mu     sync.Mutex
	queues map[string][]*models.QueueRecord
	seq    int64
}

func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{
		queues: make(map[string][]*models.QueueRecord),
	}
}

func copyRecord(rec *models.QueueRecord) *models.QueueRecord {
	out := *rec
	if rec.RetryCount != nil {
		out.RetryCount = models.IntPtr(*rec.RetryCount)
	}
	out.Payload = append([]byte(nil), rec.Payload...)
	return &out
}

func (r *MemoryQueueStore) Append(_ context.Context, queue string, rec *models.QueueRecord) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	rec.ID = r.seq
	rec.Queue = queue
	r.queues[queue] = append(r.queues[queue], copyRecord(rec))
	return rec.ID, nil
}

func (r *MemoryQueueStore) Peek(_ context.Context, queue string) (*models.QueueRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.queues[queue]
	if len(entries) == 0 {
		return nil, nil
	}
	return copyRecord(entries[0]), nil
}

func (r *MemoryQueueStore) PopFront(_ context.Context, queue string) (*models.QueueRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.queues[queue]
	if len(entries) == 0 {
		return nil, nil
	}
	head := entries[0]
	r.queues[queue] = entries[1:]
	return head, nil
}

func (r *MemoryQueueStore) Get(_ context.Context, queue string, id int64) (*models.QueueRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.queues[queue] {
		if rec.ID == id {
			return copyRecord(rec), nil
		}
	}
	return nil, nil
}

func (r *MemoryQueueStore) Delete(_ context.Context, queue string, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.queues[queue]
	for i, rec := range entries {
		if rec.ID == id {
			r.queues[queue] = append(entries[:i:i], entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *MemoryQueueStore) Count(_ context.Context, queue string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues[queue]), nil
}

func (r *MemoryQueueStore) List(_ context.Context, queue string, afterID int64, limit int) ([]*models.QueueRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.QueueRecord
	for _, rec := range r.queues[queue] {
		if limit > 0 && len(out) >= limit {
			break
		}
		if rec.ID > afterID {
			out = append(out, copyRecord(rec))
		}
	}
	return out, nil
}

type resourceKey struct {
	resourceType string
	key          string
}

// MemoryRepository is an in-memory local repository of resources.
type MemoryRepository struct {
	mu        sync.RWMutex
	resources map[resourceKey]*models.Resource
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		resources: make(map[resourceKey]*models.Resource),
	}
}

func (r *MemoryRepository) Get(_ context.Context, resourceType, key string) (*models.Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.resources[resourceKey{resourceType, key}]
	if !ok {
		return nil, nil
	}
	return res.Clone(), nil
}

func (r *MemoryRepository) Insert(_ context.Context, res *models.Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resources[resourceKey{res.Type, res.Key}] = res.Clone()
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, res *models.Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := resourceKey{res.Type, res.Key}
	if _, ok := r.resources[k]; !ok {
		return fmt.Errorf("resource %s/%s not found", res.Type, res.Key)
	}
	r.resources[k] = res.Clone()
	return nil
}

func (r *MemoryRepository) Obsolete(_ context.Context, resourceType, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := resourceKey{resourceType, key}
	if _, ok := r.resources[k]; !ok {
		return fmt.Errorf("resource %s/%s not found", resourceType, key)
	}
	delete(r.resources, k)
	return nil
}

func (r *MemoryRepository) Find(_ context.Context, resourceType string, match func(*models.Resource) bool) ([]*models.Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Resource
	for k, res := range r.resources {
		if k.resourceType != resourceType {
			continue
		}
		if match == nil || match(res) {
			out = append(out, res.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// MemorySyncLogStore keeps sync watermarks and query cursors in memory.
type MemorySyncLogStore struct {
	mu      sync.Mutex
	logs    []*models.SyncLogEntry
	queries []*models.SyncLogQuery
	nextID  int64
}

func NewMemorySyncLogStore() *MemorySyncLogStore {
	return &MemorySyncLogStore{}
}

func (s *MemorySyncLogStore) GetLog(_ context.Context, resourceType, filter string) (*models.SyncLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.logs {
		if entry.ResourceType == resourceType && entry.Filter == filter {
			cp := *entry
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemorySyncLogStore) CreateLog(_ context.Context, entry *models.SyncLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.logs {
		if existing.ResourceType == entry.ResourceType && existing.Filter == entry.Filter {
			return fmt.Errorf("sync log %s/%q already exists", entry.ResourceType, entry.Filter)
		}
	}
	s.nextID++
	entry.ID = s.nextID
	cp := *entry
	s.logs = append(s.logs, &cp)
	return nil
}

func (s *MemorySyncLogStore) UpdateLog(_ context.Context, entry *models.SyncLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.logs {
		if existing.ID == entry.ID {
			cp := *entry
			s.logs[i] = &cp
			return nil
		}
	}
	return fmt.Errorf("sync log %d not found", entry.ID)
}

func (s *MemorySyncLogStore) ListLogs(_ context.Context) ([]*models.SyncLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.SyncLogEntry, 0, len(s.logs))
	for _, entry := range s.logs {
		cp := *entry
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ResourceType != out[j].ResourceType {
			return out[i].ResourceType < out[j].ResourceType
		}
		return out[i].Filter < out[j].Filter
	})
	return out, nil
}

func (s *MemorySyncLogStore) GetOpenQuery(_ context.Context, logID int64) (*models.SyncLogQuery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.queries) - 1; i >= 0; i-- {
		q := s.queries[i]
		if q.LogID == logID && q.CompletedAt == nil {
			cp := *q
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemorySyncLogStore) CreateQuery(_ context.Context, q *models.SyncLogQuery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	q.ID = s.nextID
	cp := *q
	s.queries = append(s.queries, &cp)
	return nil
}

func (s *MemorySyncLogStore) UpdateQuery(_ context.Context, q *models.SyncLogQuery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.queries {
		if existing.ID == q.ID {
			cp := *q
			s.queries[i] = &cp
			return nil
		}
	}
	return fmt.Errorf("sync query %d not found", q.ID)
}
