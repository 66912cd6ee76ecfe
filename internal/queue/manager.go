package queue

import (
	"errors"
	"fmt"
	"sync"

	"offsync/internal/models"
)

// ErrQueueNotFound is returned when a named queue is not registered.
var ErrQueueNotFound = errors.New("queue not found")

// Manager is the registry of named queues.
type Manager struct {
	mu     sync.RWMutex
	queues map[string]*Queue
	order  []string
}

func NewManager() *Manager {
	return &Manager{queues: make(map[string]*Queue)}
}

// NewDefaultManager registers the well-known queues on the given storage.
func NewDefaultManager(opts Options) *Manager {
	m := NewManager()
	for _, def := range []struct {
		name    string
		pattern models.SynchronizationPattern
	}{
		{models.QueueOutbound, models.LocalToUpstream},
		{models.QueueAdmin, models.LocalToUpstream | models.LowPriority},
		{models.QueueOutboundLowPriority, models.LocalToUpstream | models.LowPriority},
		{models.QueueInbound, models.UpstreamToLocal},
		{models.QueueDeadLetter, models.DeadLetter},
	} {
		// Names are distinct, registration cannot fail.
		_ = m.Register(New(def.name, def.pattern, opts))
	}
	return m
}

// Register adds a queue; names must be unique.
func (m *Manager) Register(q *Queue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.queues[q.Name()]; exists {
		return fmt.Errorf("queue %s already registered", q.Name())
	}
	m.queues[q.Name()] = q
	m.order = append(m.order, q.Name())
	return nil
}

// Get returns the named queue, or nil when it is not registered.
func (m *Manager) Get(name string) *Queue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queues[name]
}

// Lookup is Get with ErrQueueNotFound instead of nil.
func (m *Manager) Lookup(name string) (*Queue, error) {
	if q := m.Get(name); q != nil {
		return q, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, name)
}

// GetAll returns, in registration order, every queue whose pattern has any of flags.
func (m *Manager) GetAll(flags models.SynchronizationPattern) []*Queue {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Queue
	for _, name := range m.order {
		q := m.queues[name]
		if q.Pattern().HasAny(flags) {
			out = append(out, q)
		}
	}
	return out
}

func (m *Manager) Outbound() *Queue { return m.Get(models.QueueOutbound) }

func (m *Manager) OutboundLowPriority() *Queue { return m.Get(models.QueueOutboundLowPriority) }

func (m *Manager) Inbound() *Queue { return m.Get(models.QueueInbound) }

func (m *Manager) Admin() *Queue { return m.Get(models.QueueAdmin) }

func (m *Manager) DeadLetter() *Queue { return m.Get(models.QueueDeadLetter) }
