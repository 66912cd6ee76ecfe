// Package synchronization moves data between the local queues and the
// upstream server: it pushes outbound queues, pulls subscribed data into
// the inbound queue, applies inbound data locally and reacts to local
// writes, queue activity and network changes.
package synchronization

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"offsync/internal/config"
	"offsync/internal/domain"
	"offsync/internal/events"
	"offsync/internal/models"
	"offsync/internal/queue"
	"offsync/internal/subscription"
	"offsync/internal/synclog"
	"offsync/internal/worker"

	"github.com/rs/zerolog"
)

var (
	// ErrUnsupportedOperation is returned for entries whose operation cannot be sent.
	ErrUnsupportedOperation = errors.New("unsupported operation")
	// ErrDeadLetterNotFound is returned when retrying an unknown dead-letter entry.
	ErrDeadLetterNotFound = errors.New("dead-letter entry not found")
)

// Dependencies are the collaborators of the service.
type Dependencies struct {
	Queues       *queue.Manager
	Upstream     domain.UpstreamClient
	Availability domain.AvailabilityProvider
	// Repository receives inbound writes; it must not publish change
	// notifications or pulled data would be pushed back.
	Repository    domain.LocalRepository
	SyncLog       *synclog.Log
	Subscriptions *subscription.Resolver
	Bus           *events.EventBus
	// Pool runs reactive drains; nil disables reactive scheduling.
	Pool      domain.WorkScheduler
	Scheduler *worker.Scheduler
	Tickler   domain.Tickler
	Logger    *zerolog.Logger
}

// Service is the synchronization service.
type Service struct {
	cfg          config.SynchronizationConfig
	mode         models.SyncMode
	forbid       map[string]struct{}
	lowPriority  map[string]struct{}
	pageSize     int
	maxPageSize  int
	pageWindow   time.Duration
	lockTimeout  time.Duration
	queues       *queue.Manager
	upstream     domain.UpstreamClient
	availability domain.AvailabilityProvider
	repo         domain.LocalRepository
	syncLog      *synclog.Log
	resolver     *subscription.Resolver
	bus          *events.EventBus
	pool         domain.WorkScheduler
	scheduler    *worker.Scheduler
	tickler      domain.Tickler
	logger       *zerolog.Logger

	outbound      tryLock
	inbound       tryLock
	synchronizing atomic.Bool

	wireOnce sync.Once
	jobsMu   sync.Mutex
	jobs     []worker.Job
}

// New validates the dependencies and builds a service. Nothing runs until Start.
func New(cfg config.SynchronizationConfig, deps Dependencies) (*Service, error) {
	if deps.Queues == nil || deps.Upstream == nil || deps.Availability == nil || deps.Repository == nil || deps.SyncLog == nil {
		return nil, fmt.Errorf("synchronization: queues, upstream, availability, repository and sync log are required")
	}
	for _, q := range []*queue.Queue{deps.Queues.Outbound(), deps.Queues.Inbound(), deps.Queues.DeadLetter()} {
		if q == nil {
			return nil, fmt.Errorf("synchronization: well-known queues are not registered: %w", queue.ErrQueueNotFound)
		}
	}

	mode := models.ModeAll
	if cfg.Mode != "" {
		parsed, err := models.ParseSyncMode(cfg.Mode)
		if err != nil {
			return nil, fmt.Errorf("synchronization: %w", err)
		}
		mode = parsed
	}

	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	tickler := deps.Tickler
	if tickler == nil {
		tickler = NewLogTickler(logger)
	}

	s := &Service{
		cfg:          cfg,
		mode:         mode,
		forbid:       toSet(cfg.ForbidSending),
		lowPriority:  toSet(cfg.LowPriorityTypes),
		pageSize:     positiveOr(cfg.PageSize, models.DefaultPageSize),
		pageWindow:   cfg.PageTargetWindow,
		lockTimeout:  cfg.LockTimeout,
		queues:       deps.Queues,
		upstream:     deps.Upstream,
		availability: deps.Availability,
		repo:         deps.Repository,
		syncLog:      deps.SyncLog,
		resolver:     deps.Subscriptions,
		bus:          deps.Bus,
		pool:         deps.Pool,
		scheduler:    deps.Scheduler,
		tickler:      tickler,
		logger:       logger,
		outbound:     newTryLock(),
		inbound:      newTryLock(),
	}
	if s.pageWindow <= 0 {
		s.pageWindow = models.DefaultPageTargetWindow
	}
	if s.lockTimeout <= 0 {
		s.lockTimeout = models.DefaultLockTimeout
	}
	if cfg.BigBundles {
		s.maxPageSize = positiveOr(cfg.MaxPageSize, models.DefaultMaxPageSize)
	} else {
		s.maxPageSize = positiveOr(cfg.MaxPageSizeSmall, models.DefaultMaxPageSizeSmall)
	}
	return s, nil
}

// IsSynchronizing reports whether a pull is in progress.
func (s *Service) IsSynchronizing() bool {
	return s.synchronizing.Load()
}

// Mode returns the synchronization mode of the installation.
func (s *Service) Mode() models.SyncMode {
	return s.mode
}

// OnPushCompleted subscribes fn to push completions.
func (s *Service) OnPushCompleted(fn func(events.Completed)) {
	if s.bus != nil {
		s.bus.OnCompleted(events.DirectionPush, fn)
	}
}

// OnPullCompleted subscribes fn to inbound drain completions.
func (s *Service) OnPullCompleted(fn func(events.Completed)) {
	if s.bus != nil {
		s.bus.OnCompleted(events.DirectionPull, fn)
	}
}

func (s *Service) publishCompleted(direction events.Direction, started time.Time, err error) {
	if s.bus == nil {
		return
	}
	if pubErr := s.bus.PublishCompleted(events.Completed{
		Direction: direction,
		Started:   started,
		Finished:  time.Now(),
		Err:       err,
	}); pubErr != nil {
		s.logger.Warn().Err(pubErr).Str("direction", string(direction)).Msg("completion handler failed")
	}
}

// schedule hands fn to the pool, or drops it when there is no pool.
func (s *Service) schedule(name string, fn func(ctx context.Context)) {
	if s.pool == nil {
		return
	}
	if !s.pool.QueueUserWorkItem(fn) {
		s.logger.Debug().Str("work", name).Msg("work item not accepted")
	}
}

func (s *Service) isForbidden(resourceType string) bool {
	_, ok := s.forbid[resourceType]
	return ok
}

func (s *Service) isLowPriority(resourceType string) bool {
	_, ok := s.lowPriority[resourceType]
	return ok
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
