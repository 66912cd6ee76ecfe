package domain

import (
	"context"
	"time"

	"offsync/internal/models"
)

// LocalRepository is the local persistence service for synchronized resources.
// Get returns nil, nil when the resource does not exist.
type LocalRepository interface {
	Get(ctx context.Context, resourceType, key string) (*models.Resource, error)
	Insert(ctx context.Context, res *models.Resource) error
	Update(ctx context.Context, res *models.Resource) error
	Obsolete(ctx context.Context, resourceType, key string) error
	Find(ctx context.Context, resourceType string, match func(*models.Resource) bool) ([]*models.Resource, error)
}

// SendOptions carries the force and auto-resolve flags of an upstream write.
type SendOptions struct {
	Force       bool
	AutoResolve bool
}

// QueryOptions controls one paginated upstream query.
type QueryOptions struct {
	IfModifiedSince *time.Time
	Count           int
	Offset          int
	QueryID         string
	Timeout         time.Duration
}

// ResultPage is one page of an upstream query.
type ResultPage struct {
	Items        []*models.Resource
	TotalResults int
	NotModified  bool
}

// UpstreamClient is the integration client used to talk to the upstream server.
type UpstreamClient interface {
	Insert(ctx context.Context, payload models.Payload, opts SendOptions) error
	Update(ctx context.Context, payload models.Payload, opts SendOptions) error
	Obsolete(ctx context.Context, payload models.Payload, opts SendOptions) error
	Query(ctx context.Context, resourceType, filter string, opts QueryOptions) (*ResultPage, error)
}

// EndpointType identifies an upstream endpoint for availability checks.
type EndpointType string

const (
	EndpointAuth EndpointType = "auth"
	EndpointData EndpointType = "data"
)

// AvailabilityProvider reports reachability, latency and clock drift of the upstream.
// Latency and TimeDrift return false when the value cannot be measured.
type AvailabilityProvider interface {
	IsAvailable(ctx context.Context, endpoint EndpointType) bool
	Latency(ctx context.Context, endpoint EndpointType) (time.Duration, bool)
	TimeDrift(ctx context.Context, endpoint EndpointType) (time.Duration, bool)
}

// QueueStore persists the entries of named queues in insertion order.
// Peek, PopFront and Get return nil, nil when there is no matching record.
type QueueStore interface {
	Append(ctx context.Context, queue string, rec *models.QueueRecord) (int64, error)
	Peek(ctx context.Context, queue string) (*models.QueueRecord, error)
	PopFront(ctx context.Context, queue string) (*models.QueueRecord, error)
	Get(ctx context.Context, queue string, id int64) (*models.QueueRecord, error)
	Delete(ctx context.Context, queue string, id int64) error
	Count(ctx context.Context, queue string) (int, error)
	List(ctx context.Context, queue string, afterID int64, limit int) ([]*models.QueueRecord, error)
}

// SyncLogStore persists synchronization watermarks and open query cursors.
// Lookups return nil, nil when nothing matches.
type SyncLogStore interface {
	GetLog(ctx context.Context, resourceType, filter string) (*models.SyncLogEntry, error)
	CreateLog(ctx context.Context, entry *models.SyncLogEntry) error
	UpdateLog(ctx context.Context, entry *models.SyncLogEntry) error
	ListLogs(ctx context.Context) ([]*models.SyncLogEntry, error)
	GetOpenQuery(ctx context.Context, logID int64) (*models.SyncLogQuery, error)
	CreateQuery(ctx context.Context, query *models.SyncLogQuery) error
	UpdateQuery(ctx context.Context, query *models.SyncLogQuery) error
}

// BlobStore keeps payloads that are too large to live on a queue row.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// Tickler surfaces user-visible notices.
type Tickler interface {
	Tickle(ctx context.Context, kind TickleKind, message string)
}

type TickleKind string

const (
	TickleInformation TickleKind = "information"
	TickleWarning     TickleKind = "warning"
	TickleDanger      TickleKind = "danger"
)

// SubscriptionSource yields the subscription definitions of the installation.
type SubscriptionSource interface {
	Subscriptions(ctx context.Context) ([]models.SubscriptionDefinition, error)
}

// WorkScheduler runs fire-and-forget work items.
type WorkScheduler interface {
	QueueUserWorkItem(fn func(ctx context.Context)) bool
}
