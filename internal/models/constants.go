package models

import "time"

// Well-known queue names.
const (
	QueueOutbound            = "out"
	QueueOutboundLowPriority = "out.lowpriority"
	QueueInbound             = "in"
	QueueAdmin               = "admin"
	QueueDeadLetter          = "deadletter"
)

// Payload type names that never travel through the generic sync path.
const (
	TypeSecurityUser        = "SecurityUser"
	TypeSecurityRole        = "SecurityRole"
	TypeSecurityPolicy      = "SecurityPolicy"
	TypeSecurityDevice      = "SecurityDevice"
	TypeSecurityApplication = "SecurityApplication"
	TypeSecurityProvenance  = "SecurityProvenance"

	TypeBundle = "Bundle"
	TypePatch  = "Patch"
)

// TagUpstreamOrigin marks objects that were pulled from the upstream server.
const TagUpstreamOrigin = "$upstream"

// ReasonRetry is recorded when a dead-letter entry is resubmitted.
const ReasonRetry = "RETRY"

const (
	// DefaultQueryStaleness is how long a paginated query may stay open before it must restart.
	DefaultQueryStaleness = time.Hour

	// DefaultLockTimeout bounds the non-blocking drain lock acquisition.
	DefaultLockTimeout = 100 * time.Millisecond

	// DefaultPageTargetWindow is the wall-clock budget a single page request should fit in.
	DefaultPageTargetWindow = 30 * time.Second

	// DefaultMaxPageSize caps pages when big bundles are enabled.
	DefaultMaxPageSize = 1000

	// DefaultMaxPageSizeSmall caps pages when big bundles are disabled.
	DefaultMaxPageSizeSmall = 500

	// DefaultPageSize is the initial number of records requested per page.
	DefaultPageSize = 100

	// DefaultInlineThreshold is the largest encoded payload kept on the queue row itself.
	DefaultInlineThreshold = 64 * 1024

	// WorkerQueueSize is the backlog of the work item pool.
	WorkerQueueSize = 1000
)

// IsSecurityType reports whether the type is a security principal, role, policy or provenance object.
func IsSecurityType(resourceType string) bool {
	switch resourceType {
	case TypeSecurityUser, TypeSecurityRole, TypeSecurityPolicy,
		TypeSecurityDevice, TypeSecurityApplication, TypeSecurityProvenance:
		return true
	default:
		return false
	}
}
