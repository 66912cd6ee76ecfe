package upstream

import (
	"context"
	"sync"
	"time"

	"offsync/internal/domain"
	"offsync/internal/events"

	"github.com/rs/zerolog"
)

// Monitor polls upstream reachability and publishes transitions on the bus.
type Monitor struct {
	provider domain.AvailabilityProvider
	bus      *events.EventBus
	interval time.Duration
	logger   *zerolog.Logger

	mu        sync.Mutex
	known     bool
	available bool
}

func NewMonitor(provider domain.AvailabilityProvider, bus *events.EventBus, interval time.Duration, logger *zerolog.Logger) *Monitor {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{provider: provider, bus: bus, interval: interval, logger: logger}
}

// Run checks reachability every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check probes once and reports whether a transition was published. The
// first observation only records the state.
func (m *Monitor) Check(ctx context.Context) bool {
	if inv, ok := m.provider.(interface{ Invalidate() }); ok {
		inv.Invalidate()
	}
	available := m.provider.IsAvailable(ctx, domain.EndpointData)

	m.mu.Lock()
	changed := m.known && available != m.available
	m.known = true
	m.available = available
	m.mu.Unlock()

	if !changed {
		return false
	}

	m.logger.Info().Bool("available", available).Msg("network status changed")
	if err := m.bus.PublishNetworkStatus(events.NetworkStatusChanged{Available: available, Changed: time.Now()}); err != nil {
		m.logger.Error().Err(err).Msg("network status handler failed")
	}
	return true
}

// Available returns the last observed state.
func (m *Monitor) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}
