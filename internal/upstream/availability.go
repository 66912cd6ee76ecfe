package upstream

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"offsync/internal/domain"

	"github.com/rs/zerolog"
)

// Probe paths per endpoint.
var probePaths = map[domain.EndpointType]string{
	domain.EndpointAuth: "/v1/auth/ping",
	domain.EndpointData: "/healthz",
}

const probeTimeout = 5 * time.Second

type probeResult struct {
	at      time.Time
	ok      bool
	latency time.Duration
	drift   time.Duration
	hasDate bool
}

// Availability implements domain.AvailabilityProvider by probing the
// upstream. Results are cached for ttl to avoid a probe per question.
type Availability struct {
	baseURL string
	http    *http.Client
	ttl     time.Duration
	logger  *zerolog.Logger
	now     func() time.Time

	mu    sync.Mutex
	cache map[domain.EndpointType]probeResult
}

// NewAvailability creates a provider for the upstream at baseURL.
func NewAvailability(baseURL string, ttl time.Duration, logger *zerolog.Logger) *Availability {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Availability{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: probeTimeout},
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		cache:   make(map[domain.EndpointType]probeResult),
	}
}

func (a *Availability) IsAvailable(ctx context.Context, endpoint domain.EndpointType) bool {
	return a.probe(ctx, endpoint).ok
}

// Latency returns the round trip of the last probe; false when unreachable.
func (a *Availability) Latency(ctx context.Context, endpoint domain.EndpointType) (time.Duration, bool) {
	r := a.probe(ctx, endpoint)
	return r.latency, r.ok
}

// TimeDrift returns upstream clock minus local clock, measured from the Date
// header against the midpoint of the probe.
func (a *Availability) TimeDrift(ctx context.Context, endpoint domain.EndpointType) (time.Duration, bool) {
	r := a.probe(ctx, endpoint)
	return r.drift, r.ok && r.hasDate
}

// Invalidate drops cached probe results.
func (a *Availability) Invalidate() {
	a.mu.Lock()
	a.cache = make(map[domain.EndpointType]probeResult)
	a.mu.Unlock()
}

func (a *Availability) probe(ctx context.Context, endpoint domain.EndpointType) probeResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	if r, ok := a.cache[endpoint]; ok && a.ttl > 0 && a.now().Sub(r.at) < a.ttl {
		return r
	}

	r := a.measure(ctx, endpoint)
	a.cache[endpoint] = r
	return r
}

func (a *Availability) measure(ctx context.Context, endpoint domain.EndpointType) probeResult {
	path, ok := probePaths[endpoint]
	if !ok {
		path = probePaths[domain.EndpointData]
	}

	result := probeResult{at: a.now()}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return result
	}

	sent := time.Now()
	resp, err := a.http.Do(req)
	if err != nil {
		a.logger.Debug().Err(err).Str("endpoint", string(endpoint)).Msg("upstream probe failed")
		return result
	}
	resp.Body.Close()
	received := time.Now()

	if resp.StatusCode >= http.StatusInternalServerError {
		a.logger.Debug().Int("status", resp.StatusCode).Str("endpoint", string(endpoint)).Msg("upstream probe unhealthy")
		return result
	}

	result.ok = true
	result.latency = received.Sub(sent)
	if date := resp.Header.Get("Date"); date != "" {
		if serverTime, err := http.ParseTime(date); err == nil {
			midpoint := sent.Add(result.latency / 2)
			result.drift = serverTime.Sub(midpoint)
			result.hasDate = true
		}
	}
	return result
}
