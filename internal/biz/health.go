package biz

import (
	"sort"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"gonum.org/v1/gonum/stat"

	pkglog "ChainPulse/pkg/log"
)

// HealthStatus is the reported condition of one external service.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// latencySampleCap bounds the per-service latency history used for quantiles.
const latencySampleCap = 128

// ServiceHealth is the last reported health of one service. Last write wins.
type ServiceHealth struct {
	Service   string                 `json:"service"`
	Status    HealthStatus           `json:"status"`
	LatencyMs int64                  `json:"latency_ms"`
	LastCheck time.Time              `json:"last_check"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// SystemHealth aggregates the per-service snapshots. Status is unhealthy when
// any service is unhealthy, degraded when any service is degraded, otherwise
// healthy.
type SystemHealth struct {
	Status    HealthStatus             `json:"status"`
	Services  map[string]ServiceHealth `json:"services"`
	CheckedAt time.Time                `json:"checked_at"`
}

// LatencyStats summarizes the recent latency samples of one service, in
// milliseconds.
type LatencyStats struct {
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Mean  float64 `json:"mean"`
	Count int     `json:"count"`
}

// HealthUpdate is published to subscribers whenever a service changes status.
type HealthUpdate struct {
	Service string
	Status  HealthStatus
}

type healthEntry struct {
	current ServiceHealth
	samples *Ring[float64]
}

// HealthRegistry is the authoritative per-service health store. Breakers
// report into it after every guarded call, the orchestrator consults it
// during bootstrap, and the gRPC health service mirrors it to clients.
type HealthRegistry struct {
	mu       sync.RWMutex
	services map[string]*healthEntry

	subMu   sync.Mutex
	subs    map[int]chan HealthUpdate
	nextSub int

	lh *pkglog.LogHelper
}

// NewHealthRegistry creates an empty health registry.
func NewHealthRegistry(logger log.Logger) *HealthRegistry {
	return &HealthRegistry{
		services: make(map[string]*healthEntry),
		subs:     make(map[int]chan HealthUpdate),
		lh:       pkglog.NewLogHelper(logger),
	}
}

// Update records the health of one service. Latency samples feed the quantile
// statistics; pass zero when no latency was observed. Subscribers are
// notified only on status changes.
func (r *HealthRegistry) Update(service string, status HealthStatus, latency time.Duration, details map[string]interface{}) {
	r.mu.Lock()
	e, ok := r.services[service]
	if !ok {
		e = &healthEntry{samples: NewRing[float64](latencySampleCap)}
		r.services[service] = e
	}
	prev := e.current.Status
	e.current = ServiceHealth{
		Service:   service,
		Status:    status,
		LatencyMs: latency.Milliseconds(),
		LastCheck: time.Now(),
		Details:   details,
	}
	if latency > 0 {
		e.samples.Append(float64(latency.Milliseconds()))
	}
	r.mu.Unlock()

	if prev != status {
		r.lh.Health("Service health changed",
			"service", service,
			"from", string(prev),
			"to", string(status),
			"latency_ms", latency.Milliseconds())
		r.notify(HealthUpdate{Service: service, Status: status})
	}
}

// Get returns the last reported health of one service.
func (r *HealthRegistry) Get(service string) (ServiceHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.services[service]
	if !ok {
		return ServiceHealth{}, false
	}
	return e.current, true
}

// SystemHealth returns a copy of every per-service snapshot plus the derived
// overall status.
func (r *HealthRegistry) SystemHealth() SystemHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := SystemHealth{
		Status:    HealthHealthy,
		Services:  make(map[string]ServiceHealth, len(r.services)),
		CheckedAt: time.Now(),
	}
	for name, e := range r.services {
		out.Services[name] = e.current
		switch e.current.Status {
		case HealthUnhealthy:
			out.Status = HealthUnhealthy
		case HealthDegraded:
			if out.Status != HealthUnhealthy {
				out.Status = HealthDegraded
			}
		}
	}
	return out
}

// LatencyStats computes quantiles over the recent latency samples of one
// service. The second return is false when the service was never reported.
func (r *HealthRegistry) LatencyStats(service string) (LatencyStats, bool) {
	r.mu.RLock()
	e, ok := r.services[service]
	r.mu.RUnlock()
	if !ok {
		return LatencyStats{}, false
	}

	samples := e.samples.Snapshot()
	if len(samples) == 0 {
		return LatencyStats{}, true
	}
	sort.Float64s(samples)
	return LatencyStats{
		P50:   stat.Quantile(0.50, stat.Empirical, samples, nil),
		P95:   stat.Quantile(0.95, stat.Empirical, samples, nil),
		P99:   stat.Quantile(0.99, stat.Empirical, samples, nil),
		Mean:  stat.Mean(samples, nil),
		Count: len(samples),
	}, true
}

// Subscribe registers a health update listener. The returned function
// unsubscribes and closes the channel. Slow listeners miss updates rather
// than block health reporting.
func (r *HealthRegistry) Subscribe() (<-chan HealthUpdate, func()) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	id := r.nextSub
	r.nextSub++
	ch := make(chan HealthUpdate, 16)
	r.subs[id] = ch

	return ch, func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		if c, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(c)
		}
	}
}

func (r *HealthRegistry) notify(u HealthUpdate) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- u:
		default:
		}
	}
}
