package biz

import (
	"sort"
	"sync"

	"github.com/go-kratos/kratos/v2/log"

	"ChainPulse/internal/conf"
	pkglog "ChainPulse/pkg/log"
)

// BreakerRegistry tracks one CircuitBreaker per named service with
// create-once semantics: the first registration of a name decides its
// configuration and fallback, later lookups return the existing instance.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	defaults  CircuitBreakerConfig
	telemetry *Telemetry
	audit     AuditLogger
	logger    log.Logger
	lh        *pkglog.LogHelper
}

// NewBreakerRegistry creates a registry whose default breaker tuning comes
// from the resilience configuration.
func NewBreakerRegistry(cfg *conf.Resilience, telemetry *Telemetry, audit AuditLogger, logger log.Logger) *BreakerRegistry {
	return &BreakerRegistry{
		breakers:  make(map[string]*CircuitBreaker),
		defaults:  resilienceDefaults(cfg),
		telemetry: telemetry,
		audit:     audit,
		logger:    logger,
		lh:        pkglog.NewLogHelper(logger),
	}
}

// resilienceDefaults merges the configured resilience section over the stock
// breaker tuning.
func resilienceDefaults(rc *conf.Resilience) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig("")
	if rc == nil {
		return cfg
	}
	if rc.FailureThreshold > 0 {
		cfg.FailureThreshold = int(rc.FailureThreshold)
	}
	if d := rc.RecoveryTimeout.AsDuration(); d > 0 {
		cfg.RecoveryTimeout = d
	}
	if d := rc.MonitoringWindow.AsDuration(); d > 0 {
		cfg.MonitoringWindow = d
	}
	if rc.SuccessThreshold > 0 {
		cfg.SuccessThreshold = int(rc.SuccessThreshold)
	}
	cfg.FallbackEnabled = rc.FallbackEnabled
	return cfg
}

// GetOrCreate returns the breaker for service, creating it on first use.
// cfg overrides the registry defaults and fallback supplies substitute
// results; both are ignored when the breaker already exists.
func (r *BreakerRegistry) GetOrCreate(service string, cfg *CircuitBreakerConfig, fallback FallbackProvider) *CircuitBreaker {
	r.mu.RLock()
	if b, ok := r.breakers[service]; ok {
		r.mu.RUnlock()
		return b
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[service]; ok {
		return b
	}

	c := r.defaults
	if cfg != nil {
		c = *cfg
	}
	c.ServiceName = service

	b := NewCircuitBreaker(c, fallback, r.telemetry, r.audit, r.logger)
	r.breakers[service] = b

	r.lh.Breaker("Breaker registered",
		"service", service,
		"failure_threshold", c.FailureThreshold,
		"recovery_timeout_ms", c.RecoveryTimeout.Milliseconds(),
		"success_threshold", c.SuccessThreshold,
		"fallback_enabled", c.FallbackEnabled)
	return b
}

// Get returns the breaker for service without creating one.
func (r *BreakerRegistry) Get(service string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[service]
	return b, ok
}

// Names returns all registered service names, sorted.
func (r *BreakerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllMetrics returns a metrics snapshot for every registered breaker.
func (r *BreakerRegistry) AllMetrics() map[string]CircuitBreakerMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]CircuitBreakerMetrics, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Metrics()
	}
	return out
}

// HealthSummary reports, per service, whether its breaker is CLOSED.
func (r *BreakerRegistry) HealthSummary() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State() == StateClosed
	}
	return out
}
