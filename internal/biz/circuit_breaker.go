package biz

import (
	"context"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	pkglog "ChainPulse/pkg/log"
)

// CircuitBreakerState is the current position of a breaker's state machine.
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

// String returns the lowercase wire form of the state.
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ParseBreakerState converts a wire form back to a state. The second return
// is false for unrecognized input.
func ParseBreakerState(s string) (CircuitBreakerState, bool) {
	switch s {
	case "closed":
		return StateClosed, true
	case "open":
		return StateOpen, true
	case "half_open":
		return StateHalfOpen, true
	default:
		return StateClosed, false
	}
}

// defaultCallTimeout bounds every guarded call. Initializers that hang are
// abandoned to finish in the background; the caller gets a timeout error.
const defaultCallTimeout = 10 * time.Second

// CircuitBreakerConfig tunes one breaker. Immutable after construction.
type CircuitBreakerConfig struct {
	ServiceName      string
	FailureThreshold int
	RecoveryTimeout  time.Duration
	MonitoringWindow time.Duration
	SuccessThreshold int
	FallbackEnabled  bool
}

// DefaultCircuitBreakerConfig returns the stock tuning for a service.
func DefaultCircuitBreakerConfig(service string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		ServiceName:      service,
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		MonitoringWindow: 60 * time.Second,
		SuccessThreshold: 3,
		FallbackEnabled:  true,
	}
}

// CircuitBreakerMetrics is a read-only snapshot of one breaker's counters.
type CircuitBreakerMetrics struct {
	TotalRequests      int64     `json:"total_requests"`
	SuccessfulRequests int64     `json:"successful_requests"`
	FailedRequests     int64     `json:"failed_requests"`
	CircuitOpens       int64     `json:"circuit_opens"`
	LastFailureTime    time.Time `json:"last_failure_time"`
	LastSuccessTime    time.Time `json:"last_success_time"`
	CurrentState       string    `json:"current_state"`
}

// Operation is one guarded call against an external service.
type Operation func(ctx context.Context) (interface{}, error)

// FallbackProvider supplies a substitute result when the guarded service is
// unavailable.
type FallbackProvider func(ctx context.Context) (interface{}, error)

// CircuitBreaker guards one external service with a failure-counting state
// machine:
//
//	CLOSED    -> OPEN       when failureCount reaches FailureThreshold
//	OPEN      -> HALF_OPEN  on the first call after RecoveryTimeout elapses
//	HALF_OPEN -> CLOSED     after SuccessThreshold consecutive trial successes
//	HALF_OPEN -> OPEN       on any trial failure
//
// Transitions are evaluated lazily at call time; no timers run while the
// breaker is idle. One instance per service, shared by all callers.
type CircuitBreaker struct {
	cfg      CircuitBreakerConfig
	fallback FallbackProvider

	mu           sync.Mutex
	state        CircuitBreakerState
	failureCount int
	successCount int
	total        int64
	successes    int64
	failures     int64
	opens        int64
	lastFailure  time.Time
	lastSuccess  time.Time

	telemetry *Telemetry
	audit     AuditLogger
	lh        *pkglog.LogHelper
	logger    *log.Helper
}

// stateTransition is collected under the lock and announced after release so
// logging and audit writes never run while the breaker is locked.
type stateTransition struct {
	from, to CircuitBreakerState
	reason   string
}

// NewCircuitBreaker creates a breaker for one service. Zero numeric config
// fields fall back to the stock tuning; fallback may be nil.
func NewCircuitBreaker(cfg CircuitBreakerConfig, fallback FallbackProvider, telemetry *Telemetry, audit AuditLogger, logger log.Logger) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig(cfg.ServiceName)
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.MonitoringWindow <= 0 {
		cfg.MonitoringWindow = def.MonitoringWindow
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}

	return &CircuitBreaker{
		cfg:       cfg,
		fallback:  fallback,
		state:     StateClosed,
		telemetry: telemetry,
		audit:     audit,
		lh:        pkglog.NewLogHelper(logger),
		logger:    log.NewHelper(logger),
	}
}

// Execute runs op under the breaker's protection.
//
// When the breaker is OPEN and the recovery timeout has not elapsed, op is
// never invoked: the configured fallback is returned when enabled, otherwise
// a CircuitOpenError. Otherwise op races a fixed call timeout. Successes and
// failures feed the state machine; a failure is substituted with fallback
// output unless it was the HALF_OPEN trial failure.
func (b *CircuitBreaker) Execute(ctx context.Context, op Operation) (interface{}, error) {
	ctx, correlationID := pkglog.EnsureCorrelation(ctx, b.cfg.ServiceName, "breaker.execute")

	b.mu.Lock()
	b.total++
	tr := b.reevaluateLocked()
	state := b.state
	retryAfter := b.retryAfterLocked()
	b.mu.Unlock()
	b.announce(ctx, tr)

	if state == StateOpen {
		if b.cfg.FallbackEnabled && b.fallback != nil {
			b.lh.Fallback("Circuit open, serving fallback",
				"service", b.cfg.ServiceName,
				"retry_after_ms", retryAfter.Milliseconds(),
				"correlation_id", correlationID)
			return b.fallback(ctx)
		}
		b.logger.Debugf("fast fail for %s: circuit open, retry after %s", b.cfg.ServiceName, retryAfter)
		return nil, &CircuitOpenError{Service: b.cfg.ServiceName, RetryAfter: retryAfter}
	}

	stop := b.telemetry.StartTiming(ctx, "breaker."+b.cfg.ServiceName)
	result, err := b.invoke(ctx, op)
	latency := stop()

	if err != nil {
		return b.onFailure(ctx, err, latency)
	}
	b.onSuccess(ctx, latency)
	return result, nil
}

// invoke races op against the fixed call timeout. On timeout the operation
// goroutine keeps running to completion in the background; there is no
// hard-cancel beyond the context handed to op.
func (b *CircuitBreaker) invoke(ctx context.Context, op Operation) (interface{}, error) {
	type callResult struct {
		value interface{}
		err   error
	}

	done := make(chan callResult, 1)
	go func() {
		v, err := op(ctx)
		done <- callResult{value: v, err: err}
	}()

	timer := time.NewTimer(defaultCallTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.value, r.err
	case <-timer.C:
		return nil, &TimeoutError{Service: b.cfg.ServiceName, Stage: "call", Timeout: defaultCallTimeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *CircuitBreaker) onSuccess(ctx context.Context, latency time.Duration) {
	b.mu.Lock()
	b.successes++
	b.lastSuccess = time.Now()

	var tr *stateTransition
	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			tr = b.transitionLocked(StateClosed, "trial successes reached threshold")
			b.failureCount = 0
			b.successCount = 0
		}
	case StateClosed:
		// Approximate decay: one old failure is forgiven per success once the
		// last failure has aged out of the monitoring window
		if b.failureCount > 0 && time.Since(b.lastFailure) > b.cfg.MonitoringWindow {
			b.failureCount--
		}
	}
	b.mu.Unlock()
	b.announce(ctx, tr)

	b.telemetry.UpdateServiceHealth(b.cfg.ServiceName, HealthHealthy, latency, nil)
	b.logger.Debugf("call succeeded for %s in %dms", b.cfg.ServiceName, latency.Milliseconds())
}

func (b *CircuitBreaker) onFailure(ctx context.Context, cause error, latency time.Duration) (interface{}, error) {
	b.mu.Lock()
	b.failures++
	b.failureCount++
	b.lastFailure = time.Now()

	var tr *stateTransition
	reopened := false
	switch b.state {
	case StateHalfOpen:
		tr = b.transitionLocked(StateOpen, "trial call failed")
		reopened = true
	case StateClosed:
		if b.failureCount >= b.cfg.FailureThreshold {
			tr = b.transitionLocked(StateOpen, "failure threshold reached")
		}
	}
	b.mu.Unlock()
	b.announce(ctx, tr)

	b.telemetry.UpdateServiceHealth(b.cfg.ServiceName, HealthUnhealthy, latency, map[string]interface{}{
		"error": cause.Error(),
	})
	b.telemetry.RecordError(ctx, cause, map[string]interface{}{
		"service": b.cfg.ServiceName,
	})

	// The HALF_OPEN trial failure must surface so callers see the probe fail
	if b.cfg.FallbackEnabled && b.fallback != nil && !reopened {
		b.lh.Fallback("Call failed, serving fallback",
			"service", b.cfg.ServiceName,
			"error", cause.Error(),
			"correlation_id", pkglog.GetCorrelationID(ctx))
		return b.fallback(ctx)
	}
	return nil, cause
}

// reevaluateLocked applies the lazy OPEN -> HALF_OPEN transition.
func (b *CircuitBreaker) reevaluateLocked() *stateTransition {
	if b.state == StateOpen && time.Since(b.lastFailure) >= b.cfg.RecoveryTimeout {
		tr := b.transitionLocked(StateHalfOpen, "recovery timeout elapsed")
		b.successCount = 0
		return tr
	}
	return nil
}

func (b *CircuitBreaker) retryAfterLocked() time.Duration {
	if b.state != StateOpen {
		return 0
	}
	remaining := b.cfg.RecoveryTimeout - time.Since(b.lastFailure)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (b *CircuitBreaker) transitionLocked(to CircuitBreakerState, reason string) *stateTransition {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	if to == StateOpen {
		b.opens++
	}
	return &stateTransition{from: from, to: to, reason: reason}
}

// announce logs and audits a transition outside the breaker lock.
func (b *CircuitBreaker) announce(ctx context.Context, tr *stateTransition) {
	if tr == nil {
		return
	}
	b.lh.StateChanged(b.cfg.ServiceName, tr.from.String(), tr.to.String(),
		"reason", tr.reason,
		"correlation_id", pkglog.GetCorrelationID(ctx))
	if b.audit != nil {
		b.audit.LogStateChange(ctx, b.cfg.ServiceName, tr.from.String(), tr.to.String(), tr.reason)
	}
}

// State returns the stored state without re-evaluating lazy transitions.
func (b *CircuitBreaker) State() CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns a read-only snapshot of the breaker's counters.
func (b *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return CircuitBreakerMetrics{
		TotalRequests:      b.total,
		SuccessfulRequests: b.successes,
		FailedRequests:     b.failures,
		CircuitOpens:       b.opens,
		LastFailureTime:    b.lastFailure,
		LastSuccessTime:    b.lastSuccess,
		CurrentState:       b.state.String(),
	}
}

// Config returns the breaker's immutable configuration.
func (b *CircuitBreaker) Config() CircuitBreakerConfig {
	return b.cfg
}

// ForceState overrides the state machine. Operator use only; counters are
// left untouched so metrics stay truthful.
func (b *CircuitBreaker) ForceState(ctx context.Context, state CircuitBreakerState) {
	b.mu.Lock()
	from := b.state
	b.state = state
	if state == StateHalfOpen {
		b.successCount = 0
	}
	if state == StateOpen {
		// Anchors the recovery timeout so a forced OPEN still heals itself
		b.lastFailure = time.Now()
	}
	b.mu.Unlock()

	if from != state {
		b.lh.StateChanged(b.cfg.ServiceName, from.String(), state.String(),
			"reason", "forced by operator",
			"correlation_id", pkglog.GetCorrelationID(ctx))
		if b.audit != nil {
			b.audit.LogStateForced(ctx, b.cfg.ServiceName, from.String(), state.String())
		}
	}
}

// Reset returns the breaker to CLOSED and clears the failure and success
// counters. The monotonic request counters are preserved.
func (b *CircuitBreaker) Reset(ctx context.Context) {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
	b.mu.Unlock()

	b.lh.Breaker("Breaker reset",
		"service", b.cfg.ServiceName,
		"previous_state", from.String(),
		"correlation_id", pkglog.GetCorrelationID(ctx))
	if b.audit != nil {
		b.audit.LogBreakerReset(ctx, b.cfg.ServiceName)
	}
}
