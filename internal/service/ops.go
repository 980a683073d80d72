// Package service exposes the ops-facing API surface of the resilience
// core: health, breaker control, cold-start status, and telemetry dumps.
package service

import (
	"context"
	"time"

	"ChainPulse/internal/biz"
	"ChainPulse/internal/data"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewOpsService)

// OpsService is the transport-facing facade over the resilience triad. All
// methods return plain structs serialized by the HTTP layer; domain errors
// are mapped to API errors here.
type OpsService struct {
	telemetry    *biz.Telemetry
	health       *biz.HealthRegistry
	breakers     *biz.BreakerRegistry
	orchestrator *biz.ColdStartOrchestrator
	snapshots    *data.SnapshotStore
	logger       *log.Helper
}

// NewOpsService creates the ops service facade.
func NewOpsService(
	telemetry *biz.Telemetry,
	health *biz.HealthRegistry,
	breakers *biz.BreakerRegistry,
	orchestrator *biz.ColdStartOrchestrator,
	snapshots *data.SnapshotStore,
	logger log.Logger,
) *OpsService {
	return &OpsService{
		telemetry:    telemetry,
		health:       health,
		breakers:     breakers,
		orchestrator: orchestrator,
		snapshots:    snapshots,
		logger:       log.NewHelper(logger),
	}
}

// SystemHealthReply is the GET /v1/health response.
type SystemHealthReply struct {
	Status    string                       `json:"status"`
	Services  map[string]biz.ServiceHealth `json:"services"`
	Latency   map[string]biz.LatencyStats  `json:"latency,omitempty"`
	Snapshots data.SnapshotStats           `json:"snapshots"`
	SessionID string                       `json:"session_id"`
	CheckedAt time.Time                    `json:"checked_at"`
}

// SystemHealth returns the aggregate health snapshot with per-service
// latency quantiles and fallback snapshot store counters.
func (s *OpsService) SystemHealth(ctx context.Context) (*SystemHealthReply, error) {
	sh := s.telemetry.SystemHealth()

	latency := make(map[string]biz.LatencyStats, len(sh.Services))
	for name := range sh.Services {
		if stats, ok := s.health.LatencyStats(name); ok && stats.Count > 0 {
			latency[name] = stats
		}
	}

	return &SystemHealthReply{
		Status:    string(sh.Status),
		Services:  sh.Services,
		Latency:   latency,
		Snapshots: s.snapshots.Stats(),
		SessionID: s.telemetry.SessionID(),
		CheckedAt: sh.CheckedAt,
	}, nil
}

// BreakersReply is the GET /v1/breakers response.
type BreakersReply struct {
	Breakers map[string]biz.CircuitBreakerMetrics `json:"breakers"`
	Healthy  map[string]bool                      `json:"healthy"`
}

// ListBreakers returns every breaker's metrics plus the CLOSED-means-healthy
// summary.
func (s *OpsService) ListBreakers(ctx context.Context) (*BreakersReply, error) {
	return &BreakersReply{
		Breakers: s.breakers.AllMetrics(),
		Healthy:  s.breakers.HealthSummary(),
	}, nil
}

// BreakerReply is the GET /v1/breakers/{name} response.
type BreakerReply struct {
	Service string                    `json:"service"`
	Metrics biz.CircuitBreakerMetrics `json:"metrics"`
	Config  BreakerConfigReply        `json:"config"`
}

// BreakerConfigReply mirrors the breaker's immutable tuning.
type BreakerConfigReply struct {
	FailureThreshold   int   `json:"failure_threshold"`
	RecoveryTimeoutMs  int64 `json:"recovery_timeout_ms"`
	MonitoringWindowMs int64 `json:"monitoring_window_ms"`
	SuccessThreshold   int   `json:"success_threshold"`
	FallbackEnabled    bool  `json:"fallback_enabled"`
}

// GetBreaker returns one breaker's metrics and configuration.
func (s *OpsService) GetBreaker(ctx context.Context, name string) (*BreakerReply, error) {
	b, ok := s.breakers.Get(name)
	if !ok {
		return nil, errors.NotFound("BREAKER_NOT_FOUND", "no circuit breaker registered for service "+name)
	}
	cfg := b.Config()
	return &BreakerReply{
		Service: name,
		Metrics: b.Metrics(),
		Config: BreakerConfigReply{
			FailureThreshold:   cfg.FailureThreshold,
			RecoveryTimeoutMs:  cfg.RecoveryTimeout.Milliseconds(),
			MonitoringWindowMs: cfg.MonitoringWindow.Milliseconds(),
			SuccessThreshold:   cfg.SuccessThreshold,
			FallbackEnabled:    cfg.FallbackEnabled,
		},
	}, nil
}

// ForceStateRequest is the POST /v1/breakers/{name}/state body.
type ForceStateRequest struct {
	State string `json:"state"`
}

// BreakerStateReply reports a breaker's state after a manual operation.
type BreakerStateReply struct {
	Service string `json:"service"`
	State   string `json:"state"`
}

// ForceBreakerState overrides one breaker's state machine. Operator use.
func (s *OpsService) ForceBreakerState(ctx context.Context, name string, req *ForceStateRequest) (*BreakerStateReply, error) {
	b, ok := s.breakers.Get(name)
	if !ok {
		return nil, errors.NotFound("BREAKER_NOT_FOUND", "no circuit breaker registered for service "+name)
	}
	state, ok := biz.ParseBreakerState(req.State)
	if !ok {
		return nil, errors.BadRequest("INVALID_STATE", "state must be one of closed, open, half_open")
	}

	s.logger.Infow("msg", "forcing breaker state", "service", name, "state", req.State)
	b.ForceState(ctx, state)
	return &BreakerStateReply{Service: name, State: b.State().String()}, nil
}

// ResetBreaker returns one breaker to CLOSED with cleared counters.
func (s *OpsService) ResetBreaker(ctx context.Context, name string) (*BreakerStateReply, error) {
	b, ok := s.breakers.Get(name)
	if !ok {
		return nil, errors.NotFound("BREAKER_NOT_FOUND", "no circuit breaker registered for service "+name)
	}

	s.logger.Infow("msg", "resetting breaker", "service", name)
	b.Reset(ctx)
	return &BreakerStateReply{Service: name, State: b.State().String()}, nil
}

// ColdStartReply is the GET /v1/coldstart response.
type ColdStartReply struct {
	Metrics biz.ColdStartMetrics        `json:"metrics"`
	States  map[string]biz.LoadingState `json:"states"`
}

// ColdStartStatus returns the bootstrap run metrics and every service's
// loading state.
func (s *OpsService) ColdStartStatus(ctx context.Context) (*ColdStartReply, error) {
	return &ColdStartReply{
		Metrics: s.orchestrator.Metrics(),
		States:  s.orchestrator.States(),
	}, nil
}

// RetryFailedServices re-attempts every failed service and returns the
// updated bootstrap status.
func (s *OpsService) RetryFailedServices(ctx context.Context) (*ColdStartReply, error) {
	s.logger.Infow("msg", "manual retry of failed services requested")
	metrics, err := s.orchestrator.RetryFailedServices(ctx)
	if err != nil {
		return nil, mapDomainError(err)
	}
	return &ColdStartReply{
		Metrics: metrics,
		States:  s.orchestrator.States(),
	}, nil
}

// RecentErrorsReply is the GET /v1/telemetry/errors response.
type RecentErrorsReply struct {
	Errors []biz.ErrorEvent `json:"errors"`
	Count  int              `json:"count"`
}

// RecentErrors dumps the bounded error event buffer, oldest first.
func (s *OpsService) RecentErrors(ctx context.Context) (*RecentErrorsReply, error) {
	events := s.telemetry.RecentErrors()
	return &RecentErrorsReply{Errors: events, Count: len(events)}, nil
}

// RecentMetricsReply is the GET /v1/telemetry/metrics response.
type RecentMetricsReply struct {
	Metrics []biz.PerformanceMetric `json:"metrics"`
	Count   int                     `json:"count"`
}

// RecentMetrics dumps the bounded performance metric buffer, oldest first.
func (s *OpsService) RecentMetrics(ctx context.Context) (*RecentMetricsReply, error) {
	metrics := s.telemetry.MetricsSnapshot()
	return &RecentMetricsReply{Metrics: metrics, Count: len(metrics)}, nil
}

// mapDomainError translates typed domain errors into API errors with the
// appropriate HTTP codes. Unrecognized errors pass through unchanged and
// fall back to kratos's 500 mapping.
func mapDomainError(err error) error {
	switch {
	case err == nil:
		return nil
	case biz.IsCircuitOpen(err):
		return errors.ServiceUnavailable("CIRCUIT_OPEN", err.Error())
	case biz.IsTimeout(err):
		return errors.GatewayTimeout("LOAD_TIMEOUT", err.Error())
	case biz.IsUnknownService(err):
		return errors.NotFound("UNKNOWN_SERVICE", err.Error())
	case biz.IsCycle(err):
		return errors.Conflict("CIRCULAR_DEPENDENCY", err.Error())
	case biz.IsDependencyFailure(err):
		return errors.New(424, "DEPENDENCY_FAILED", err.Error())
	case biz.IsHealthCheckFailure(err):
		return errors.ServiceUnavailable("HEALTH_CHECK_FAILED", err.Error())
	default:
		return err
	}
}
