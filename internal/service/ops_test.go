package service

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"ChainPulse/internal/biz"
	"ChainPulse/internal/conf"
	"ChainPulse/internal/data"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

// opsFixture bundles the real resilience components behind one ops facade.
type opsFixture struct {
	svc          *OpsService
	telemetry    *biz.Telemetry
	health       *biz.HealthRegistry
	breakers     *biz.BreakerRegistry
	orchestrator *biz.ColdStartOrchestrator
}

func newOpsFixture(t *testing.T) *opsFixture {
	t.Helper()
	logger := log.NewStdLogger(os.Stdout)

	health := biz.NewHealthRegistry(logger)
	telemetry, cleanup, err := biz.NewTelemetry(&conf.Telemetry{Environment: "development"}, health, nil, logger)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	breakers := biz.NewBreakerRegistry(&conf.Resilience{
		FailureThreshold: 3,
		RecoveryTimeout:  durationpb.New(5 * time.Second),
		MonitoringWindow: durationpb.New(60 * time.Second),
		SuccessThreshold: 2,
		FallbackEnabled:  true,
	}, telemetry, nil, logger)

	orchestrator, ocleanup, err := biz.NewColdStartOrchestrator(&conf.ColdStart{
		Progressive: true,
		BatchSize:   2,
	}, telemetry, nil, logger)
	require.NoError(t, err)
	t.Cleanup(ocleanup)

	snapshots, err := data.NewSnapshotStore(nil, nil, nil, logger)
	require.NoError(t, err)

	return &opsFixture{
		svc:          NewOpsService(telemetry, health, breakers, orchestrator, snapshots, logger),
		telemetry:    telemetry,
		health:       health,
		breakers:     breakers,
		orchestrator: orchestrator,
	}
}

func TestSystemHealth(t *testing.T) {
	f := newOpsFixture(t)

	f.health.Update("market-data", biz.HealthHealthy, 120*time.Millisecond, nil)
	f.health.Update("sentiment", biz.HealthDegraded, 450*time.Millisecond, map[string]interface{}{
		"reason": "serving fallback",
	})

	reply, err := f.svc.SystemHealth(context.Background())
	require.NoError(t, err)

	// One degraded service degrades the aggregate
	assert.Equal(t, "degraded", reply.Status)
	assert.Len(t, reply.Services, 2)
	assert.Equal(t, biz.HealthHealthy, reply.Services["market-data"].Status)
	assert.NotEmpty(t, reply.SessionID)
	assert.False(t, reply.CheckedAt.IsZero())

	// Latency quantiles come back for services with recorded samples
	stats, ok := reply.Latency["market-data"]
	require.True(t, ok)
	assert.Greater(t, stats.Count, 0)

	// The snapshot store counters ride along for fallback visibility
	assert.Equal(t, 0, reply.Snapshots.Size)
}

func TestSystemHealth_AllHealthy(t *testing.T) {
	f := newOpsFixture(t)

	f.health.Update("market-data", biz.HealthHealthy, 80*time.Millisecond, nil)
	f.health.Update("portfolio", biz.HealthHealthy, 95*time.Millisecond, nil)

	reply, err := f.svc.SystemHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", reply.Status)
}

func TestListBreakers(t *testing.T) {
	f := newOpsFixture(t)
	ctx := context.Background()

	f.breakers.GetOrCreate("market-data", nil, nil)
	nft := f.breakers.GetOrCreate("nft-market", nil, nil)
	nft.ForceState(ctx, biz.StateOpen)

	reply, err := f.svc.ListBreakers(ctx)
	require.NoError(t, err)

	assert.Len(t, reply.Breakers, 2)
	assert.True(t, reply.Healthy["market-data"], "closed breaker is healthy")
	assert.False(t, reply.Healthy["nft-market"], "open breaker is unhealthy")
}

func TestGetBreaker(t *testing.T) {
	f := newOpsFixture(t)

	f.breakers.GetOrCreate("market-data", &biz.CircuitBreakerConfig{
		FailureThreshold: 7,
		RecoveryTimeout:  10 * time.Second,
		MonitoringWindow: 2 * time.Minute,
		SuccessThreshold: 3,
		FallbackEnabled:  true,
	}, nil)

	reply, err := f.svc.GetBreaker(context.Background(), "market-data")
	require.NoError(t, err)

	assert.Equal(t, "market-data", reply.Service)
	assert.Equal(t, 7, reply.Config.FailureThreshold)
	assert.Equal(t, int64(10000), reply.Config.RecoveryTimeoutMs)
	assert.Equal(t, int64(120000), reply.Config.MonitoringWindowMs)
	assert.Equal(t, 3, reply.Config.SuccessThreshold)
	assert.True(t, reply.Config.FallbackEnabled)
}

func TestGetBreaker_NotFound(t *testing.T) {
	f := newOpsFixture(t)

	_, err := f.svc.GetBreaker(context.Background(), "block-explorer")
	require.Error(t, err)
	assert.True(t, kerrors.IsNotFound(err))
	assert.Equal(t, "BREAKER_NOT_FOUND", kerrors.FromError(err).Reason)
}

func TestForceBreakerState(t *testing.T) {
	f := newOpsFixture(t)
	ctx := context.Background()

	f.breakers.GetOrCreate("market-data", nil, nil)

	reply, err := f.svc.ForceBreakerState(ctx, "market-data", &ForceStateRequest{State: "open"})
	require.NoError(t, err)
	assert.Equal(t, "market-data", reply.Service)
	assert.Equal(t, "open", reply.State)

	b, _ := f.breakers.Get("market-data")
	assert.Equal(t, biz.StateOpen, b.State())
}

func TestForceBreakerState_InvalidState(t *testing.T) {
	f := newOpsFixture(t)

	f.breakers.GetOrCreate("market-data", nil, nil)

	_, err := f.svc.ForceBreakerState(context.Background(), "market-data", &ForceStateRequest{State: "melted"})
	require.Error(t, err)
	assert.True(t, kerrors.IsBadRequest(err))
	assert.Equal(t, "INVALID_STATE", kerrors.FromError(err).Reason)
}

func TestForceBreakerState_NotFound(t *testing.T) {
	f := newOpsFixture(t)

	_, err := f.svc.ForceBreakerState(context.Background(), "block-explorer", &ForceStateRequest{State: "open"})
	require.Error(t, err)
	assert.True(t, kerrors.IsNotFound(err))
}

func TestResetBreaker(t *testing.T) {
	f := newOpsFixture(t)
	ctx := context.Background()

	b := f.breakers.GetOrCreate("market-data", nil, nil)
	b.ForceState(ctx, biz.StateOpen)

	reply, err := f.svc.ResetBreaker(ctx, "market-data")
	require.NoError(t, err)
	assert.Equal(t, "closed", reply.State)
	assert.Equal(t, biz.StateClosed, b.State())
}

func TestResetBreaker_NotFound(t *testing.T) {
	f := newOpsFixture(t)

	_, err := f.svc.ResetBreaker(context.Background(), "block-explorer")
	require.Error(t, err)
	assert.True(t, kerrors.IsNotFound(err))
}

func TestColdStartStatus(t *testing.T) {
	f := newOpsFixture(t)
	ctx := context.Background()

	require.NoError(t, f.orchestrator.Register(biz.ServiceDefinition{
		Name:     "market-data",
		Priority: biz.PriorityCritical,
		Initializer: func(ctx context.Context) (interface{}, error) {
			return "ready", nil
		},
	}))

	_, err := f.orchestrator.ExecuteColdStart(ctx)
	require.NoError(t, err)

	reply, err := f.svc.ColdStartStatus(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, reply.Metrics.TotalServicesLoaded)
	state, ok := reply.States["market-data"]
	require.True(t, ok)
	assert.Equal(t, biz.LoadLoaded, state.Status)
}

func TestRetryFailedServices(t *testing.T) {
	f := newOpsFixture(t)
	ctx := context.Background()

	attempts := 0
	require.NoError(t, f.orchestrator.Register(biz.ServiceDefinition{
		Name:     "sentiment",
		Priority: biz.PriorityLow,
		Initializer: func(ctx context.Context) (interface{}, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("upstream sentiment: server error (HTTP 503)")
			}
			return "recovered", nil
		},
	}))

	_, err := f.orchestrator.ExecuteColdStart(ctx)
	require.NoError(t, err)
	require.Contains(t, f.orchestrator.Metrics().FailedServices, "sentiment")

	reply, err := f.svc.RetryFailedServices(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, attempts)
	assert.Empty(t, reply.Metrics.FailedServices)
	assert.Equal(t, biz.LoadLoaded, reply.States["sentiment"].Status)
}

func TestRecentErrors(t *testing.T) {
	f := newOpsFixture(t)
	ctx := context.Background()

	f.telemetry.RecordError(ctx, errors.New("market-data probe failed"), nil, biz.SeverityHigh)
	f.telemetry.RecordError(ctx, errors.New("sentiment rate limited"), nil)

	reply, err := f.svc.RecentErrors(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, reply.Count)
	require.Len(t, reply.Errors, 2)
	// Oldest first
	assert.Equal(t, "market-data probe failed", reply.Errors[0].Message)
	assert.Equal(t, biz.SeverityHigh, reply.Errors[0].Severity)
}

func TestRecentMetrics(t *testing.T) {
	f := newOpsFixture(t)
	ctx := context.Background()

	f.telemetry.RecordMetric(ctx, "coldstart.ttfp", 842, "ms", nil)

	reply, err := f.svc.RecentMetrics(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, reply.Count)
	require.Len(t, reply.Metrics, 1)
	assert.Equal(t, "coldstart.ttfp", reply.Metrics[0].Name)
	assert.Equal(t, float64(842), reply.Metrics[0].Value)
}

func TestMapDomainError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   int32
		reason string
	}{
		{
			name:   "circuit open",
			err:    &biz.CircuitOpenError{Service: "market-data", RetryAfter: 5 * time.Second},
			code:   503,
			reason: "CIRCUIT_OPEN",
		},
		{
			name:   "load timeout",
			err:    &biz.TimeoutError{Service: "portfolio", Stage: "load", Timeout: 8 * time.Second},
			code:   504,
			reason: "LOAD_TIMEOUT",
		},
		{
			name:   "unknown service",
			err:    &biz.UnknownServiceError{Name: "block-explorer"},
			code:   404,
			reason: "UNKNOWN_SERVICE",
		},
		{
			name:   "dependency cycle",
			err:    &biz.CycleError{Cycle: []string{"a", "b", "a"}},
			code:   409,
			reason: "CIRCULAR_DEPENDENCY",
		},
		{
			name:   "dependency failed",
			err:    &biz.DependencyError{Service: "portfolio", Dependency: "market-data"},
			code:   424,
			reason: "DEPENDENCY_FAILED",
		},
		{
			name:   "health check failed",
			err:    &biz.HealthCheckError{Service: "nft-market"},
			code:   503,
			reason: "HEALTH_CHECK_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := mapDomainError(tt.err)
			ke := kerrors.FromError(mapped)
			assert.Equal(t, tt.code, ke.Code)
			assert.Equal(t, tt.reason, ke.Reason)
		})
	}
}

func TestMapDomainError_Passthrough(t *testing.T) {
	assert.NoError(t, mapDomainError(nil))

	plain := errors.New("something else")
	assert.Equal(t, plain, mapDomainError(plain))
}
