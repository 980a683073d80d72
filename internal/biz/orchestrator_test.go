package biz

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"

	"ChainPulse/internal/conf"
)

func (a *recordingAudit) coldStartCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.coldStarts
}

func (a *recordingAudit) warmCycleCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.warmCycles
}

// fastColdStart returns a config with test-friendly intervals and cache
// warming off.
func fastColdStart() *conf.ColdStart {
	return &conf.ColdStart{
		Progressive:       true,
		BatchSize:         3,
		BatchInterval:     durationpb.New(5 * time.Millisecond),
		LoadTimeout:       durationpb.New(2 * time.Second),
		SlowLoadThreshold: durationpb.New(time.Second),
		CacheWarming:      &conf.ColdStart_CacheWarming{Enabled: false},
	}
}

func newTestOrchestrator(t *testing.T, cc *conf.ColdStart) (*ColdStartOrchestrator, *recordingAudit) {
	audit := &recordingAudit{}
	o, cleanup, err := NewColdStartOrchestrator(cc, newTestTelemetry(t), audit, log.NewStdLogger(os.Stdout))
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return o, audit
}

// countingInit returns an initializer that counts its invocations.
func countingInit(n *atomic.Int32) Initializer {
	return func(ctx context.Context) (interface{}, error) {
		n.Add(1)
		return "ready", nil
	}
}

// Test Register - duplicate names are rejected
func TestOrchestrator_RegisterDuplicate(t *testing.T) {
	o, _ := newTestOrchestrator(t, fastColdStart())

	require.NoError(t, o.Register(ServiceDefinition{Name: "market-data", Initializer: noopInitializer}))
	err := o.Register(ServiceDefinition{Name: "market-data", Initializer: noopInitializer})
	assert.ErrorContains(t, err, "already registered")
}

// Test Register - a registration closing a dependency cycle is rejected
func TestOrchestrator_CycleRejectedAtRegistration(t *testing.T) {
	o, _ := newTestOrchestrator(t, fastColdStart())

	// Forward references are fine; the cycle does not exist yet
	require.NoError(t, o.Register(ServiceDefinition{
		Name:         "portfolio",
		Initializer:  noopInitializer,
		Dependencies: []string{"market-data"},
	}))

	err := o.Register(ServiceDefinition{
		Name:         "market-data",
		Initializer:  noopInitializer,
		Dependencies: []string{"portfolio"},
	})
	require.True(t, IsCycle(err))

	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Contains(t, cycle.Cycle, "market-data")
	assert.Contains(t, cycle.Cycle, "portfolio")

	// The rejected definition was rolled back and can re-register cleanly
	require.NoError(t, o.Register(ServiceDefinition{
		Name:        "market-data",
		Initializer: noopInitializer,
	}))
}

// Test Register - self dependency is the smallest cycle
func TestOrchestrator_SelfDependencyRejected(t *testing.T) {
	o, _ := newTestOrchestrator(t, fastColdStart())

	err := o.Register(ServiceDefinition{
		Name:         "market-data",
		Initializer:  noopInitializer,
		Dependencies: []string{"market-data"},
	})
	assert.True(t, IsCycle(err))
}

// Test ExecuteColdStart - a failed fallback-less dependency blocks its
// dependents and their initializers never run
func TestColdStart_DependencyCascade(t *testing.T) {
	o, audit := newTestOrchestrator(t, fastColdStart())
	var portfolioRuns atomic.Int32

	require.NoError(t, o.Register(ServiceDefinition{
		Name:        "auth",
		Priority:    PriorityCritical,
		Initializer: failingOp,
	}))
	require.NoError(t, o.Register(ServiceDefinition{
		Name:         "portfolio",
		Priority:     PriorityCritical,
		Dependencies: []string{"auth"},
		Initializer:  countingInit(&portfolioRuns),
	}))

	m, err := o.ExecuteColdStart(context.Background())
	require.NoError(t, err)

	assert.Zero(t, portfolioRuns.Load())
	assert.ElementsMatch(t, []string{"auth", "portfolio"}, m.FailedServices)
	assert.Equal(t, 0, m.CriticalServicesLoaded)
	assert.Equal(t, 0, m.TotalServicesLoaded)

	st, ok := o.State("portfolio")
	require.True(t, ok)
	assert.Equal(t, LoadFailed, st.Status)
	assert.Contains(t, st.Error, "auth")

	assert.Contains(t, audit.loadList(), "auth:failed:critical")
	assert.Contains(t, audit.loadList(), "portfolio:failed:critical")
	assert.Equal(t, 1, audit.coldStartCount())
}

// Test ExecuteColdStart - fallback data degrades a failed load instead of
// failing it
func TestColdStart_FallbackService(t *testing.T) {
	o, audit := newTestOrchestrator(t, fastColdStart())

	require.NoError(t, o.Register(ServiceDefinition{
		Name:         "market-data",
		Priority:     PriorityCritical,
		Initializer:  failingOp,
		FallbackData: map[string]interface{}{"btc_usd": 0.0},
	}))

	m, err := o.ExecuteColdStart(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"market-data"}, m.FallbackServices)
	assert.Empty(t, m.FailedServices)
	assert.Equal(t, 0, m.CriticalServicesLoaded)
	assert.Equal(t, 0, m.TotalServicesLoaded)

	st, _ := o.State("market-data")
	assert.Equal(t, LoadFallback, st.Status)
	assert.Contains(t, audit.loadList(), "market-data:fallback:critical")
}

// Test ExecuteColdStart - dependents of a fallback service still load
func TestColdStart_DependentOfFallbackLoads(t *testing.T) {
	o, _ := newTestOrchestrator(t, fastColdStart())
	var portfolioRuns atomic.Int32

	require.NoError(t, o.Register(ServiceDefinition{
		Name:         "market-data",
		Priority:     PriorityCritical,
		Initializer:  failingOp,
		FallbackData: map[string]interface{}{"cached": true},
	}))
	require.NoError(t, o.Register(ServiceDefinition{
		Name:         "portfolio",
		Priority:     PriorityHigh,
		Dependencies: []string{"market-data"},
		Initializer:  countingInit(&portfolioRuns),
	}))

	m, err := o.ExecuteColdStart(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), portfolioRuns.Load())
	assert.Equal(t, 1, m.TotalServicesLoaded)
	st, _ := o.State("portfolio")
	assert.Equal(t, LoadLoaded, st.Status)
}

// Test ExecuteColdStart - independent critical services are isolated from
// each other's failures
func TestColdStart_IndependentCriticalFailure(t *testing.T) {
	o, _ := newTestOrchestrator(t, fastColdStart())
	var marketRuns atomic.Int32

	require.NoError(t, o.Register(ServiceDefinition{
		Name:        "auth",
		Priority:    PriorityCritical,
		Initializer: failingOp,
	}))
	require.NoError(t, o.Register(ServiceDefinition{
		Name:        "market-data",
		Priority:    PriorityCritical,
		Initializer: countingInit(&marketRuns),
	}))

	m, err := o.ExecuteColdStart(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), marketRuns.Load())
	assert.Equal(t, 1, m.CriticalServicesLoaded)
	assert.Equal(t, 1, m.TotalServicesLoaded)
	assert.Equal(t, []string{"auth"}, m.FailedServices)
}

// Test ExecuteColdStart - unknown dependency fails fast before any load
func TestColdStart_UnknownDependency(t *testing.T) {
	o, _ := newTestOrchestrator(t, fastColdStart())
	var runs atomic.Int32

	require.NoError(t, o.Register(ServiceDefinition{
		Name:         "portfolio",
		Priority:     PriorityCritical,
		Dependencies: []string{"ghost"},
		Initializer:  countingInit(&runs),
	}))

	_, err := o.ExecuteColdStart(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnknownService(err))
	assert.Zero(t, runs.Load())
}

// Test ExecuteColdStart - a second run is rejected
func TestColdStart_RunsOnce(t *testing.T) {
	o, _ := newTestOrchestrator(t, fastColdStart())
	require.NoError(t, o.Register(ServiceDefinition{Name: "market-data", Initializer: noopInitializer}))

	_, err := o.ExecuteColdStart(context.Background())
	require.NoError(t, err)

	_, err = o.ExecuteColdStart(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyBootstrapped)
}

// Test Register - registration closes once orchestration ran
func TestColdStart_RegisterAfterRun(t *testing.T) {
	o, _ := newTestOrchestrator(t, fastColdStart())
	require.NoError(t, o.Register(ServiceDefinition{Name: "market-data", Initializer: noopInitializer}))

	_, err := o.ExecuteColdStart(context.Background())
	require.NoError(t, err)

	err = o.Register(ServiceDefinition{Name: "late", Initializer: noopInitializer})
	assert.ErrorContains(t, err, "already ran")
}

// Test progressive phase - batches run in priority order
func TestColdStart_ProgressivePriorityOrder(t *testing.T) {
	cc := fastColdStart()
	cc.BatchSize = 1
	o, _ := newTestOrchestrator(t, cc)

	var mu sync.Mutex
	var order []string
	rec := func(name string) Initializer {
		return func(ctx context.Context) (interface{}, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}

	require.NoError(t, o.Register(ServiceDefinition{Name: "gas-tracker", Priority: PriorityLow, Initializer: rec("gas-tracker")}))
	require.NoError(t, o.Register(ServiceDefinition{Name: "nft-market", Priority: PriorityMedium, Initializer: rec("nft-market")}))
	require.NoError(t, o.Register(ServiceDefinition{Name: "portfolio", Priority: PriorityHigh, Initializer: rec("portfolio")}))

	m, err := o.ExecuteColdStart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, m.TotalServicesLoaded)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"portfolio", "nft-market", "gas-tracker"}, order)
}

// Test progressive phase - disabled leaves non-critical services pending
func TestColdStart_ProgressiveDisabled(t *testing.T) {
	cc := fastColdStart()
	cc.Progressive = false
	o, _ := newTestOrchestrator(t, cc)
	var highRuns atomic.Int32

	require.NoError(t, o.Register(ServiceDefinition{
		Name:        "market-data",
		Priority:    PriorityCritical,
		Initializer: noopInitializer,
	}))
	require.NoError(t, o.Register(ServiceDefinition{
		Name:        "portfolio",
		Priority:    PriorityHigh,
		Initializer: countingInit(&highRuns),
	}))

	m, err := o.ExecuteColdStart(context.Background())
	require.NoError(t, err)

	assert.Zero(t, highRuns.Load())
	assert.Equal(t, 1, m.TotalServicesLoaded)
	assert.Zero(t, m.TimeToInteractiveMs)

	st, _ := o.State("portfolio")
	assert.Equal(t, LoadPending, st.Status)
}

// Test timings - first paint tracks the slowest critical load, interactive
// covers the high tier too
func TestColdStart_Timings(t *testing.T) {
	o, _ := newTestOrchestrator(t, fastColdStart())

	require.NoError(t, o.Register(ServiceDefinition{
		Name:     "market-data",
		Priority: PriorityCritical,
		Initializer: func(ctx context.Context) (interface{}, error) {
			time.Sleep(30 * time.Millisecond)
			return "ready", nil
		},
	}))
	require.NoError(t, o.Register(ServiceDefinition{
		Name:     "portfolio",
		Priority: PriorityHigh,
		Initializer: func(ctx context.Context) (interface{}, error) {
			time.Sleep(10 * time.Millisecond)
			return "ready", nil
		},
	}))

	m, err := o.ExecuteColdStart(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, m.TimeToFirstPaintMs, int64(30))
	assert.GreaterOrEqual(t, m.TimeToInteractiveMs, m.TimeToFirstPaintMs)
	assert.GreaterOrEqual(t, m.OverallDurationMs, m.TimeToFirstPaintMs)
	assert.Positive(t, m.TimeToInteractiveMs)
}

// Test load timeout - a hung initializer settles as failed when its budget
// runs out
func TestColdStart_LoadTimeout(t *testing.T) {
	o, _ := newTestOrchestrator(t, fastColdStart())

	require.NoError(t, o.Register(ServiceDefinition{
		Name:     "sentiment",
		Priority: PriorityCritical,
		Timeout:  30 * time.Millisecond,
		Initializer: func(ctx context.Context) (interface{}, error) {
			time.Sleep(500 * time.Millisecond)
			return "late", nil
		},
	}))

	m, err := o.ExecuteColdStart(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"sentiment"}, m.FailedServices)
	st, _ := o.State("sentiment")
	assert.Equal(t, LoadFailed, st.Status)
	assert.Contains(t, st.Error, "timed out")
}

// Test health check - a false verdict fails the load even though the
// initializer succeeded
func TestColdStart_HealthCheckGate(t *testing.T) {
	o, _ := newTestOrchestrator(t, fastColdStart())

	require.NoError(t, o.Register(ServiceDefinition{
		Name:        "market-data",
		Priority:    PriorityCritical,
		Initializer: noopInitializer,
		HealthCheck: func(ctx context.Context) (bool, error) {
			return false, nil
		},
	}))
	require.NoError(t, o.Register(ServiceDefinition{
		Name:        "sentiment",
		Priority:    PriorityCritical,
		Initializer: noopInitializer,
		HealthCheck: func(ctx context.Context) (bool, error) {
			return false, nil
		},
		FallbackData: map[string]interface{}{"score": 50},
	}))

	m, err := o.ExecuteColdStart(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"market-data"}, m.FailedServices)
	assert.Equal(t, []string{"sentiment"}, m.FallbackServices)

	st, _ := o.State("market-data")
	assert.Contains(t, st.Error, "health check failed")
}

// Test RetryFailedServices - a flaky service recovers on the second attempt
func TestColdStart_RetryFailedServices(t *testing.T) {
	o, _ := newTestOrchestrator(t, fastColdStart())

	var attempts atomic.Int32
	require.NoError(t, o.Register(ServiceDefinition{
		Name:     "market-data",
		Priority: PriorityCritical,
		Initializer: func(ctx context.Context) (interface{}, error) {
			if attempts.Add(1) == 1 {
				return nil, errors.New("first attempt fails")
			}
			return "ready", nil
		},
	}))

	m, err := o.ExecuteColdStart(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"market-data"}, m.FailedServices)
	require.Equal(t, 0, m.CriticalServicesLoaded)

	m, err = o.RetryFailedServices(context.Background())
	require.NoError(t, err)

	assert.Empty(t, m.FailedServices)
	assert.Equal(t, 1, m.TotalServicesLoaded)
	assert.Equal(t, 1, m.CriticalServicesLoaded)

	st, _ := o.State("market-data")
	assert.Equal(t, LoadLoaded, st.Status)
	assert.Equal(t, 1, st.RetryCount)
}

// Test RetryFailedServices - nothing failed is a no-op
func TestColdStart_RetryNothing(t *testing.T) {
	o, _ := newTestOrchestrator(t, fastColdStart())
	require.NoError(t, o.Register(ServiceDefinition{Name: "market-data", Initializer: noopInitializer}))

	_, err := o.ExecuteColdStart(context.Background())
	require.NoError(t, err)

	m, err := o.RetryFailedServices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, m.TotalServicesLoaded)
}

// Test RetryFailedServices - rejected before the first run
func TestColdStart_RetryBeforeRun(t *testing.T) {
	o, _ := newTestOrchestrator(t, fastColdStart())

	_, err := o.RetryFailedServices(context.Background())
	assert.ErrorContains(t, err, "not run")
}

// Test WarmCaches - re-invokes warmup initializers without touching the
// orchestration metrics
func TestColdStart_WarmCaches(t *testing.T) {
	cc := fastColdStart()
	cc.CacheWarming = &conf.ColdStart_CacheWarming{
		Enabled:        true,
		WarmupServices: []string{"market-data", "ghost"},
	}
	o, audit := newTestOrchestrator(t, cc)

	var runs atomic.Int32
	require.NoError(t, o.Register(ServiceDefinition{
		Name:        "market-data",
		Priority:    PriorityCritical,
		Initializer: countingInit(&runs),
	}))

	_, err := o.ExecuteColdStart(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), runs.Load())

	warmed, failed := o.WarmCaches(context.Background())
	assert.Equal(t, 1, warmed)
	assert.Equal(t, 0, failed)
	assert.Equal(t, int32(2), runs.Load())
	assert.Equal(t, 1, audit.warmCycleCount())

	// Warm cycles never change load bookkeeping
	m := o.Metrics()
	assert.Equal(t, 1, m.TotalServicesLoaded)
	st, _ := o.State("market-data")
	assert.Equal(t, LoadLoaded, st.Status)
}

// Test WarmCaches - failures are counted but not recorded against the service
func TestColdStart_WarmFailureCounted(t *testing.T) {
	cc := fastColdStart()
	cc.CacheWarming = &conf.ColdStart_CacheWarming{
		Enabled:        true,
		WarmupServices: []string{"market-data"},
	}
	o, _ := newTestOrchestrator(t, cc)

	var calls atomic.Int32
	require.NoError(t, o.Register(ServiceDefinition{
		Name:     "market-data",
		Priority: PriorityCritical,
		Initializer: func(ctx context.Context) (interface{}, error) {
			if calls.Add(1) > 1 {
				return nil, errors.New("warm refresh failed")
			}
			return "ready", nil
		},
	}))

	_, err := o.ExecuteColdStart(context.Background())
	require.NoError(t, err)

	warmed, failed := o.WarmCaches(context.Background())
	assert.Equal(t, 0, warmed)
	assert.Equal(t, 1, failed)

	st, _ := o.State("market-data")
	assert.Equal(t, LoadLoaded, st.Status)
}

// Test background warm - fires after the configured delay
func TestColdStart_BackgroundWarm(t *testing.T) {
	cc := fastColdStart()
	cc.CacheWarming = &conf.ColdStart_CacheWarming{
		Enabled:           true,
		BackgroundRefresh: true,
		WarmupServices:    []string{"market-data"},
		Delay:             durationpb.New(20 * time.Millisecond),
	}
	o, _ := newTestOrchestrator(t, cc)

	var runs atomic.Int32
	require.NoError(t, o.Register(ServiceDefinition{
		Name:        "market-data",
		Priority:    PriorityCritical,
		Initializer: countingInit(&runs),
	}))

	_, err := o.ExecuteColdStart(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), runs.Load())

	assert.Eventually(t, func() bool {
		return runs.Load() == 2
	}, time.Second, 10*time.Millisecond)
}

// Test ExecuteColdStart - empty registry completes cleanly
func TestColdStart_EmptyRegistry(t *testing.T) {
	o, audit := newTestOrchestrator(t, fastColdStart())

	m, err := o.ExecuteColdStart(context.Background())
	require.NoError(t, err)

	assert.Zero(t, m.TotalServicesLoaded)
	assert.Empty(t, m.FailedServices)
	assert.Empty(t, m.FallbackServices)
	assert.Zero(t, m.TimeToInteractiveMs)
	assert.Equal(t, 1, audit.coldStartCount())
}

// Test ServiceNames - sorted listing of registered definitions
func TestOrchestrator_ServiceNames(t *testing.T) {
	o, _ := newTestOrchestrator(t, fastColdStart())
	require.NoError(t, o.Register(ServiceDefinition{Name: "sentiment", Initializer: noopInitializer}))
	require.NoError(t, o.Register(ServiceDefinition{Name: "auth", Initializer: noopInitializer}))

	assert.Equal(t, []string{"auth", "sentiment"}, o.ServiceNames())
}
