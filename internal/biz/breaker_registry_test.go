package biz

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"

	"ChainPulse/internal/conf"
)

func newTestRegistry(t *testing.T, rc *conf.Resilience) *BreakerRegistry {
	return NewBreakerRegistry(rc, newTestTelemetry(t), &recordingAudit{}, log.NewStdLogger(os.Stdout))
}

// Test GetOrCreate - one breaker per service, first registration wins
func TestRegistry_GetOrCreateOnce(t *testing.T) {
	r := newTestRegistry(t, nil)

	first := r.GetOrCreate("market-data", &CircuitBreakerConfig{FailureThreshold: 2}, nil)
	second := r.GetOrCreate("market-data", &CircuitBreakerConfig{FailureThreshold: 9}, nil)

	assert.Same(t, first, second)
	assert.Equal(t, 2, second.Config().FailureThreshold)
	assert.Equal(t, "market-data", second.Config().ServiceName)
}

// Test GetOrCreate - nil config takes the registry defaults
func TestRegistry_DefaultsFromConf(t *testing.T) {
	rc := &conf.Resilience{
		FailureThreshold: 7,
		RecoveryTimeout:  durationpb.New(15 * time.Second),
		MonitoringWindow: durationpb.New(45 * time.Second),
		SuccessThreshold: 4,
		FallbackEnabled:  true,
	}
	r := newTestRegistry(t, rc)

	b := r.GetOrCreate("portfolio", nil, nil)
	cfg := b.Config()
	assert.Equal(t, 7, cfg.FailureThreshold)
	assert.Equal(t, 15*time.Second, cfg.RecoveryTimeout)
	assert.Equal(t, 45*time.Second, cfg.MonitoringWindow)
	assert.Equal(t, 4, cfg.SuccessThreshold)
	assert.True(t, cfg.FallbackEnabled)
}

// Test GetOrCreate - nil resilience section falls back to stock tuning
func TestRegistry_StockDefaults(t *testing.T) {
	r := newTestRegistry(t, nil)

	cfg := r.GetOrCreate("sentiment", nil, nil).Config()
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.RecoveryTimeout)
	assert.Equal(t, 3, cfg.SuccessThreshold)
	assert.True(t, cfg.FallbackEnabled)
}

// Test Get - does not create
func TestRegistry_GetWithoutCreate(t *testing.T) {
	r := newTestRegistry(t, nil)

	_, ok := r.Get("ghost")
	assert.False(t, ok)

	r.GetOrCreate("market-data", nil, nil)
	b, ok := r.Get("market-data")
	assert.True(t, ok)
	assert.NotNil(t, b)
}

// Test Names - sorted listing
func TestRegistry_Names(t *testing.T) {
	r := newTestRegistry(t, nil)
	r.GetOrCreate("sentiment", nil, nil)
	r.GetOrCreate("market-data", nil, nil)
	r.GetOrCreate("portfolio", nil, nil)

	assert.Equal(t, []string{"market-data", "portfolio", "sentiment"}, r.Names())
}

// Test AllMetrics - snapshot per breaker
func TestRegistry_AllMetrics(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()

	_, err := r.GetOrCreate("market-data", nil, nil).Execute(ctx, succeedingOp)
	require.NoError(t, err)
	r.GetOrCreate("sentiment", nil, nil)

	all := r.AllMetrics()
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all["market-data"].TotalRequests)
	assert.Equal(t, int64(1), all["market-data"].SuccessfulRequests)
	assert.Equal(t, int64(0), all["sentiment"].TotalRequests)
}

// Test HealthSummary - open breakers report unhealthy
func TestRegistry_HealthSummary(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()

	healthy := r.GetOrCreate("market-data", nil, nil)
	_, err := healthy.Execute(ctx, succeedingOp)
	require.NoError(t, err)

	broken := r.GetOrCreate("sentiment", &CircuitBreakerConfig{FailureThreshold: 1}, nil)
	_, _ = broken.Execute(ctx, failingOp)
	require.Equal(t, StateOpen, broken.State())

	summary := r.HealthSummary()
	assert.True(t, summary["market-data"])
	assert.False(t, summary["sentiment"])
}
