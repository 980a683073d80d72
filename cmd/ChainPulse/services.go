package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ChainPulse/internal/biz"
	"ChainPulse/internal/conf"
	"ChainPulse/internal/data"
	"ChainPulse/pkg/metadata"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// upstreamService describes one dashboard upstream to register with the
// cold-start orchestrator.
type upstreamService struct {
	name     string
	priority biz.ServicePriority
	deps     []string
	timeout  time.Duration
	fallback interface{}
	meta     string
}

// dashboardServices is the fixed set of upstreams the dashboard depends on.
// Price data and the portfolio valuation built on it are critical; NFT floor
// prices render above the fold but can wait a batch; sentiment is a widget.
func dashboardServices() []upstreamService {
	return []upstreamService{
		{
			name:     data.ServiceMarketData,
			priority: biz.PriorityCritical,
			timeout:  8 * time.Second,
			fallback: map[string]interface{}{"prices": map[string]float64{}, "stale": true},
			meta:     `{"region":"global","tags":["dashboard","prices"]}`,
		},
		{
			name:     data.ServicePortfolio,
			priority: biz.PriorityCritical,
			deps:     []string{data.ServiceMarketData},
			meta:     `{"region":"us-east","tags":["dashboard","wallet"]}`,
			// No static fallback: stale holdings are worse than an explicit
			// failed tile, and the retry path re-loads it.
		},
		{
			name:     data.ServiceNFTMarket,
			priority: biz.PriorityMedium,
			timeout:  6 * time.Second,
			meta:     `{"region":"global","tags":["dashboard","nft"]}`,
		},
		{
			name:     data.ServiceSentiment,
			priority: biz.PriorityLow,
			timeout:  5 * time.Second,
			fallback: map[string]interface{}{"fear_greed_index": 50, "classification": "Neutral", "stale": true},
			meta:     `{"region":"us-east","tags":["dashboard","sentiment"]}`,
		},
	}
}

// Bootstrapper registers the dashboard upstreams with the cold-start
// orchestrator and launches orchestration once the servers are listening.
type Bootstrapper struct {
	orchestrator *biz.ColdStartOrchestrator
	breakers     *biz.BreakerRegistry
	probes       *data.UpstreamProbes
	d            *data.Data
	cronSpec     string
	helper       *log.Helper
	logger       log.Logger

	mu       sync.Mutex
	warmCron *cron.Cron
}

// newBootstrapper builds the bootstrapper and registers every dashboard
// upstream. Registration failures abort startup.
func newBootstrapper(
	cc *conf.ColdStart,
	orchestrator *biz.ColdStartOrchestrator,
	breakers *biz.BreakerRegistry,
	probes *data.UpstreamProbes,
	d *data.Data,
	logger log.Logger,
) (*Bootstrapper, func(), error) {
	spec := ""
	if cc != nil && cc.CacheWarming != nil {
		spec = cc.CacheWarming.Cron
	}

	b := &Bootstrapper{
		orchestrator: orchestrator,
		breakers:     breakers,
		probes:       probes,
		d:            d,
		cronSpec:     spec,
		helper:       log.NewHelper(logger),
		logger:       logger,
	}

	if err := b.registerDashboardServices(); err != nil {
		return nil, nil, err
	}

	cleanup := func() { b.stopWarmCron() }
	return b, cleanup, nil
}

// registerDashboardServices wires each upstream into the orchestrator: the
// probe initializer runs inside that service's circuit breaker, the breaker
// falls back to the last-good snapshot, and the probe health check gates the
// loaded state.
func (b *Bootstrapper) registerDashboardServices() error {
	for _, svc := range dashboardServices() {
		meta, err := metadata.Parse(svc.meta)
		if err != nil {
			return fmt.Errorf("service %s: %w", svc.name, err)
		}
		if err := b.probes.ApplyMetadata(svc.name, meta); err != nil {
			return fmt.Errorf("service %s: %w", svc.name, err)
		}

		breaker := b.breakers.GetOrCreate(svc.name, nil, b.d.GetSnapshots().Provider(svc.name))
		init := b.probes.Initializer(svc.name)
		guarded := func(ctx context.Context) (interface{}, error) {
			return breaker.Execute(ctx, biz.Operation(init))
		}

		def := biz.ServiceDefinition{
			Name:         svc.name,
			Priority:     svc.priority,
			Dependencies: svc.deps,
			Initializer:  guarded,
			HealthCheck:  b.probes.HealthCheck(svc.name),
			FallbackData: svc.fallback,
			Timeout:      svc.timeout,
			Metadata:     svc.meta,
		}
		if err := b.orchestrator.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// AfterStart launches cold-start orchestration in the background so the
// servers answer health checks while upstreams are still loading.
func (b *Bootstrapper) AfterStart(ctx context.Context) error {
	go b.runColdStart()
	return nil
}

// BeforeStop halts the periodic warm job before the servers drain.
func (b *Bootstrapper) BeforeStop(ctx context.Context) error {
	b.stopWarmCron()
	return nil
}

func (b *Bootstrapper) runColdStart() {
	metrics, err := b.orchestrator.ExecuteColdStart(context.Background())
	if err != nil {
		b.helper.Errorw("msg", "cold start finished with failures",
			"error", err,
			"failed_services", metrics.FailedServices,
			"fallback_services", metrics.FallbackServices,
		)
	} else {
		b.helper.Infow("msg", "cold start complete",
			"critical_loaded", metrics.CriticalServicesLoaded,
			"total_loaded", metrics.TotalServicesLoaded,
			"ttfp_ms", metrics.TimeToFirstPaintMs,
			"tti_ms", metrics.TimeToInteractiveMs,
		)
	}

	// Periodic re-warm starts after the first orchestration either way; a
	// warm cycle is also how a degraded upstream gets fresh data again.
	b.startWarmCron()
}

func (b *Bootstrapper) startWarmCron() {
	c := StartCacheWarmCron(b.orchestrator, b.cronSpec, b.logger)
	if c == nil {
		return
	}
	b.mu.Lock()
	b.warmCron = c
	b.mu.Unlock()
}

func (b *Bootstrapper) stopWarmCron() {
	b.mu.Lock()
	c := b.warmCron
	b.warmCron = nil
	b.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}
