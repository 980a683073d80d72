package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"ChainPulse/internal/biz"
	"ChainPulse/internal/conf"
	"ChainPulse/pkg/httputil"
	pkglog "ChainPulse/pkg/log"
	"ChainPulse/pkg/metadata"

	"github.com/go-kratos/kratos/v2/log"
)

// Dashboard upstream service names. These are the keys used across the
// breaker registry, the orchestrator, and the health registry.
const (
	ServiceMarketData = "market-data"
	ServicePortfolio  = "portfolio"
	ServiceNFTMarket  = "nft-market"
	ServiceSentiment  = "sentiment"
)

// probeUserAgent identifies ChainPulse probes to the upstream services.
const probeUserAgent = "ChainPulse/1.0"

// defaultProbeTimeout caps one probe round trip when none is configured.
const defaultProbeTimeout = 5 * time.Second

// probeTarget is one upstream's probe configuration: base endpoint, the
// cheap reachability path, and the HTTP client (direct or via proxy).
type probeTarget struct {
	baseURL   string
	probePath string
	client    *http.Client
}

// ProbeResult is the decoded outcome of one upstream probe, cached briefly
// so a health check right after an initializer does not hit the wire twice.
type ProbeResult struct {
	Service   string                 `json:"service"`
	Status    int                    `json:"status"`
	LatencyMs int64                  `json:"latency_ms"`
	Body      map[string]interface{} `json:"body,omitempty"`
	CheckedAt time.Time              `json:"checked_at"`
}

// UpstreamProbes holds the thin reachability probes for the dashboard's
// external services. The probes are the collaborator seam the breakers and
// the cold-start orchestrator wrap: they confirm an upstream answers and
// capture its payload as a fallback snapshot, while the real data-fetching
// clients live outside this repo.
type UpstreamProbes struct {
	mu      sync.RWMutex
	targets map[string]*probeTarget

	timeout   time.Duration
	proxyURL  string
	cache     CacheClient
	snapshots *SnapshotStore
	logger    *log.Helper
	lh        *pkglog.LogHelper
}

// NewUpstreamProbes creates probes for every upstream with a configured URL.
// The shared proxy from the upstream config applies to all targets until a
// per-service metadata override replaces it.
func NewUpstreamProbes(uc *conf.Upstream, cache CacheClient, snapshots *SnapshotStore, logger log.Logger) (*UpstreamProbes, error) {
	p := &UpstreamProbes{
		targets:   make(map[string]*probeTarget),
		timeout:   defaultProbeTimeout,
		cache:     cache,
		snapshots: snapshots,
		logger:    log.NewHelper(logger),
		lh:        pkglog.NewLogHelper(logger),
	}
	if uc == nil {
		return p, nil
	}
	if d := uc.ProbeTimeout.AsDuration(); d > 0 {
		p.timeout = d
	}
	p.proxyURL = uc.ProxyUrl

	for _, t := range []struct {
		service   string
		baseURL   string
		probePath string
	}{
		{ServiceMarketData, uc.MarketDataUrl, "/ping"},
		{ServicePortfolio, uc.PortfolioUrl, "/healthz"},
		{ServiceNFTMarket, uc.NftMarketUrl, "/ping"},
		{ServiceSentiment, uc.SentimentUrl, "/healthz"},
	} {
		if t.baseURL == "" {
			continue
		}
		if err := p.setTarget(t.service, t.baseURL, t.probePath, p.proxyURL); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// setTarget builds or replaces the probe target for service.
func (p *UpstreamProbes) setTarget(service, baseURL, probePath, proxyURL string) error {
	client, err := httputil.NewClient(proxyURL, p.timeout)
	if err != nil {
		return fmt.Errorf("upstream %s: %w", service, err)
	}
	p.mu.Lock()
	p.targets[service] = &probeTarget{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		probePath: probePath,
		client:    client,
	}
	p.mu.Unlock()
	return nil
}

// ApplyMetadata overrides one service's endpoint and proxy from its parsed
// registration metadata. Unknown services are rejected; empty metadata
// fields keep the configured values.
func (p *UpstreamProbes) ApplyMetadata(service string, meta *metadata.ServiceMetadata) error {
	if meta == nil || meta.IsEmpty() {
		return nil
	}

	p.mu.RLock()
	t, ok := p.targets[service]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("upstream %s: no probe target configured", service)
	}

	baseURL := t.baseURL
	if meta.EndpointURL != "" {
		baseURL = meta.EndpointURL
	}
	proxyURL := p.proxyURL
	if meta.ProxyEnabled && meta.ProxyURL != "" {
		proxyURL = meta.ProxyURL
	}

	if err := p.setTarget(service, baseURL, t.probePath, proxyURL); err != nil {
		return err
	}
	p.lh.Upstream("Probe target reconfigured",
		"service", service,
		"endpoint", baseURL,
		"proxied", proxyURL != "",
		"region", meta.Region,
		"tags", strings.Join(meta.Tags, ","))
	return nil
}

// Services returns the names of every upstream with a configured target.
func (p *UpstreamProbes) Services() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.targets))
	for name := range p.targets {
		names = append(names, name)
	}
	return names
}

// Probe performs one reachability check against service. A 2xx answer
// returns the decoded body; auth failures, throttling, and server errors
// come back as distinct errors so severity classification stays meaningful.
func (p *UpstreamProbes) Probe(ctx context.Context, service string) (*ProbeResult, error) {
	p.mu.RLock()
	t, ok := p.targets[service]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("upstream %s: no probe target configured", service)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+t.probePath, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: failed to create probe request: %w", service, err)
	}
	req.Header.Set("User-Agent", probeUserAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: network probe failed: %w", service, err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()
	latency := time.Since(start)

	result := &ProbeResult{
		Service:   service,
		Status:    resp.StatusCode,
		LatencyMs: latency.Milliseconds(),
		CheckedAt: time.Now(),
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// Body stays optional: plain-text pongs are still a healthy answer
		var decoded map[string]interface{}
		if json.Unmarshal(body, &decoded) == nil {
			result.Body = decoded
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("upstream %s: unauthorized (HTTP %d)", service, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("upstream %s: rate limited (HTTP 429)", service)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("upstream %s: server error (HTTP %d)", service, resp.StatusCode)
	default:
		return nil, fmt.Errorf("upstream %s: unexpected probe status HTTP %d", service, resp.StatusCode)
	}

	p.lh.Upstream("Probe succeeded",
		"service", service,
		"status", resp.StatusCode,
		"latency_ms", result.LatencyMs)
	p.cacheResult(ctx, result)
	return result, nil
}

// cacheResult keeps the probe outcome briefly so a health check following an
// initializer reads the cached answer instead of probing again.
func (p *UpstreamProbes) cacheResult(ctx context.Context, result *ProbeResult) {
	if p.cache == nil {
		return
	}
	key := BuildCacheKey(CacheKeyProbe, result.Service)
	if err := p.cache.Set(ctx, key, result, TTLProbe); err != nil {
		p.logger.Debugf("probe cache write for %s failed: %v", result.Service, err)
	}
}

// cachedResult returns the cached probe outcome for service, if still fresh.
func (p *UpstreamProbes) cachedResult(ctx context.Context, service string) (*ProbeResult, bool) {
	if p.cache == nil {
		return nil, false
	}
	var result ProbeResult
	err := p.cache.Get(ctx, BuildCacheKey(CacheKeyProbe, service), &result)
	if err != nil {
		if !errors.Is(err, ErrCacheNotFound) {
			p.logger.Debugf("probe cache read for %s failed: %v", service, err)
		}
		return nil, false
	}
	return &result, true
}

// Initializer returns the cold-start initializer for service: probe the
// upstream, capture its payload as a fallback snapshot, and stamp the warm
// marker. Snapshot persistence failures never fail the load.
func (p *UpstreamProbes) Initializer(service string) biz.Initializer {
	return func(ctx context.Context) (interface{}, error) {
		result, err := p.Probe(ctx, service)
		if err != nil {
			return nil, err
		}

		if p.snapshots != nil && result.Body != nil {
			if err := p.snapshots.Save(ctx, service, result.Body); err != nil {
				p.logger.Warnf("snapshot capture for %s failed: %v", service, err)
			}
		}
		if p.cache != nil {
			key := BuildCacheKey(CacheKeyWarm, service)
			if err := p.cache.Set(ctx, key, result.CheckedAt, TTLWarm); err != nil {
				p.logger.Debugf("warm marker for %s failed: %v", service, err)
			}
		}
		return result, nil
	}
}

// HealthCheck returns the post-load health check for service. A probe result
// cached within its TTL counts as healthy without another round trip.
func (p *UpstreamProbes) HealthCheck(service string) biz.HealthCheck {
	return func(ctx context.Context) (bool, error) {
		if cached, ok := p.cachedResult(ctx, service); ok {
			return cached.Status >= 200 && cached.Status < 300, nil
		}
		result, err := p.Probe(ctx, service)
		if err != nil {
			return false, err
		}
		return result.Status >= 200 && result.Status < 300, nil
	}
}
