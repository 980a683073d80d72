package data

import (
	"context"
	"sync"
	"time"

	"ChainPulse/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
)

// mirrorWriteTimeout caps one health snapshot write to Redis.
const mirrorWriteTimeout = 2 * time.Second

// HealthMirror publishes per-service health snapshots to Redis under
// health:{service} so dashboard replicas and external consoles read one
// shared view without querying each process. Snapshots carry a short TTL
// and are refreshed on every status change plus a periodic tick, so a dead
// publisher ages out of the shared view instead of lingering as healthy.
type HealthMirror struct {
	health *biz.HealthRegistry
	cache  CacheClient

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	logger    *log.Helper
}

// NewHealthMirror creates the mirror and starts its publisher. A nil cache
// disables mirroring; health stays queryable through the ops API.
func NewHealthMirror(health *biz.HealthRegistry, cache CacheClient, logger log.Logger) (*HealthMirror, func(), error) {
	m := &HealthMirror{
		health: health,
		cache:  cache,
		done:   make(chan struct{}),
		logger: log.NewHelper(logger),
	}

	if cache != nil {
		m.wg.Add(1)
		go m.run()
	}

	return m, m.Close, nil
}

// Close stops the publisher. Safe to call multiple times.
func (m *HealthMirror) Close() {
	m.closeOnce.Do(func() { close(m.done) })
	m.wg.Wait()
}

// run republishes on every status change and refreshes every snapshot at
// half the TTL so entries survive quiet periods.
func (m *HealthMirror) run() {
	defer m.wg.Done()

	updates, unsubscribe := m.health.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(TTLHealth / 2)
	defer ticker.Stop()

	for {
		select {
		case u := <-updates:
			m.publish(u.Service)
		case <-ticker.C:
			m.publishAll()
		case <-m.done:
			return
		}
	}
}

// publish writes one service's current health snapshot.
func (m *HealthMirror) publish(service string) {
	sh, ok := m.health.Get(service)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
	defer cancel()

	key := BuildCacheKey(CacheKeyHealth, service)
	if err := m.cache.Set(ctx, key, sh, TTLHealth); err != nil {
		// Redis being down degrades to process-local health only
		m.logger.Warnf("failed to mirror health for %s (degraded mode): %v", service, err)
	}
}

// publishAll refreshes the shared snapshot of every known service.
func (m *HealthMirror) publishAll() {
	for name := range m.health.SystemHealth().Services {
		m.publish(name)
	}
}
