// Package data provides data access layer implementations.
// It holds the storage clients, the fallback snapshot store, the async
// resilience event log, the remote telemetry sink, and the upstream probes.
package data

import (
	"ChainPulse/internal/biz"
	"ChainPulse/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewCacheClient,
	NewMySQLClient,
	NewSnapshotStore,
	NewResilienceEventWriter,
	NewTelemetrySink,
	NewUpstreamProbes,
	NewHealthMirror,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(biz.AuditLogger), new(*ResilienceEventWriter)),
	wire.Bind(new(biz.TelemetrySink), new(*HTTPSink)),
)

// Data contains all data layer dependencies.
type Data struct {
	// redisClient backs the warm-cache target and snapshot persistence
	redisClient *redis.Client
	// cache is the cache interface used by the probes and warmers
	cache CacheClient
	// snapshots is the two-tier last-good payload store feeding fallbacks
	snapshots *SnapshotStore
	// mirror publishes health snapshots to the shared Redis view
	mirror *HealthMirror
	// Note: MySQL DB is not stored here, it's injected directly to the event writer
}

// NewData creates a new Data instance with all data layer dependencies.
// Redis connection failure does not prevent application startup (graceful degradation).
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client, cache CacheClient, snapshots *SnapshotStore, mirror *HealthMirror) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	// Check if Redis is available
	if rdb == nil {
		helper.Warn("Redis client is nil, snapshot persistence and cache warming degrade to in-process only")
	}

	d := &Data{
		redisClient: rdb,
		cache:       cache,
		snapshots:   snapshots,
		mirror:      mirror,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		// Redis cleanup is handled by NewRedisClient's cleanup function
		// which is called automatically by Wire
	}

	return d, cleanup, nil
}

// GetCache returns the cache client for probe and warmer use.
func (d *Data) GetCache() CacheClient {
	return d.cache
}

// GetRedisClient returns the Redis client for advanced operations.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}

// GetSnapshots returns the fallback snapshot store.
func (d *Data) GetSnapshots() *SnapshotStore {
	return d.snapshots
}

// GetHealthMirror returns the shared health view publisher.
func (d *Data) GetHealthMirror() *HealthMirror {
	return d.mirror
}
