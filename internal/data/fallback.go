package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"ChainPulse/internal/biz"
	"ChainPulse/internal/conf"
	"ChainPulse/pkg/crypto"
	pkglog "ChainPulse/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// defaultSnapshotLRUSize bounds the in-process snapshot tier.
const defaultSnapshotLRUSize = 128

// Snapshot is one last-good upstream payload kept for fallback substitution.
type Snapshot struct {
	Service    string      `json:"service"`
	Payload    interface{} `json:"payload"`
	CapturedAt time.Time   `json:"captured_at"`
}

// SnapshotStats is a point-in-time view of store effectiveness.
type SnapshotStats struct {
	Size      int   `json:"size"`
	MaxSize   int   `json:"max_size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// SnapshotStore keeps the last successful payload per service in two tiers:
// an in-process LRU for fast reads and Redis for persistence across restarts.
// Payloads can carry wallet holdings, so the Redis tier is optionally
// AES-256-GCM encrypted at rest.
type SnapshotStore struct {
	lru     *lru.Cache[string, Snapshot]
	rdb     *redis.Client
	aes     *crypto.AESCrypto
	ttl     time.Duration
	maxSize int
	encrypt bool

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	logger *log.Helper
	lh     *pkglog.LogHelper
}

// NewSnapshotStore creates the fallback snapshot store. A nil Redis client
// degrades to the in-process tier only; requesting encryption without an AES
// key degrades to plaintext persistence with a warning.
func NewSnapshotStore(c *conf.Data, rdb *redis.Client, aes *crypto.AESCrypto, logger log.Logger) (*SnapshotStore, error) {
	s := &SnapshotStore{
		rdb:     rdb,
		aes:     aes,
		ttl:     TTLSnapshot,
		maxSize: defaultSnapshotLRUSize,
		logger:  log.NewHelper(logger),
		lh:      pkglog.NewLogHelper(logger),
	}

	if c != nil && c.Snapshot != nil {
		if c.Snapshot.LruSize > 0 {
			s.maxSize = int(c.Snapshot.LruSize)
		}
		if d := c.Snapshot.Ttl.AsDuration(); d > 0 {
			s.ttl = d
		}
		s.encrypt = c.Snapshot.Encrypt
	}

	if s.encrypt && s.aes == nil {
		s.logger.Warn("snapshot encryption requested but no key configured, persisting plaintext")
		s.encrypt = false
	}

	cache, err := lru.NewWithEvict[string, Snapshot](s.maxSize, func(string, Snapshot) {
		s.evictions.Add(1)
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	s.lru = cache

	return s, nil
}

// Save captures payload as the last-good snapshot for service. The LRU tier
// always succeeds; a Redis persistence failure is returned but leaves the
// in-process copy in place.
func (s *SnapshotStore) Save(ctx context.Context, service string, payload interface{}) error {
	snap := Snapshot{
		Service:    service,
		Payload:    payload,
		CapturedAt: time.Now(),
	}
	s.lru.Add(service, snap)

	if s.rdb == nil {
		return nil
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot: failed to marshal %s: %w", service, err)
	}

	body := string(data)
	if s.encrypt {
		body, err = s.aes.Encrypt(body)
		if err != nil {
			return fmt.Errorf("snapshot: failed to encrypt %s: %w", service, err)
		}
	}

	key := BuildCacheKey(CacheKeySnapshot, service)
	if err := s.rdb.Set(ctx, key, body, s.ttl).Err(); err != nil {
		return fmt.Errorf("snapshot: failed to persist %s: %w", service, err)
	}
	return nil
}

// Load returns the freshest snapshot for service, checking the LRU tier
// before Redis. A Redis hit backfills the LRU.
func (s *SnapshotStore) Load(ctx context.Context, service string) (Snapshot, bool) {
	if snap, ok := s.lru.Get(service); ok {
		s.hits.Add(1)
		return snap, true
	}

	if s.rdb == nil {
		s.misses.Add(1)
		return Snapshot{}, false
	}

	key := BuildCacheKey(CacheKeySnapshot, service)
	body, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warnf("snapshot read for %s failed: %v", service, err)
		}
		s.misses.Add(1)
		return Snapshot{}, false
	}

	if s.encrypt {
		body, err = s.aes.Decrypt(body)
		if err != nil {
			s.logger.Warnf("snapshot decrypt for %s failed: %v", service, err)
			s.misses.Add(1)
			return Snapshot{}, false
		}
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		s.logger.Warnf("snapshot decode for %s failed: %v", service, err)
		s.misses.Add(1)
		return Snapshot{}, false
	}

	s.lru.Add(service, snap)
	s.hits.Add(1)
	return snap, true
}

// Delete drops the snapshot for service from both tiers.
func (s *SnapshotStore) Delete(ctx context.Context, service string) {
	s.lru.Remove(service)
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, BuildCacheKey(CacheKeySnapshot, service)).Err(); err != nil {
		s.logger.Warnf("snapshot delete for %s failed: %v", service, err)
	}
}

// Provider adapts the store into a breaker fallback provider for service.
func (s *SnapshotStore) Provider(service string) biz.FallbackProvider {
	return func(ctx context.Context) (interface{}, error) {
		snap, ok := s.Load(ctx, service)
		if !ok {
			return nil, fmt.Errorf("no snapshot available for %s", service)
		}
		s.lh.Fallback("Serving snapshot fallback",
			"service", service,
			"captured_at", snap.CapturedAt.Format(time.RFC3339),
			"age_ms", time.Since(snap.CapturedAt).Milliseconds())
		return snap.Payload, nil
	}
}

// Stats returns a snapshot of store effectiveness counters.
func (s *SnapshotStore) Stats() SnapshotStats {
	return SnapshotStats{
		Size:      s.lru.Len(),
		MaxSize:   s.maxSize,
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evictions.Load(),
	}
}

// LogStats emits the store counters through the cache stats log channel.
func (s *SnapshotStore) LogStats(ctx context.Context) {
	st := s.Stats()
	s.lh.CacheStats(ctx, "snapshots",
		int64(st.Size), int64(st.MaxSize), st.Hits, st.Misses, st.Evictions)
}
