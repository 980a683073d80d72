package data

import (
	"context"
	"os"
	"testing"
	"time"

	"ChainPulse/internal/conf"
	"ChainPulse/pkg/crypto"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

// testAESKey is a 32-byte AES-256 key for snapshot encryption tests
var testAESKey = []byte("0123456789abcdef0123456789abcdef")

func setupTestSnapshotRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return rdb, mr
}

func marketPayload() map[string]interface{} {
	return map[string]interface{}{
		"btc_usd": 64231.5,
		"eth_usd": 3120.42,
	}
}

func TestSnapshotStore_LRUOnly(t *testing.T) {
	// nil Redis degrades to the in-process tier
	store, err := NewSnapshotStore(nil, nil, nil, log.NewStdLogger(os.Stdout))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, ServiceMarketData, marketPayload()))

	snap, ok := store.Load(ctx, ServiceMarketData)
	require.True(t, ok)
	assert.Equal(t, ServiceMarketData, snap.Service)
	assert.False(t, snap.CapturedAt.IsZero())

	payload, ok := snap.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 64231.5, payload["btc_usd"])

	stats := store.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
}

func TestSnapshotStore_MissWhenEmpty(t *testing.T) {
	store, err := NewSnapshotStore(nil, nil, nil, log.NewStdLogger(os.Stdout))
	require.NoError(t, err)

	_, ok := store.Load(context.Background(), ServicePortfolio)
	assert.False(t, ok)
	assert.Equal(t, int64(1), store.Stats().Misses)
}

func TestSnapshotStore_RedisPersistence(t *testing.T) {
	rdb, mr := setupTestSnapshotRedis(t)
	defer mr.Close()
	logger := log.NewStdLogger(os.Stdout)

	store, err := NewSnapshotStore(nil, rdb, nil, logger)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, ServiceMarketData, marketPayload()))
	assert.True(t, mr.Exists(BuildCacheKey(CacheKeySnapshot, ServiceMarketData)))

	// A fresh store with an empty LRU recovers the snapshot from Redis,
	// the way a restarted process would
	fresh, err := NewSnapshotStore(nil, rdb, nil, logger)
	require.NoError(t, err)

	snap, ok := fresh.Load(ctx, ServiceMarketData)
	require.True(t, ok)
	payload, ok := snap.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 64231.5, payload["btc_usd"])

	// The Redis hit backfills the LRU: a second load survives Redis loss
	mr.FlushAll()
	snap, ok = fresh.Load(ctx, ServiceMarketData)
	require.True(t, ok)
	assert.Equal(t, ServiceMarketData, snap.Service)
}

func TestSnapshotStore_RedisTTL(t *testing.T) {
	rdb, mr := setupTestSnapshotRedis(t)
	defer mr.Close()

	store, err := NewSnapshotStore(&conf.Data{
		Snapshot: &conf.Data_Snapshot{
			Ttl: durationpb.New(1 * time.Hour),
		},
	}, rdb, nil, log.NewStdLogger(os.Stdout))
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), ServiceSentiment, marketPayload()))
	assert.Equal(t, 1*time.Hour, mr.TTL(BuildCacheKey(CacheKeySnapshot, ServiceSentiment)))
}

func TestSnapshotStore_Encryption(t *testing.T) {
	rdb, mr := setupTestSnapshotRedis(t)
	defer mr.Close()
	logger := log.NewStdLogger(os.Stdout)

	aes, err := crypto.NewAESCrypto(testAESKey)
	require.NoError(t, err)

	cfg := &conf.Data{
		Snapshot: &conf.Data_Snapshot{Encrypt: true},
	}
	store, err := NewSnapshotStore(cfg, rdb, aes, logger)
	require.NoError(t, err)

	ctx := context.Background()
	payload := map[string]interface{}{
		"wallet":   "0xabc123",
		"holdings": []interface{}{"BTC", "ETH"},
	}
	require.NoError(t, store.Save(ctx, ServicePortfolio, payload))

	// The persisted value must not leak the plaintext payload
	raw, err := mr.Get(BuildCacheKey(CacheKeySnapshot, ServicePortfolio))
	require.NoError(t, err)
	assert.NotContains(t, raw, "0xabc123")
	assert.NotContains(t, raw, "holdings")

	// A fresh store holding the same key decrypts it
	fresh, err := NewSnapshotStore(cfg, rdb, aes, logger)
	require.NoError(t, err)

	snap, ok := fresh.Load(ctx, ServicePortfolio)
	require.True(t, ok)
	decoded, ok := snap.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "0xabc123", decoded["wallet"])
}

func TestSnapshotStore_EncryptRequestedWithoutKey(t *testing.T) {
	rdb, mr := setupTestSnapshotRedis(t)
	defer mr.Close()

	// Encryption requested but no AES key configured: the store warns and
	// persists plaintext rather than failing startup
	store, err := NewSnapshotStore(&conf.Data{
		Snapshot: &conf.Data_Snapshot{Encrypt: true},
	}, rdb, nil, log.NewStdLogger(os.Stdout))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, ServiceMarketData, marketPayload()))

	raw, err := mr.Get(BuildCacheKey(CacheKeySnapshot, ServiceMarketData))
	require.NoError(t, err)
	assert.Contains(t, raw, "btc_usd")

	snap, ok := store.Load(ctx, ServiceMarketData)
	require.True(t, ok)
	assert.Equal(t, ServiceMarketData, snap.Service)
}

func TestSnapshotStore_Delete(t *testing.T) {
	rdb, mr := setupTestSnapshotRedis(t)
	defer mr.Close()

	store, err := NewSnapshotStore(nil, rdb, nil, log.NewStdLogger(os.Stdout))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, ServiceNFTMarket, marketPayload()))
	require.True(t, mr.Exists(BuildCacheKey(CacheKeySnapshot, ServiceNFTMarket)))

	store.Delete(ctx, ServiceNFTMarket)

	_, ok := store.Load(ctx, ServiceNFTMarket)
	assert.False(t, ok)
	assert.False(t, mr.Exists(BuildCacheKey(CacheKeySnapshot, ServiceNFTMarket)))
}

func TestSnapshotStore_Provider(t *testing.T) {
	store, err := NewSnapshotStore(nil, nil, nil, log.NewStdLogger(os.Stdout))
	require.NoError(t, err)

	ctx := context.Background()
	provider := store.Provider(ServiceMarketData)

	// Empty store: the provider reports there is nothing to serve
	_, err = provider(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no snapshot available for market-data")

	require.NoError(t, store.Save(ctx, ServiceMarketData, marketPayload()))

	value, err := provider(ctx)
	require.NoError(t, err)
	payload, ok := value.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 64231.5, payload["btc_usd"])
}

func TestSnapshotStore_Evictions(t *testing.T) {
	store, err := NewSnapshotStore(&conf.Data{
		Snapshot: &conf.Data_Snapshot{LruSize: 2},
	}, nil, nil, log.NewStdLogger(os.Stdout))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, ServiceMarketData, marketPayload()))
	require.NoError(t, store.Save(ctx, ServicePortfolio, marketPayload()))
	require.NoError(t, store.Save(ctx, ServiceSentiment, marketPayload()))

	stats := store.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, 2, stats.MaxSize)
	assert.Equal(t, int64(1), stats.Evictions)

	// The oldest entry is gone; without Redis there is no second tier
	_, ok := store.Load(ctx, ServiceMarketData)
	assert.False(t, ok)
}

func TestSnapshotStore_DefaultSizing(t *testing.T) {
	store, err := NewSnapshotStore(nil, nil, nil, log.NewStdLogger(os.Stdout))
	require.NoError(t, err)

	stats := store.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, defaultSnapshotLRUSize, stats.MaxSize)
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
	assert.Equal(t, int64(0), stats.Evictions)
}
