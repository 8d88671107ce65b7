package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "polyyoung:wallet:age:"

	// Entries are kept in Redis far beyond the classification TTL so
	// snapshots and backfill sweeps keep working across restarts.
	redisRetention = 7 * 24 * time.Hour

	redisOpTimeout = 2 * time.Second
)

type redisEntry struct {
	Earliest  *int64 `json:"earliest"`
	FetchedAt int64  `json:"fetched_at"`
}

// RedisCache is a Cache backed by Redis with a write-through in-memory
// layer. Redis failures degrade to the memory layer so enrichment never
// stalls on the persistence tier.
type RedisCache struct {
	rdb *redis.Client
	mem *MemoryCache
	ttl time.Duration
}

// NewRedisCache connects to Redis and verifies reachability with a ping.
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisCache{
		rdb: rdb,
		mem: NewMemoryCache(ttl),
		ttl: ttl,
	}, nil
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// Get checks the memory layer first, then Redis. A Redis hit is folded back
// into memory so repeat lookups stay local.
func (c *RedisCache) Get(addr string) (*int64, bool) {
	if earliest, found := c.mem.Get(addr); found {
		return earliest, true
	}

	key := strings.ToLower(addr)
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	raw, err := c.rdb.Get(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Debug("redis_get_failed", "wallet", key, "error", err)
		}
		return nil, false
	}

	var ent redisEntry
	if err := json.Unmarshal([]byte(raw), &ent); err != nil {
		slog.Debug("redis_entry_corrupt", "wallet", key, "error", err)
		return nil, false
	}

	fetched := time.Unix(ent.FetchedAt, 0)
	if time.Since(fetched) > c.ttl {
		return nil, false
	}

	c.mem.Set(key, ent.Earliest)
	return ent.Earliest, true
}

// Set writes through to both layers. A Redis write failure is logged and
// otherwise ignored.
func (c *RedisCache) Set(addr string, earliest *int64) {
	key := strings.ToLower(addr)
	c.mem.Set(key, earliest)

	ent := redisEntry{Earliest: earliest, FetchedAt: time.Now().Unix()}
	raw, err := json.Marshal(ent)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := c.rdb.Set(ctx, redisKeyPrefix+key, raw, redisRetention).Err(); err != nil {
		slog.Warn("redis_set_failed", "wallet", key, "error", err)
	}
}

// Snapshot scans every persisted entry (ignoring the classification TTL)
// and overlays the memory layer. On a scan failure the memory snapshot is
// returned alone.
func (c *RedisCache) Snapshot() map[string]*int64 {
	out := make(map[string]*int64)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	iter := c.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 1000).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := c.rdb.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		var ent redisEntry
		if err := json.Unmarshal([]byte(raw), &ent); err != nil {
			continue
		}
		out[strings.TrimPrefix(key, redisKeyPrefix)] = ent.Earliest
	}
	if err := iter.Err(); err != nil {
		slog.Warn("redis_snapshot_scan_failed", "error", err)
	}

	for k, v := range c.mem.Snapshot() {
		out[k] = v
	}
	return out
}
