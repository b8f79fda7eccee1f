// Package redis caches the latest market snapshot per instrument so API
// consumers can read market state without touching the tick path. The cache
// is best-effort: the pipeline reads snapshots from the in-memory aggregator
// and a Redis outage only degrades the external read surface.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"signalbot/internal/model"
)

const keyPrefix = "signalbot:snapshot:"

// Cache writes market snapshots to Redis with a TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration

	// OnWriteError is an optional metrics hook.
	OnWriteError func()
}

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration // snapshot expiry, default 24h
}

// New connects to Redis and verifies the connection. A dead Redis at boot is
// an error; a Redis that dies later only costs cached reads.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Cache{client: client, ttl: ttl}, nil
}

// WriteSnapshot stores the snapshot JSON under its symbol key. Errors are
// returned but callers treat them as non-fatal.
func (c *Cache) WriteSnapshot(ctx context.Context, snap *model.MarketSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis marshal snapshot %s: %w", snap.TradingSymbol, err)
	}
	if err := c.client.Set(ctx, keyPrefix+snap.TradingSymbol, payload, c.ttl).Err(); err != nil {
		if c.OnWriteError != nil {
			c.OnWriteError()
		}
		return fmt.Errorf("redis write snapshot %s: %w", snap.TradingSymbol, err)
	}
	return nil
}

// ReadSnapshot fetches a cached snapshot. Returns nil, nil on a cache miss.
func (c *Cache) ReadSnapshot(ctx context.Context, tradingSymbol string) (*model.MarketSnapshot, error) {
	payload, err := c.client.Get(ctx, keyPrefix+tradingSymbol).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis read snapshot %s: %w", tradingSymbol, err)
	}
	var snap model.MarketSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("redis unmarshal snapshot %s: %w", tradingSymbol, err)
	}
	return &snap, nil
}

// Symbols lists the symbols with a cached snapshot.
func (c *Cache) Symbols(ctx context.Context) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan snapshots: %w", err)
		}
		for _, k := range keys {
			out = append(out, k[len(keyPrefix):])
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// Client exposes the underlying connection for liveness probes.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

var _ model.SnapshotWriter = (*Cache)(nil)
