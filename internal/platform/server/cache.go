package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReportCache memoizes assembled report JSON in redis. It is strictly a
// cache: the event store stays the source of truth, and any redis failure
// degrades to a rebuild, never to an error.
type ReportCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewReportCache(client *redis.Client, ttl time.Duration) *ReportCache {
	if client == nil || ttl <= 0 {
		return nil
	}
	return &ReportCache{client: client, ttl: ttl}
}

// Key derives a stable cache key from the report kind and its parameters.
func (c *ReportCache) Key(kind string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return "auditd:report:" + kind + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

func (c *ReportCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	// redis.Nil is a plain miss; any other error is treated the same way.
	b, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

func (c *ReportCache) Set(ctx context.Context, key string, payload []byte) {
	if c == nil {
		return
	}
	_ = c.client.Set(ctx, key, payload, c.ttl).Err()
}
