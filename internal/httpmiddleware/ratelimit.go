package httpmiddleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// ReaderHeader identifies the scanner a request comes from.
const ReaderHeader = "X-Reader-ID"

// Limiter decides whether key may make another request.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimit enforces l per client IP. The reader header is caller-controlled,
// so it is logged but never part of the key. Limiter errors let the request
// through.
func RateLimit(l Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if key == "" {
			key = "unknown"
		}
		ok, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			slog.Warn("rate limiter unavailable", "key", key, "error", err)
			c.Next()
			return
		}
		if !ok {
			slog.Warn("rate limited", "client_ip", key, "reader_id", c.GetHeader(ReaderHeader))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit", "kind": "rate_limited", "retryable": true})
			return
		}
		c.Next()
	}
}

// TokenBucket is an in-memory per-key limiter for a single API replica.
type TokenBucket struct {
	capacity int
	rate     int
	mu       sync.Mutex
	state    map[string]*bucket
	swept    time.Time

	now func() time.Time
}

// sweepEvery bounds how often Allow scans for idle buckets.
const sweepEvery = time.Minute

type bucket struct {
	tokens int
	last   time.Time
}

// NewTokenBucket creates a limiter with capacity tokens refilled at perMinute.
func NewTokenBucket(capacity, perMinute int) *TokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &TokenBucket{
		capacity: capacity,
		rate:     perMinute,
		state:    make(map[string]*bucket),
		now:      time.Now,
	}
}

func (l *TokenBucket) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.sweep(now)
	b, ok := l.state[key]
	if !ok {
		l.state[key] = &bucket{tokens: l.capacity - 1, last: now}
		return true, nil
	}
	refill := int(now.Sub(b.last).Minutes() * float64(l.rate))
	if refill > 0 {
		b.tokens += refill
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens <= 0 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// sweep drops buckets that have been idle long enough to refill completely;
// a fresh bucket for the same key behaves identically.
func (l *TokenBucket) sweep(now time.Time) {
	if now.Sub(l.swept) < sweepEvery {
		return
	}
	l.swept = now
	full := l.fullAfter()
	for key, b := range l.state {
		if now.Sub(b.last) >= full {
			delete(l.state, key)
		}
	}
}

func (l *TokenBucket) fullAfter() time.Duration {
	if l.rate <= 0 {
		return time.Hour
	}
	d := time.Duration(float64(l.capacity) / float64(l.rate) * float64(time.Minute))
	if d < sweepEvery {
		d = sweepEvery
	}
	return d
}

// Len reports how many keys hold a bucket.
func (l *TokenBucket) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.state)
}

// RedisWindow is a fixed one-minute window shared by every API replica.
type RedisWindow struct {
	client *redis.Client
	limit  int
	prefix string

	now func() time.Time
}

// NewRedisWindow allows perMinute requests per key per calendar minute.
func NewRedisWindow(client *redis.Client, perMinute int) *RedisWindow {
	return &RedisWindow{client: client, limit: perMinute, prefix: "gymdesk:ratelimit", now: time.Now}
}

func (l *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	window := l.now().Unix() / 60
	k := fmt.Sprintf("%s:%s:%d", l.prefix, key, window)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(l.limit), nil
}
