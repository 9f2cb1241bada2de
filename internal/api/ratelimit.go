package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kalambet/freightdocs/internal/auth"
)

// Counter is a fixed-window counter store.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// RedisCounter implements Counter on a Redis server.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter connects to the Redis server at url (redis://host:port/db).
func NewRedisCounter(ctx context.Context, url string) (*RedisCounter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisCounter{client: rdb}, nil
}

func (c *RedisCounter) Incr(ctx context.Context, key string) (int64, error) {
	return c.client.Incr(ctx, key).Result()
}

func (c *RedisCounter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.client.Expire(ctx, key, ttl).Err()
}

func (c *RedisCounter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.client.TTL(ctx, key).Result()
}

func (c *RedisCounter) Close() error {
	return c.client.Close()
}

// RateLimiter caps requests per caller in a fixed window.
type RateLimiter struct {
	counter Counter
	limit   int
	window  time.Duration
	prefix  string
}

func NewRateLimiter(counter Counter, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{counter: counter, limit: limit, window: window, prefix: "freightdocs:rl:upload:"}
}

// Middleware enforces the limit per authenticated user. It fails open when
// the counter store is unreachable.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := "anonymous"
		if c, ok := auth.FromContext(ctx); ok {
			id = c.UserID
		}
		key := l.prefix + id

		count, err := l.counter.Incr(ctx, key)
		if err != nil {
			slog.Warn("rate limiter unavailable", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		// A key left without a TTL (first Expire failed) would never reset,
		// so the window is attached whenever it is missing.
		ttl, ttlErr := l.counter.TTL(ctx, key)
		if count == 1 || (ttlErr == nil && ttl < 0) {
			if err := l.counter.Expire(ctx, key, l.window); err != nil {
				slog.Warn("rate limit window not set", "key", key, "error", err)
			} else {
				ttl, ttlErr = l.window, nil
			}
		}

		reset := 0
		if ttlErr == nil && ttl > 0 {
			reset = int(ttl.Seconds())
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
		w.Header().Set("X-RateLimit-Reset", strconv.Itoa(reset))

		if count > int64(l.limit) {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", strconv.Itoa(reset))
			writeError(w, r, fmt.Errorf("%w: %d uploads per %s", ErrRateLimited, l.limit, l.window))
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(l.limit-int(count)))
		next.ServeHTTP(w, r)
	})
}
