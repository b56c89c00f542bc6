package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/cardvault/storefront/internal"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Limiter decides whether one more request for key fits in the window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// New builds the limiter for the configured backend. rdb is only needed for
// the redis backend.
func New(cfg internal.RateLimitConfig, rdb *redis.Client) (Limiter, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		return NewMemoryLimiter(cfg.Requests, cfg.Window), nil
	case BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis rate limiter needs a redis client")
		}
		return NewRedisLimiter(rdb, "ratelimit:webhook", cfg.Requests, cfg.Window), nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.Backend)
	}
}

type clientLimiter struct {
	limiter *rate.Limiter
	last    time.Time
}

// MemoryLimiter keeps one token bucket per key. Buckets idle for longer than
// idleTTL are dropped on the next sweep.
type MemoryLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	swept   time.Time
	now     func() time.Time
}

func NewMemoryLimiter(requests int, window time.Duration) *MemoryLimiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(float64(requests) / window.Seconds()),
		burst:   requests,
		idleTTL: 10 * window,
		now:     time.Now,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.swept) > m.idleTTL {
		for k, c := range m.clients {
			if now.Sub(c.last) > m.idleTTL {
				delete(m.clients, k)
			}
		}
		m.swept = now
	}

	c, ok := m.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.clients[key] = c
	}
	c.last = now
	return c.limiter.AllowN(now, 1), nil
}

// RedisLimiter is a fixed-window counter shared by every replica.
type RedisLimiter struct {
	rdb      *redis.Client
	prefix   string
	requests int64
	window   time.Duration
	now      func() time.Time
}

func NewRedisLimiter(rdb *redis.Client, prefix string, requests int, window time.Duration) *RedisLimiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{
		rdb:      rdb,
		prefix:   prefix,
		requests: int64(requests),
		window:   window,
		now:      time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := l.now().UnixNano() / int64(l.window)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, bucket)

	count, err := l.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit counter: %w", err)
	}
	if count == 1 {
		// first hit in this window owns the expiry
		if err := l.rdb.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return false, fmt.Errorf("rate limit expiry: %w", err)
		}
	}
	return count <= l.requests, nil
}

// ClientKey identifies the caller by remote address. RealIP middleware runs
// earlier, so forwarded addresses are already applied.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the limit with 429. A limiter that cannot
// answer lets the request through.
func Middleware(limiter Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := limiter.Allow(r.Context(), ClientKey(r))
			if err != nil {
				logger.Warn("rate limiter unavailable, allowing request", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				logger.Warn("rate limit exceeded", "client", ClientKey(r), "path", r.URL.Path)
				status, body := internal.ErrRateLimited.ToHTTPResponse()
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(status)
				_ = json.NewEncoder(w).Encode(body)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
