// Package ratelimit limits requests per client, either in process with token
// buckets or across instances with fixed windows kept in Redis.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether the client identified by key may proceed. When it
// may not, retryAfter says how long until it can.
type Limiter interface {
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration, err error)
}

// Local keeps one token bucket per key. Buckets refill continuously at
// requests/window and hold at most requests tokens.
type Local struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	now     func() time.Time
}

const maxIdleBuckets = 10000

func NewLocal(requests int, window time.Duration) *Local {
	return &Local{
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   requests,
		buckets: make(map[string]*rate.Limiter),
		now:     time.Now,
	}
}

func (l *Local) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= maxIdleBuckets {
			l.sweep(now)
		}
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	res := b.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay, nil
	}
	return true, 0, nil
}

// sweep drops buckets that have refilled completely.
func (l *Local) sweep(now time.Time) {
	for k, b := range l.buckets {
		if b.TokensAt(now) >= float64(l.burst) {
			delete(l.buckets, k)
		}
	}
}

// Redis counts requests in fixed windows shared by every instance using the
// same Redis.
type Redis struct {
	client   *redis.Client
	prefix   string
	requests int
	window   time.Duration
	now      func() time.Time
}

func NewRedis(client *redis.Client, name string, requests int, window time.Duration) *Redis {
	return &Redis{
		client:   client,
		prefix:   "ratelimit:" + name + ":",
		requests: requests,
		window:   window,
		now:      time.Now,
	}
}

func (l *Redis) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := l.now()
	windowKey, resetIn := l.slot(key, now)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, windowKey)
		pipe.ExpireNX(ctx, windowKey, l.window)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("failed to count request: %w", err)
	}
	if incr.Val() > int64(l.requests) {
		return false, resetIn, nil
	}
	return true, 0, nil
}

// slot names the window containing now and how long until it ends.
func (l *Redis) slot(key string, now time.Time) (string, time.Duration) {
	start := now.Truncate(l.window)
	return l.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10), start.Add(l.window).Sub(now)
}

// KeyFunc extracts the client key from a request.
type KeyFunc func(r *http.Request) string

// ClientIP keys requests by remote address without the port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the limit with 429 and a Retry-After
// header. Limiter errors let the request through.
func Middleware(l Limiter, message string, key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retryAfter, err := l.Allow(r.Context(), key(r))
			if err != nil {
				log.Printf("[RATELIMIT] %v", err)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				secs := int(math.Ceil(retryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{"error": message, "retryAfter": secs})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
