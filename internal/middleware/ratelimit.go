package myMiddleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"campusconnect/internal/metrics"
)

// RateLimiter is a fixed-window per-IP limiter backed by redis counters.
// Limits are shared by every instance pointing at the same redis.
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// NewRateLimiter buckets by whole seconds; a window under one second is rounded up to it.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration, logger zerolog.Logger) *RateLimiter {
	if window < time.Second {
		window = time.Second
	}
	window = window.Truncate(time.Second)
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// windowKey buckets key by the current window.
func (rl *RateLimiter) windowKey(key string, now time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", key, now.Unix()/int64(rl.window.Seconds()))
}

// Allow increments the counter for key and reports whether the request fits the window.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	wk := rl.windowKey(key, rl.now())

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, wk)
	pipe.Expire(ctx, wk, rl.window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, rl.limit, err
	}

	count := int(incr.Val())
	remaining := rl.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= rl.limit, remaining, nil
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)
		allowed, remaining, err := rl.Allow(r.Context(), "ip:"+ip)
		if err != nil {
			// Fail open: a redis outage must not take the API down.
			rl.logger.Warn().Err(err).Msg("rate limiter unavailable")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			metrics.RateLimitHits.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			jsonError(w, http.StatusTooManyRequests, "too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RealIP extracts the client IP from proxy headers or the connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
