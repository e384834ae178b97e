package myMiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestWindowKeyBucketsByWindow(t *testing.T) {
	rl := NewRateLimiter(nil, 10, time.Minute, zerolog.Nop())
	base := time.Unix(1_800_000_000, 0) // divisible by 60

	assert.Equal(t, "ratelimit:ip:1.2.3.4:30000000", rl.windowKey("ip:1.2.3.4", base))
	assert.Equal(t, rl.windowKey("k", base), rl.windowKey("k", base.Add(59*time.Second)))
	assert.NotEqual(t, rl.windowKey("k", base), rl.windowKey("k", base.Add(time.Minute)))
}

func TestSubSecondWindowRoundsUp(t *testing.T) {
	rl := NewRateLimiter(nil, 10, 250*time.Millisecond, zerolog.Nop())
	assert.Equal(t, time.Second, rl.window)

	base := time.Unix(1_800_000_000, 0)
	assert.NotPanics(t, func() { rl.windowKey("k", base) })
	assert.Equal(t, "ratelimit:k:1800000000", rl.windowKey("k", base))

	assert.Equal(t, 90*time.Second, NewRateLimiter(nil, 10, 90*time.Second+300*time.Millisecond, zerolog.Nop()).window)
}

func TestRateLimiterFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	rl := NewRateLimiter(client, 1, time.Minute, zerolog.Nop())
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/messages", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	assert.Equal(t, "10.0.0.7", RealIP(req))

	req.Header.Set("X-Real-IP", "172.16.0.2")
	assert.Equal(t, "172.16.0.2", RealIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", RealIP(req))
}
