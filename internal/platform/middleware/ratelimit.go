package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// Key picks the bucket of a request. Defaults to the client IP.
	Key func(c echo.Context) string
}

// tokenBucket refills at rate tokens per second up to burst.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	max        float64
	rate       float64
	lastRefill time.Time
}

func (b *tokenBucket) take(now time.Time) (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.rate
	if b.tokens > b.max {
		b.tokens = b.max
	}
	b.lastRefill = now
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if b.rate <= 0 {
		return false, 1
	}
	return false, int(math.Ceil((1 - b.tokens) / b.rate))
}

type bucketStore struct {
	mu      sync.Mutex
	cfg     RateLimitConfig
	buckets map[string]*tokenBucket
	now     func() time.Time
}

func (s *bucketStore) get(key string) *tokenBucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[key]
	if !ok {
		b = &tokenBucket{
			tokens:     float64(s.cfg.BurstSize),
			max:        float64(s.cfg.BurstSize),
			rate:       s.cfg.RequestsPerSecond,
			lastRefill: s.now(),
		}
		s.buckets[key] = b
	}
	return b
}

// RateLimit answers 429 with Retry-After once a key runs out of tokens.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.Key == nil {
		cfg.Key = func(c echo.Context) string { return c.RealIP() }
	}
	store := &bucketStore{cfg: cfg, buckets: map[string]*tokenBucket{}, now: time.Now}
	return rateLimit(store)
}

func rateLimit(store *bucketStore) echo.MiddlewareFunc {
	limit := strconv.FormatFloat(store.cfg.RequestsPerSecond, 'f', -1, 64)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, retry := store.get(store.cfg.Key(c)).take(store.now())
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			if !ok {
				h.Set("Retry-After", strconv.Itoa(retry))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
