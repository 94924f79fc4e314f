package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// LoginRateLimitConfig throttles credential guessing on the login endpoint.
func LoginRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 0.5, BurstSize: 5}
}

// limiter keeps one token bucket per client key.
type limiter struct {
	cfg      RateLimitConfig
	now      func() time.Time
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLimiter(cfg RateLimitConfig) *limiter {
	return &limiter{cfg: cfg, now: time.Now, limiters: make(map[string]*rate.Limiter)}
}

func (l *limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.BurstSize)
		l.limiters[key] = lim
	}
	return lim
}

// take consumes a token for key. When none is left it returns the wait until
// the next one.
func (l *limiter) take(key string) (bool, time.Duration) {
	now := l.now()
	r := l.get(key).ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// RateLimit limits requests per client IP.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	l := newLimiter(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, wait := l.take(c.RealIP())
			if !ok {
				secs := int(math.Ceil(wait.Seconds()))
				if secs < 1 {
					secs = 1
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
