// Package ratelimit throttles API callers with a token bucket per visitor.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/wiredan/wiredan/internal/auth"
)

// Config configures rate limiting.
type Config struct {
	// RequestsPerMinute is the sustained rate per visitor. Zero disables
	// limiting.
	RequestsPerMinute int
	// BurstSize allows brief bursts above the rate.
	BurstSize int
	// IdleTTL is how long an idle visitor is remembered.
	IdleTTL time.Duration
	// Exempt path prefixes skip limiting. The provider webhook belongs here
	// because Paystack retries on 429 with its own schedule.
	Exempt []string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 120,
		BurstSize:         20,
		IdleTTL:           3 * time.Minute,
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks one token bucket per visitor key.
type Limiter struct {
	cfg      Config
	limit    rate.Limit
	mu       sync.Mutex
	visitors map[string]*visitor
	stop     chan struct{}
	once     sync.Once
	now      func() time.Time
}

// New creates a limiter and starts its cleanup loop. Call Stop when done.
func New(cfg Config) *Limiter {
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 3 * time.Minute
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}
	l := &Limiter{
		cfg:      cfg,
		limit:    limit,
		visitors: make(map[string]*visitor),
		stop:     make(chan struct{}),
		now:      time.Now,
	}
	go l.cleanup()
	return l
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.IdleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.cfg.IdleTTL)
	for key, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, key)
		}
	}
}

// Stop ends the cleanup loop.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.cfg.BurstSize)}
		l.visitors[key] = v
	}
	v.lastSeen = l.now()
	return v.limiter
}

// Allow reports whether key may make a request now.
func (l *Limiter) Allow(key string) bool {
	return l.get(key).AllowN(l.now(), 1)
}

// retryAfter is the whole seconds an empty bucket needs to refill one token.
func (l *Limiter) retryAfter() int {
	rpm := l.cfg.RequestsPerMinute
	return max(1, (60+rpm-1)/rpm)
}

func (l *Limiter) exempt(path string) bool {
	for _, p := range l.cfg.Exempt {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Middleware limits by authenticated user when the auth middleware ran
// first, and by client IP otherwise.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.limit == rate.Inf || l.exempt(c.Request.URL.Path) {
			c.Next()
			return
		}

		key := "ip:" + c.ClientIP()
		if uid := auth.UserID(c); uid != "" {
			key = "user:" + uid
		}

		if !l.Allow(key) {
			after := l.retryAfter()
			c.Header("Retry-After", strconv.Itoa(after))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": after,
			})
			return
		}
		c.Next()
	}
}
