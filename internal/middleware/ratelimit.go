package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RateLimiter is a per-key token bucket. The mock provider uses it to answer
// 429 once a caller exceeds its per-window quota.
type RateLimiter struct {
	visitors map[string]*Visitor
	mu       sync.Mutex
	rate     int           // requests per window
	window   time.Duration // time window
	keyFunc  func(c *fiber.Ctx) string
	skip     map[string]bool

	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

type Visitor struct {
	tokens     int
	lastRefill time.Time
	mu         sync.Mutex
}

// RateLimiterOption customises a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithKeyFunc buckets requests by the returned key instead of client IP.
func WithKeyFunc(fn func(c *fiber.Ctx) string) RateLimiterOption {
	return func(rl *RateLimiter) { rl.keyFunc = fn }
}

// WithSkipPaths lets the given paths bypass the limiter.
func WithSkipPaths(paths ...string) RateLimiterOption {
	return func(rl *RateLimiter) {
		for _, p := range paths {
			rl.skip[p] = true
		}
	}
}

// NewRateLimiter creates a new rate limiter
// rate: max requests per window (e.g., 100)
// window: time window (e.g., 1 minute)
func NewRateLimiter(rate int, window time.Duration, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*Visitor),
		rate:     rate,
		window:   window,
		keyFunc:  func(c *fiber.Ctx) string { return c.IP() },
		skip:     map[string]bool{"/health": true},
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	for _, o := range opts {
		o(rl)
	}

	go rl.cleanup()

	return rl
}

// Stop ends the background cleanup.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// Middleware returns a Fiber middleware handler
func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl.skip[c.Path()] {
			return c.Next()
		}

		retryAfter := int(rl.window.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}

		if !rl.allow(rl.keyFunc(c)) {
			c.Set("X-RateLimit-Limit", strconv.Itoa(rl.rate))
			c.Set("X-RateLimit-Remaining", "0")
			c.Set("Retry-After", strconv.Itoa(retryAfter))

			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "rate limit exceeded",
				"message":     "Too many requests. Please try again later.",
				"retry_after": retryAfter,
			})
		}

		return c.Next()
	}
}

// allow checks if request is allowed based on rate limit
func (rl *RateLimiter) allow(key string) bool {
	now := rl.now()

	rl.mu.Lock()
	visitor, exists := rl.visitors[key]
	if !exists {
		visitor = &Visitor{
			tokens:     rl.rate,
			lastRefill: now,
		}
		rl.visitors[key] = visitor
	}
	rl.mu.Unlock()

	visitor.mu.Lock()
	defer visitor.mu.Unlock()

	elapsed := now.Sub(visitor.lastRefill)

	if elapsed >= rl.window {
		visitor.tokens = rl.rate
		visitor.lastRefill = now
	} else {
		tokensToAdd := int(float64(rl.rate) * (elapsed.Seconds() / rl.window.Seconds()))
		if tokensToAdd > 0 {
			visitor.tokens = min(visitor.tokens+tokensToAdd, rl.rate)
			visitor.lastRefill = now
		}
	}

	if visitor.tokens > 0 {
		visitor.tokens--
		return true
	}

	return false
}

// cleanup removes inactive visitors
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
		}

		rl.mu.Lock()
		now := rl.now()
		for key, visitor := range rl.visitors {
			visitor.mu.Lock()
			if now.Sub(visitor.lastRefill) > rl.window*2 {
				delete(rl.visitors, key)
			}
			visitor.mu.Unlock()
		}
		rl.mu.Unlock()
	}
}
