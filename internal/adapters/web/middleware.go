package web

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog"
)

// RateLimiter tracks analyze requests per IP.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.RWMutex
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
	go rl.cleanup()
	return rl
}

// Record records an analyze request for the given IP.
func (rl *RateLimiter) Record(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.requests[ip] = append(rl.requests[ip], time.Now())
}

// Allow checks if the IP may start another analyze run.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	cutoff := time.Now().Add(-rl.window)

	var recent int
	for _, t := range rl.requests[ip] {
		if t.After(cutoff) {
			recent++
		}
	}
	return recent < rl.limit
}

// cleanup periodically removes old entries from the rate limiter.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	for range ticker.C {
		rl.mu.Lock()
		cutoff := time.Now().Add(-rl.window)
		for ip, timestamps := range rl.requests {
			var recent []time.Time
			for _, t := range timestamps {
				if t.After(cutoff) {
					recent = append(recent, t)
				}
			}
			if len(recent) == 0 {
				delete(rl.requests, ip)
			} else {
				rl.requests[ip] = recent
			}
		}
		rl.mu.Unlock()
	}
}

// RequestIDConfig returns the configuration for Fiber's requestid middleware.
// Uses X-Request-ID header, generates a UUID if not present.
func RequestIDConfig() requestid.Config {
	return requestid.Config{
		Header:     "X-Request-ID",
		ContextKey: "requestid",
	}
}

// LoggerMiddleware attaches a request-scoped zerolog logger to the user
// context. Must be used AFTER requestid.New().
func LoggerMiddleware(logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqLogger := logger
		if id, ok := c.Locals("requestid").(string); ok && id != "" {
			reqLogger = logger.With().Str("request_id", id).Logger()
		}
		c.SetUserContext(reqLogger.WithContext(c.UserContext()))
		return c.Next()
	}
}

// RequestLoggerMiddleware logs completed HTTP requests in structured form.
// Must be used AFTER LoggerMiddleware.
func RequestLoggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		logger := zerolog.Ctx(c.UserContext())

		event := logger.Info()
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		}

		event = event.
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Int64("latency_ms", time.Since(start).Milliseconds()).
			Str("ip", c.IP())
		if err != nil {
			event = event.Str("error", err.Error())
		}
		event.Msg("request completed")

		return err
	}
}
