package middleware

// Package middleware holds HTTP middleware shared by the API server.
//
// Responsibilities:
//   - Per-client token bucket rate limiting for expensive endpoints

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/metrics"
)

const (
	sweepInterval = 5 * time.Minute
	staleAfter    = 10 * time.Minute
)

// RateLimiter implements a token bucket per client IP. Buckets hold
// requestsPerMin tokens and refill continuously.
type RateLimiter struct {
	mu             sync.Mutex
	clients        map[string]*bucket
	requestsPerMin int
	lastSweep      time.Time
	now            func() time.Time
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerMin requests per client
// per minute. A non-positive rate disables limiting.
func NewRateLimiter(requestsPerMin int) *RateLimiter {
	return &RateLimiter{
		clients:        make(map[string]*bucket),
		requestsPerMin: requestsPerMin,
		lastSweep:      time.Now(),
		now:            time.Now,
	}
}

// Middleware enforces the limit on next. route labels the rejection metric.
func (rl *RateLimiter) Middleware(route string, next http.HandlerFunc) http.HandlerFunc {
	if rl == nil || rl.requestsPerMin <= 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if wait, ok := rl.allow(clientIP(r)); !ok {
			metrics.RateLimitedTotal.WithLabelValues(route).Inc()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds()+0.999)))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error": "rate limit exceeded, try again later",
				"code":  "RATE_LIMITED",
			})
			return
		}
		next(w, r)
	}
}

// allow takes a token for client. When none is left it reports how long until
// the next token.
func (rl *RateLimiter) allow(client string) (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > sweepInterval {
		for ip, b := range rl.clients {
			if now.Sub(b.lastRefill) > staleAfter {
				delete(rl.clients, ip)
			}
		}
		rl.lastSweep = now
	}

	capacity := float64(rl.requestsPerMin)
	b, ok := rl.clients[client]
	if !ok {
		rl.clients[client] = &bucket{tokens: capacity - 1, lastRefill: now}
		return 0, true
	}

	perToken := time.Minute / time.Duration(rl.requestsPerMin)
	b.tokens += float64(now.Sub(b.lastRefill)) / float64(perToken)
	if b.tokens > capacity {
		b.tokens = capacity
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}
	return time.Duration((1 - b.tokens) * float64(perToken)), false
}

// clientIP strips the port from RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
