package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig tunes the per-IP request limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	SweepInterval     time.Duration // how often stale per-IP buckets are dropped
}

// DefaultRateLimitConfig matches the http.rateLimit / http.rateBurst
// config defaults.
var DefaultRateLimitConfig = RateLimitConfig{
	RequestsPerSecond: 20,
	Burst:             40,
	SweepInterval:     5 * time.Minute,
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// IPRateLimiter applies a token bucket per client IP. Stale buckets are
// swept opportunistically on the request path, so the limiter runs no
// background goroutine and needs no shutdown.
type IPRateLimiter struct {
	limiters  sync.Map // ip -> *limiterEntry
	cfg       RateLimitConfig
	lastSweep atomic.Int64
}

// NewIPRateLimiter builds a limiter, filling zero config fields from the
// defaults.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRateLimitConfig.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultRateLimitConfig.Burst
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultRateLimitConfig.SweepInterval
	}
	rl := &IPRateLimiter{cfg: cfg}
	rl.lastSweep.Store(time.Now().UnixNano())
	return rl
}

// Allow reports whether a request from ip fits its bucket.
func (rl *IPRateLimiter) Allow(ip string) bool {
	now := time.Now()
	rl.maybeSweep(now)

	v, ok := rl.limiters.Load(ip)
	if !ok {
		e := &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst),
		}
		v, _ = rl.limiters.LoadOrStore(ip, e)
	}
	entry := v.(*limiterEntry)
	entry.lastSeen.Store(now.UnixNano())
	return entry.limiter.Allow()
}

// maybeSweep drops buckets idle for two sweep intervals. At most one
// caller per interval pays for the walk.
func (rl *IPRateLimiter) maybeSweep(now time.Time) {
	last := rl.lastSweep.Load()
	if now.UnixNano()-last < int64(rl.cfg.SweepInterval) {
		return
	}
	if !rl.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	cutoff := now.Add(-2 * rl.cfg.SweepInterval).UnixNano()
	rl.limiters.Range(func(key, value any) bool {
		if value.(*limiterEntry).lastSeen.Load() < cutoff {
			rl.limiters.Delete(key)
		}
		return true
	})
}

// Middleware rejects requests over the per-IP budget with 429.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(ClientIP(r)) {
			recordRejected("rate_limit")
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP extracts the client address, honoring proxy headers. The
// X-Forwarded-For value is only as trustworthy as the proxy in front.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// connLimiter caps concurrent WebSocket feeds per client IP.
type connLimiter struct {
	counts   sync.Map // ip -> *int32
	maxPerIP int
}

func newConnLimiter(maxPerIP int) *connLimiter {
	return &connLimiter{maxPerIP: maxPerIP}
}

// Acquire reserves a connection slot for ip.
func (cl *connLimiter) Acquire(ip string) bool {
	v, _ := cl.counts.LoadOrStore(ip, new(int32))
	counter := v.(*int32)
	for {
		current := atomic.LoadInt32(counter)
		if int(current) >= cl.maxPerIP {
			return false
		}
		if atomic.CompareAndSwapInt32(counter, current, current+1) {
			return true
		}
	}
}

// Release frees a slot reserved by Acquire.
func (cl *connLimiter) Release(ip string) {
	if v, ok := cl.counts.Load(ip); ok {
		atomic.AddInt32(v.(*int32), -1)
	}
}
