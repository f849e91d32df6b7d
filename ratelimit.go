package main

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter hands out one token bucket per remote host
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	return &rateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether addr may make another request now. The port is
// ignored so reconnecting does not reset the bucket.
func (rl *rateLimiter) Allow(addr string) bool {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.visitors[host]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[host] = v
	}
	v.lastSeen = now
	allowed := v.limiter.AllowN(now, 1)
	if !allowed && debugMode {
		log.Printf("[RateLimit] Rejected %s", host)
	}
	return allowed
}

// forget drops buckets idle for longer than idle
func (rl *rateLimiter) forget(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-idle)
	n := 0
	for host, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, host)
			n++
		}
	}
	return n
}

// cleanup runs forget every interval until ctx is done
func (rl *rateLimiter) cleanup(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rl.forget(idle); n > 0 && debugMode {
				log.Printf("[RateLimit] Forgot %d idle clients", n)
			}
		}
	}
}
