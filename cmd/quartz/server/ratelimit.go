package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	rateLimitPerSecond = 20
	rateLimitBurst     = 40
	limiterIdleTTL     = 10 * time.Minute
)

// ipLimiters hands out one token bucket per client IP and evicts buckets
// that have been idle for limiterIdleTTL.
type ipLimiters struct {
	mu      sync.Mutex
	buckets map[string]*ipBucket
	done    chan struct{}
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiters() *ipLimiters {
	l := &ipLimiters{
		buckets: make(map[string]*ipBucket),
		done:    make(chan struct{}),
	}
	go l.evictLoop()
	return l
}

func (l *ipLimiters) stop() {
	close(l.done)
}

func (l *ipLimiters) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.buckets[ip]
	if !ok {
		bucket = &ipBucket{limiter: rate.NewLimiter(rateLimitPerSecond, rateLimitBurst)}
		l.buckets[ip] = bucket
	}
	bucket.lastSeen = time.Now()
	return bucket.limiter
}

func (l *ipLimiters) evictLoop() {
	ticker := time.NewTicker(limiterIdleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.evictIdle(time.Now().Add(-limiterIdleTTL))
		}
	}
}

func (l *ipLimiters) evictIdle(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, bucket := range l.buckets {
		if bucket.lastSeen.Before(cutoff) {
			delete(l.buckets, ip)
		}
	}
}

// rateLimitMiddleware refuses clients that exceed the per-IP limit with the
// standard 429 and Retry-After answer.
func rateLimitMiddleware(next http.Handler) http.Handler {
	limiters := newIPLimiters()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !limiters.get(ip).Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "slow_down", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
