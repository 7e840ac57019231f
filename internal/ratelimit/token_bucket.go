// Package ratelimit admits inbound connections and messages using a
// per-key token bucket, so one noisy peer cannot starve the rest of a
// node's capacity.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter tracks one token bucket per key (typically a remote address or
// client id), lazily creating a bucket the first time a key is seen.
type Limiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
}

// New returns a Limiter granting each key tokens at perSecond with the
// given burst capacity.
func New(perSecond float64, burst int) *Limiter {
	return &Limiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) bucketFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	return b
}

// Allow reports whether key has a token available right now, consuming one
// if so.
func (l *Limiter) Allow(key string) bool {
	return l.bucketFor(key).Allow()
}

// Forget drops key's bucket, e.g. once its connection has closed, so the
// map doesn't grow without bound across reconnecting peers.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}
