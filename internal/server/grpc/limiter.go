package grpc

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// peerIdleTTL is how long an unused per-peer bucket is kept.
const peerIdleTTL = 10 * time.Minute

type peerBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// peerLimiter keeps one token bucket per client address.
type peerLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	peers   map[string]*peerBucket
	now     func() time.Time
	lastGC  time.Time
	enabled bool
}

func newPeerLimiter(perMinute, burst int, now func() time.Time) *peerLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &peerLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		peers:   map[string]*peerBucket{},
		now:     now,
		lastGC:  now(),
		enabled: perMinute > 0,
	}
}

// Allow reports whether peer may make another throttled call now.
func (l *peerLimiter) Allow(peer string) bool {
	if !l.enabled {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastGC) > peerIdleTTL {
		for k, b := range l.peers {
			if now.Sub(b.lastSeen) > peerIdleTTL {
				delete(l.peers, k)
			}
		}
		l.lastGC = now
	}

	b, ok := l.peers[peer]
	if !ok {
		b = &peerBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.peers[peer] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1)
}

func (l *peerLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.peers)
}
