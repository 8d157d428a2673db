// Package ratelimit throttles write-heavy routes per authenticated user.
package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tidewatch/storefront/internal/platform/httpx"
	"github.com/tidewatch/storefront/internal/platform/requestctx"
)

const idleAfter = 10 * time.Minute

// PerUser keeps one token bucket per caller.
type PerUser struct {
	limit rate.Limit
	burst int
	clock func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewPerUser allows perMinute requests per caller with the given burst. A non-positive
// perMinute returns nil, which disables limiting.
func NewPerUser(perMinute, burst int) *PerUser {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &PerUser{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		clock:   time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether key may proceed now and, when it may not, how long to wait.
func (p *PerUser) Allow(key string) (bool, time.Duration) {
	if p == nil {
		return true, 0
	}
	now := p.clock()

	p.mu.Lock()
	b, ok := p.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.buckets[key] = b
	}
	b.lastSeen = now
	p.mu.Unlock()

	reservation := b.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, time.Minute
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Prune drops buckets idle for longer than the refill horizon.
func (p *PerUser) Prune() int {
	if p == nil {
		return 0
	}
	now := p.clock()
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for key, b := range p.buckets {
		if now.Sub(b.lastSeen) > idleAfter {
			delete(p.buckets, key)
			removed++
		}
	}
	return removed
}

// RunPruner calls Prune every interval until ctx is done.
func (p *PerUser) RunPruner(ctx context.Context, interval time.Duration) {
	if p == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune()
		}
	}
}

// Middleware rejects callers over their budget with 429 and a Retry-After header. Requests are
// keyed by the authenticated user, so it must run after authentication.
func (p *PerUser) Middleware(next http.Handler) http.Handler {
	if p == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := requestctx.UserID(r.Context())
		if key == "" {
			key = "anonymous"
		}
		ok, wait := p.Allow(key)
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}
