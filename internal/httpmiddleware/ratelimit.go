package httpmiddleware

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
)

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(c *gin.Context) string

// ByClientIP charges requests to the caller's address.
func ByClientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return "ip:" + ip
	}
	return "ip:unknown"
}

// BySubject charges requests to the authenticated subject, falling back to the address.
func BySubject(subject func(c *gin.Context) string) KeyFunc {
	return func(c *gin.Context) string {
		if s := subject(c); s != "" {
			return "sub:" + s
		}
		return ByClientIP(c)
	}
}

// TokenBucket is an in-memory rate limiter keyed per caller.
type TokenBucket struct {
	capacity int
	rate     int
	now      func() time.Time
	mu       sync.Mutex
	state    map[string]*bucket
}

type bucket struct {
	tokens int
	last   time.Time
}

// NewTokenBucket creates limiter with capacity tokens and rate per minute.
func NewTokenBucket(capacity, perMinute int) *TokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &TokenBucket{
		capacity: capacity,
		rate:     perMinute,
		now:      time.Now,
		state:    make(map[string]*bucket),
	}
}

// Middleware returns gin handler enforcing per-key limits. A non-positive rate disables it.
func (l *TokenBucket) Middleware(key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.rate <= 0 {
			c.Next()
			return
		}
		if !l.Allow(key(c)) {
			c.Header("Retry-After", strconv.Itoa(l.retryAfterSeconds()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": gin.H{"code": "RATE_LIMITED", "message": "rate limit exceeded"}})
			return
		}
		c.Next()
	}
}

func (l *TokenBucket) retryAfterSeconds() int {
	if l.rate <= 0 {
		return 60
	}
	s := 60 / l.rate
	if s < 1 {
		s = 1
	}
	return s
}

// Allow takes one token from key's bucket, refilling it for the time elapsed.
func (l *TokenBucket) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.state[key]
	now := l.now()
	if !ok {
		b = &bucket{tokens: l.capacity - 1, last: now}
		l.state[key] = b
		return true
	}
	elapsed := now.Sub(b.last).Minutes()
	refill := int(elapsed * float64(l.rate))
	if refill > 0 {
		b.tokens += refill
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Prune drops buckets idle for longer than maxIdle.
func (l *TokenBucket) Prune(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-maxIdle)
	n := 0
	for k, b := range l.state {
		if b.last.Before(cutoff) {
			delete(l.state, k)
			n++
		}
	}
	return n
}

// refillWindow is how long an untouched bucket takes to fill up again. Past it a bucket
// is indistinguishable from a fresh one.
func (l *TokenBucket) refillWindow() time.Duration {
	return time.Duration(float64(l.capacity) / float64(l.rate) * float64(time.Minute))
}

// Schedule registers a periodic Prune of refilled buckets on c. A disabled limiter
// schedules nothing.
func (l *TokenBucket) Schedule(c *cron.Cron, every time.Duration, onPrune func(pruned int)) (cron.EntryID, error) {
	if l.rate <= 0 {
		return 0, nil
	}
	if every <= 0 {
		return 0, fmt.Errorf("prune interval must be positive, got %s", every)
	}
	return c.AddFunc("@every "+every.String(), func() {
		n := l.Prune(l.refillWindow())
		if onPrune != nil {
			onPrune(n)
		}
	})
}
