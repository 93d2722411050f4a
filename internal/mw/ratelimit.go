package mw

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per client IP and route template.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	every   rate.Limit
	burst   int
	idle    time.Duration
	skip    map[string]bool
	stop    chan struct{}
	once    sync.Once
}

// NewRateLimiter starts a limiter whose buckets are forgotten after idle.
// Call Stop to end its sweeper.
func NewRateLimiter(every rate.Limit, burst int, idle time.Duration, skipPaths ...string) *Limiter {
	rl := &Limiter{
		buckets: make(map[string]*bucket),
		every:   every,
		burst:   burst,
		idle:    idle,
		skip:    make(map[string]bool, len(skipPaths)),
		stop:    make(chan struct{}),
	}
	for _, p := range skipPaths {
		rl.skip[p] = true
	}
	go rl.run(30 * time.Second)
	return rl
}

func (rl *Limiter) bucketFor(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b := rl.buckets[key]
	if b == nil {
		b = &bucket{lim: rate.NewLimiter(rl.every, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim
}

func (rl *Limiter) run(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case now := <-t.C:
			rl.sweep(now)
		}
	}
}

// sweep drops buckets idle for longer than rl.idle and reports how many remain.
func (rl *Limiter) sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.idle {
			delete(rl.buckets, k)
		}
	}
	return len(rl.buckets)
}

func (rl *Limiter) Stop() { rl.once.Do(func() { close(rl.stop) }) }

// Middleware rejects requests over budget with 429 and a Retry-After hint.
// Long-lived routes such as the socket upgrade can be exempted at construction.
func (rl *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if rl.skip[route] {
			c.Next()
			return
		}
		now := time.Now()
		res := rl.bucketFor(clientIP(c.Request.RemoteAddr)+"|"+route, now).ReserveN(now, 1)
		if !res.OK() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		if delay := res.DelayFrom(now); delay > 0 {
			res.CancelAt(now)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
