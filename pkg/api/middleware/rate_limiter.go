package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var RateLimitedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gsraster",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-caller rate limit",
	},
	[]string{"route"},
)

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained rate per caller.
	RequestsPerSecond float64
	BurstSize         int
	CleanupInterval   time.Duration
}

func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 10,
		BurstSize:         20,
		CleanupInterval:   5 * time.Minute,
	}
}

type clientBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// RateLimiter is a token bucket per caller. Authenticated callers are keyed
// by principal, anonymous ones by client IP.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientBucket
	config    RateLimiterConfig
	maxTokens float64

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter starts a limiter and its cleanup loop. Call Stop to end the
// loop.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	def := DefaultRateLimiterConfig()
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = def.RequestsPerSecond
	}
	if config.BurstSize < 1 {
		config.BurstSize = 1
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}

	rl := &RateLimiter{
		clients:   make(map[string]*clientBucket),
		config:    config,
		maxTokens: float64(config.BurstSize),
		stop:      make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Stop ends the cleanup loop. Allow keeps working afterwards.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// cleanup drops buckets idle for a whole interval; they would be full again.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.evictIdle(now.Add(-rl.config.CleanupInterval))
		}
	}
}

func (rl *RateLimiter) evictIdle(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, bucket := range rl.clients {
		bucket.mu.Lock()
		if bucket.lastRefill.Before(cutoff) {
			delete(rl.clients, key)
		}
		bucket.mu.Unlock()
	}
}

// Clients returns the number of callers currently tracked.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Allow takes a token from clientID's bucket.
func (rl *RateLimiter) Allow(clientID string) bool {
	ok, _ := rl.take(clientID, time.Now())
	return ok
}

// take returns whether a token was available and, if not, how long until
// one will be.
func (rl *RateLimiter) take(clientID string, now time.Time) (bool, time.Duration) {
	rl.mu.Lock()
	bucket, exists := rl.clients[clientID]
	if !exists {
		bucket = &clientBucket{tokens: rl.maxTokens, lastRefill: now}
		rl.clients[clientID] = bucket
	}
	rl.mu.Unlock()

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	elapsed := now.Sub(bucket.lastRefill).Seconds()
	bucket.tokens = math.Min(rl.maxTokens, bucket.tokens+elapsed*rl.config.RequestsPerSecond)
	bucket.lastRefill = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		return true, 0
	}
	wait := (1 - bucket.tokens) / rl.config.RequestsPerSecond
	return false, time.Duration(wait * float64(time.Second))
}

// Middleware rejects callers over their rate with 429 and a Retry-After
// header. It must run after AuthMiddleware to key on the principal.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString(ContextKeyPrincipal)
		if clientID == "" {
			clientID = "ip:" + c.ClientIP()
		}

		ok, wait := rl.take(clientID, time.Now())
		if !ok {
			retryAfter := int(math.Ceil(wait.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			RateLimitedTotal.WithLabelValues(c.FullPath()).Inc()
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
