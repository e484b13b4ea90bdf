package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dalfonso89/crypto-conversion-service/internal/config"
	"github.com/dalfonso89/crypto-conversion-service/internal/logger"
)

const (
	cleanupInterval = 5 * time.Minute
	idleExpiry      = 30 * time.Minute
)

// Limiter keeps one token bucket per client IP
type Limiter struct {
	Configuration *config.Config
	logger        *logger.Logger

	clientLimiters map[string]*clientLimiter
	limitersMutex  sync.Mutex

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a rate limiter and starts evicting idle clients
func NewLimiter(configuration *config.Config, logger *logger.Logger) *Limiter {
	rateLimiter := &Limiter{
		Configuration:  configuration,
		logger:         logger,
		clientLimiters: make(map[string]*clientLimiter),
		cleanupTicker:  time.NewTicker(cleanupInterval),
		stopCleanup:    make(chan struct{}),
	}

	go rateLimiter.cleanup()

	return rateLimiter
}

// Allow reports whether a request from clientIP may proceed
func (rateLimiter *Limiter) Allow(clientIP string) bool {
	if !rateLimiter.Configuration.RateLimitEnabled {
		return true
	}

	rateLimiter.limitersMutex.Lock()
	client, exists := rateLimiter.clientLimiters[clientIP]
	if !exists {
		client = &clientLimiter{
			limiter: rate.NewLimiter(rateLimiter.refillRate(), rateLimiter.Configuration.RateLimitBurst),
		}
		rateLimiter.clientLimiters[clientIP] = client
	}
	client.lastSeen = time.Now()
	rateLimiter.limitersMutex.Unlock()

	return client.limiter.Allow()
}

// refillRate spreads RateLimitRequests evenly over RateLimitWindow
func (rateLimiter *Limiter) refillRate() rate.Limit {
	window := rateLimiter.Configuration.RateLimitWindow
	if window <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(rateLimiter.Configuration.RateLimitRequests) / window.Seconds())
}

// RetryAfter is how long a limited client should wait for the next token
func (rateLimiter *Limiter) RetryAfter() time.Duration {
	limit := rateLimiter.refillRate()
	if limit == rate.Inf || limit <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(limit))
}

// Clients returns the number of tracked client IPs
func (rateLimiter *Limiter) Clients() int {
	rateLimiter.limitersMutex.Lock()
	defer rateLimiter.limitersMutex.Unlock()
	return len(rateLimiter.clientLimiters)
}

func (rateLimiter *Limiter) cleanup() {
	for {
		select {
		case <-rateLimiter.cleanupTicker.C:
			rateLimiter.evictIdle(time.Now())
		case <-rateLimiter.stopCleanup:
			rateLimiter.cleanupTicker.Stop()
			return
		}
	}
}

func (rateLimiter *Limiter) evictIdle(currentTime time.Time) {
	rateLimiter.limitersMutex.Lock()
	defer rateLimiter.limitersMutex.Unlock()

	evicted := 0
	for clientIP, client := range rateLimiter.clientLimiters {
		if currentTime.Sub(client.lastSeen) > idleExpiry {
			delete(rateLimiter.clientLimiters, clientIP)
			evicted++
		}
	}
	if evicted > 0 {
		rateLimiter.logger.Debugf("Evicted %d idle rate limit clients", evicted)
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rateLimiter *Limiter) Stop() {
	rateLimiter.stopOnce.Do(func() {
		close(rateLimiter.stopCleanup)
	})
}
