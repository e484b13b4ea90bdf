package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/dalfonso89/crypto-conversion-service/internal/apperror"
)

const (
	CallGetTicker  = "get_ticker"
	CallGetMarkets = "get_markets"
)

// Caller composes the response cache with the circuit breaker. Upstream
// errors are returned unmodified.
type Caller struct {
	cache             *Cache
	breaker           *Breaker
	logger            logrus.FieldLogger
	singleFlightGroup singleflight.Group
}

func NewCaller(cache *Cache, breaker *Breaker, logger logrus.FieldLogger) *Caller {
	return &Caller{cache: cache, breaker: breaker, logger: logger}
}

// Call serves "{call}:{args}" from the cache, otherwise runs fetch behind the
// breaker and caches its result for ttl. Concurrent misses on the same key
// share one upstream call. The shared call is detached from any single
// caller's cancellation; each caller stops waiting when its own ctx is done.
func Call[T any](ctx context.Context, caller *Caller, call, args string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	key := call + ":" + args

	var cached T
	if caller.cache.Lookup(ctx, call, key, &cached) {
		return cached, nil
	}
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, contextError(err, key)
	}

	flightCtx := context.WithoutCancel(ctx)
	flight := caller.singleFlightGroup.DoChan(key, func() (interface{}, error) {
		// a flight that just finished may have filled the cache after our lookup
		var stored T
		if caller.cache.read(flightCtx, key, &stored) == "hit" {
			return stored, nil
		}

		value, err := caller.breaker.Execute(func() (interface{}, error) {
			return fetch(flightCtx)
		})
		if err != nil {
			return nil, err
		}
		caller.cache.Save(flightCtx, call, key, value, ttl)
		return value, nil
	})

	select {
	case <-ctx.Done():
		var zero T
		return zero, contextError(ctx.Err(), key)
	case result := <-flight:
		if result.Shared {
			caller.logger.WithField("key", key).Debug("Shared in-flight upstream call")
		}
		if result.Err != nil {
			var zero T
			return zero, result.Err
		}
		return result.Val.(T), nil
	}
}

func contextError(err error, key string) error {
	details := map[string]interface{}{"key": key}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.Timeout("exchange API request timed out", err, details)
	}
	return apperror.Canceled("request canceled", err, details)
}
