package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dalfonso89/crypto-conversion-service/internal/apperror"
	"github.com/dalfonso89/crypto-conversion-service/internal/config"
	"github.com/dalfonso89/crypto-conversion-service/internal/metrics"
	"github.com/dalfonso89/crypto-conversion-service/internal/models"
	"github.com/dalfonso89/crypto-conversion-service/internal/testutils"
)

type MockTickerFetcher struct {
	mock.Mock
}

func (m *MockTickerFetcher) GetTicker(ctx context.Context, marketID models.MarketID) (models.Ticker, error) {
	args := m.Called(ctx, marketID)
	return args.Get(0).(models.Ticker), args.Error(1)
}

func (m *MockTickerFetcher) GetMarkets(ctx context.Context) ([]models.MarketID, error) {
	args := m.Called(ctx)
	markets, _ := args.Get(0).([]models.MarketID)
	return markets, args.Error(1)
}

type sourceFixture struct {
	source  *TickerSource
	store   *MemoryStore
	metrics *metrics.Metrics
}

func newSourceFixture(upstream TickerFetcher, threshold int, recovery time.Duration) sourceFixture {
	store := NewMemoryStore()
	m := metrics.New()
	log := testutils.MockLogger()

	caller := NewCaller(
		NewCache(store, log, m),
		NewBreaker("buda_api", config.CircuitBreaker{FailureThreshold: threshold, RecoveryTimeout: recovery}, log, m),
		log,
	)
	source := NewTickerSource(upstream, caller, config.Cache{TickerTTL: 60 * time.Second, MarketsTTL: 300 * time.Second})
	return sourceFixture{source: source, store: store, metrics: m}
}

func ticker(marketID models.MarketID, price string) models.Ticker {
	return models.Ticker{MarketID: marketID, LastPrice: decimal.RequireFromString(price)}
}

func TestTickerSource_CachesWithinTTL(t *testing.T) {
	upstream := new(MockTickerFetcher)
	upstream.On("GetTicker", mock.Anything, models.MarketID("btc-clp")).
		Return(ticker("btc-clp", "50000000"), nil).Once()

	fixture := newSourceFixture(upstream, 5, time.Minute)
	ctx := context.Background()

	first, err := fixture.source.GetTicker(ctx, "btc-clp")
	require.NoError(t, err)
	second, err := fixture.source.GetTicker(ctx, "btc-clp")
	require.NoError(t, err)

	assert.Equal(t, first.MarketID, second.MarketID)
	assert.True(t, first.LastPrice.Equal(second.LastPrice))
	upstream.AssertNumberOfCalls(t, "GetTicker", 1)
}

func TestTickerSource_RefetchesAfterExpiry(t *testing.T) {
	upstream := new(MockTickerFetcher)
	upstream.On("GetTicker", mock.Anything, models.MarketID("btc-clp")).
		Return(ticker("btc-clp", "50000000"), nil).Once()
	upstream.On("GetTicker", mock.Anything, models.MarketID("btc-clp")).
		Return(ticker("btc-clp", "51000000"), nil).Once()

	fixture := newSourceFixture(upstream, 5, time.Minute)
	current := time.Now()
	fixture.store.now = func() time.Time { return current }
	ctx := context.Background()

	first, err := fixture.source.GetTicker(ctx, "btc-clp")
	require.NoError(t, err)

	current = current.Add(61 * time.Second)
	second, err := fixture.source.GetTicker(ctx, "btc-clp")
	require.NoError(t, err)

	assert.Equal(t, "50000000", first.LastPrice.String())
	assert.Equal(t, "51000000", second.LastPrice.String())
	upstream.AssertExpectations(t)
}

func TestTickerSource_CacheKeysPerArgument(t *testing.T) {
	upstream := new(MockTickerFetcher)
	upstream.On("GetTicker", mock.Anything, models.MarketID("btc-clp")).Return(ticker("btc-clp", "1"), nil).Once()
	upstream.On("GetTicker", mock.Anything, models.MarketID("eth-clp")).Return(ticker("eth-clp", "2"), nil).Once()
	upstream.On("GetMarkets", mock.Anything).Return([]models.MarketID{"btc-clp", "eth-clp"}, nil).Once()

	fixture := newSourceFixture(upstream, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := fixture.source.GetTicker(ctx, "btc-clp")
		require.NoError(t, err)
		_, err = fixture.source.GetTicker(ctx, "eth-clp")
		require.NoError(t, err)
		markets, err := fixture.source.GetMarkets(ctx)
		require.NoError(t, err)
		assert.Equal(t, []models.MarketID{"btc-clp", "eth-clp"}, markets)
	}

	upstream.AssertExpectations(t)
	assert.Equal(t, 3, fixture.store.Len())
}

func TestTickerSource_ErrorsAreNotCachedAndPropagateUnmodified(t *testing.T) {
	upstreamErr := apperror.Upstream("exchange returned 500", nil, map[string]interface{}{"status": 500})
	upstream := new(MockTickerFetcher)
	upstream.On("GetTicker", mock.Anything, models.MarketID("btc-clp")).Return(models.Ticker{}, upstreamErr).Twice()

	fixture := newSourceFixture(upstream, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := fixture.source.GetTicker(ctx, "btc-clp")
		assert.Same(t, upstreamErr, err)
	}
	upstream.AssertExpectations(t)
	assert.Equal(t, 0, fixture.store.Len())
}

func TestTickerSource_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	upstream := new(MockTickerFetcher)
	upstream.On("GetTicker", mock.Anything, mock.Anything).
		Return(models.Ticker{}, apperror.Timeout("exchange timed out", nil, nil)).Times(3)

	fixture := newSourceFixture(upstream, 3, time.Minute)
	ctx := context.Background()

	for _, marketID := range []models.MarketID{"btc-clp", "eth-clp", "ltc-clp"} {
		_, err := fixture.source.GetTicker(ctx, marketID)
		assert.Equal(t, apperror.KindTimeout, apperror.KindOf(err))
	}
	assert.Equal(t, StateOpen, fixture.source.BreakerState())

	_, err := fixture.source.GetTicker(ctx, "bch-clp")
	assert.Equal(t, apperror.KindCircuitOpen, apperror.KindOf(err))
	upstream.AssertNumberOfCalls(t, "GetTicker", 3)
}

func TestTickerSource_CacheHitServedWhileOpen(t *testing.T) {
	upstream := new(MockTickerFetcher)
	upstream.On("GetTicker", mock.Anything, models.MarketID("btc-clp")).Return(ticker("btc-clp", "50000000"), nil).Once()
	upstream.On("GetTicker", mock.Anything, models.MarketID("eth-clp")).
		Return(models.Ticker{}, apperror.Upstream("exchange down", nil, nil)).Once()

	fixture := newSourceFixture(upstream, 1, time.Minute)
	ctx := context.Background()

	_, err := fixture.source.GetTicker(ctx, "btc-clp")
	require.NoError(t, err)
	_, err = fixture.source.GetTicker(ctx, "eth-clp")
	require.Error(t, err)
	require.Equal(t, StateOpen, fixture.source.BreakerState())

	cached, err := fixture.source.GetTicker(ctx, "btc-clp")
	require.NoError(t, err)
	assert.Equal(t, "50000000", cached.LastPrice.String())
	upstream.AssertExpectations(t)
}

func TestTickerSource_NotFoundNeverTrips(t *testing.T) {
	upstream := new(MockTickerFetcher)
	upstream.On("GetTicker", mock.Anything, models.MarketID("xrp-clp")).
		Return(models.Ticker{}, apperror.NotFound("market not found", nil))

	fixture := newSourceFixture(upstream, 2, time.Minute)
	for i := 0; i < 6; i++ {
		_, err := fixture.source.GetTicker(context.Background(), "xrp-clp")
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	}
	assert.Equal(t, StateClosed, fixture.source.BreakerState())
	upstream.AssertNumberOfCalls(t, "GetTicker", 6)
}

func TestTickerSource_StoreFailureFallsThrough(t *testing.T) {
	upstream := new(MockTickerFetcher)
	upstream.On("GetTicker", mock.Anything, models.MarketID("btc-clp")).Return(ticker("btc-clp", "50000000"), nil).Twice()

	log := testutils.MockLogger()
	m := metrics.New()
	store := newUnreachableRedisStore()
	defer store.Close()
	caller := NewCaller(NewCache(store, log, m), NewBreaker("buda_api", config.CircuitBreaker{FailureThreshold: 5, RecoveryTimeout: time.Minute}, log, m), log)
	source := NewTickerSource(upstream, caller, config.Cache{TickerTTL: time.Minute, MarketsTTL: time.Minute})

	for i := 0; i < 2; i++ {
		result, err := source.GetTicker(context.Background(), "btc-clp")
		require.NoError(t, err)
		assert.Equal(t, "50000000", result.LastPrice.String())
	}
	upstream.AssertExpectations(t)
	assert.Error(t, source.Ping(context.Background()))
	assert.Equal(t, StateClosed, source.BreakerState())
}

func TestCall_UnserializableValueIsNotCached(t *testing.T) {
	fixture := newSourceFixture(new(MockTickerFetcher), 5, time.Minute)
	var calls int32

	fetch := func(context.Context) (chan int, error) {
		atomic.AddInt32(&calls, 1)
		return make(chan int), nil
	}
	for i := 0; i < 2; i++ {
		result, err := Call(context.Background(), fixture.source.caller, "channel", "x", time.Minute, fetch)
		require.NoError(t, err)
		assert.NotNil(t, result)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 0, fixture.store.Len())
}

func TestCall_ConcurrentMissesShareOneUpstreamCall(t *testing.T) {
	fixture := newSourceFixture(new(MockTickerFetcher), 5, time.Minute)
	release := make(chan struct{})
	var calls int32

	fetch := func(context.Context) (models.Ticker, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return ticker("btc-clp", "50000000"), nil
	}

	var wg sync.WaitGroup
	results := make([]models.Ticker, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := Call(context.Background(), fixture.source.caller, CallGetTicker, "btc-clp", time.Minute, fetch)
			assert.NoError(t, err)
			results[i] = result
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, result := range results {
		assert.Equal(t, "50000000", result.LastPrice.String())
	}
}

func TestCall_LeaderCancellationDoesNotFailFollowers(t *testing.T) {
	fixture := newSourceFixture(new(MockTickerFetcher), 5, time.Minute)
	release := make(chan struct{})
	started := make(chan struct{})
	var calls int32

	fetch := func(ctx context.Context) (models.Ticker, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		select {
		case <-release:
			return ticker("btc-clp", "50000000"), nil
		case <-ctx.Done():
			return models.Ticker{}, ctx.Err()
		}
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := Call(leaderCtx, fixture.source.caller, CallGetTicker, "btc-clp", time.Minute, fetch)
		leaderErr <- err
	}()
	<-started

	followerResult := make(chan models.Ticker, 1)
	followerErr := make(chan error, 1)
	go func() {
		result, err := Call(context.Background(), fixture.source.caller, CallGetTicker, "btc-clp", time.Minute, fetch)
		followerResult <- result
		followerErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	err := <-leaderErr
	assert.ErrorIs(t, err, apperror.ErrCanceled)

	close(release)
	require.NoError(t, <-followerErr)
	assert.Equal(t, "50000000", (<-followerResult).LastPrice.String())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, StateClosed, fixture.source.BreakerState())
}

func TestCall_CallerDeadlineReturnsTimeoutAndFlightStillCaches(t *testing.T) {
	fixture := newSourceFixture(new(MockTickerFetcher), 5, time.Minute)
	done := make(chan struct{})

	fetch := func(context.Context) (models.Ticker, error) {
		defer close(done)
		time.Sleep(100 * time.Millisecond)
		return ticker("btc-clp", "50000000"), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := Call(ctx, fixture.source.caller, CallGetTicker, "btc-clp", time.Minute, fetch)
	assert.Equal(t, apperror.KindTimeout, apperror.KindOf(err))

	<-done
	assert.Eventually(t, func() bool { return fixture.store.Len() == 1 }, time.Second, 5*time.Millisecond)
}
