package resilience

import (
	"context"
	"time"

	"github.com/dalfonso89/crypto-conversion-service/internal/config"
	"github.com/dalfonso89/crypto-conversion-service/internal/models"
)

// TickerFetcher is the contract of the exchange client
type TickerFetcher interface {
	GetTicker(ctx context.Context, marketID models.MarketID) (models.Ticker, error)
	GetMarkets(ctx context.Context) ([]models.MarketID, error)
}

// TickerSource decorates a TickerFetcher with caching and circuit breaking
type TickerSource struct {
	upstream   TickerFetcher
	caller     *Caller
	tickerTTL  time.Duration
	marketsTTL time.Duration
}

func NewTickerSource(upstream TickerFetcher, caller *Caller, configuration config.Cache) *TickerSource {
	return &TickerSource{
		upstream:   upstream,
		caller:     caller,
		tickerTTL:  configuration.TickerTTL,
		marketsTTL: configuration.MarketsTTL,
	}
}

func (source *TickerSource) GetTicker(ctx context.Context, marketID models.MarketID) (models.Ticker, error) {
	return Call(ctx, source.caller, CallGetTicker, marketID.String(), source.tickerTTL, func(ctx context.Context) (models.Ticker, error) {
		return source.upstream.GetTicker(ctx, marketID)
	})
}

func (source *TickerSource) GetMarkets(ctx context.Context) ([]models.MarketID, error) {
	return Call(ctx, source.caller, CallGetMarkets, "", source.marketsTTL, source.upstream.GetMarkets)
}

// Ping checks the cache store
func (source *TickerSource) Ping(ctx context.Context) error {
	return source.caller.cache.Ping(ctx)
}

// BreakerState returns the state of the breaker guarding the exchange
func (source *TickerSource) BreakerState() string {
	return source.caller.breaker.State()
}
