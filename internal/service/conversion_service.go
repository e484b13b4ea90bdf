package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dalfonso89/crypto-conversion-service/internal/apperror"
	"github.com/dalfonso89/crypto-conversion-service/internal/metrics"
	"github.com/dalfonso89/crypto-conversion-service/internal/models"
)

const (
	finalAmountPrecision   = 18
	effectiveRatePrecision = 12
)

// TickerProvider is what the router needs from the exchange
type TickerProvider interface {
	GetTicker(ctx context.Context, marketID models.MarketID) (models.Ticker, error)
	GetMarkets(ctx context.Context) ([]models.MarketID, error)
}

// Route is the best conversion found for an amount
type Route struct {
	FinalAmount          decimal.Decimal
	IntermediateCurrency models.CryptoCurrency
}

// candidateOutcome is the tagged result of routing through one crypto
type candidateOutcome struct {
	crypto      models.CryptoCurrency
	finalAmount decimal.Decimal
	err         error
}

func (outcome candidateOutcome) ok() bool {
	return outcome.err == nil
}

type ConversionService struct {
	tickers       TickerProvider
	logger        logrus.FieldLogger
	metrics       *metrics.Metrics
	maxConcurrent int
	now           func() time.Time
}

func NewConversionService(tickers TickerProvider, maxConcurrent int, logger logrus.FieldLogger, metrics *metrics.Metrics) *ConversionService {
	return &ConversionService{
		tickers:       tickers,
		logger:        logger,
		metrics:       metrics,
		maxConcurrent: maxConcurrent,
		now:           time.Now,
	}
}

// Convert finds the best route and wraps it into a quote
func (conversionService *ConversionService) Convert(ctx context.Context, from, to models.FiatCurrency, amount decimal.Decimal) (models.ConversionQuote, error) {
	route, err := conversionService.FindBestRoute(ctx, from, to, amount)
	if err != nil {
		conversionService.metrics.ObserveConversion(apperror.KindOf(err).String(), "")
		return models.ConversionQuote{}, err
	}
	conversionService.metrics.ObserveConversion("success", route.IntermediateCurrency.String())

	return models.ConversionQuote{
		FromCurrency:         from,
		ToCurrency:           to,
		OriginalAmount:       amount,
		FinalAmount:          route.FinalAmount,
		IntermediateCurrency: route.IntermediateCurrency,
		EffectiveRate:        route.FinalAmount.DivRound(amount, effectiveRatePrecision),
		Timestamp:            conversionService.now().UTC(),
	}, nil
}

// FindBestRoute converts amount through every candidate crypto concurrently and
// returns the largest final amount. Ties go to the earliest candidate of
// models.CryptoCurrencies.
func (conversionService *ConversionService) FindBestRoute(ctx context.Context, from, to models.FiatCurrency, amount decimal.Decimal) (Route, error) {
	if from == to {
		return Route{}, apperror.SameCurrency("source and target currencies must differ", map[string]interface{}{
			"from": from.String(),
			"to":   to.String(),
		})
	}
	if !amount.IsPositive() {
		return Route{}, apperror.InvalidAmount("amount must be greater than zero", map[string]interface{}{
			"amount": amount.String(),
		})
	}

	outcomes := make([]candidateOutcome, len(models.CryptoCurrencies))

	group := errgroup.Group{}
	if conversionService.maxConcurrent > 0 {
		group.SetLimit(conversionService.maxConcurrent)
	}
	for i, crypto := range models.CryptoCurrencies {
		i, crypto := i, crypto
		group.Go(func() error {
			outcomes[i] = conversionService.evaluateCandidate(ctx, crypto, from, to, amount)
			return nil
		})
	}
	_ = group.Wait()

	var best *candidateOutcome
	var failures []candidateOutcome
	for i := range outcomes {
		outcome := outcomes[i]
		if !outcome.ok() {
			failures = append(failures, outcome)
			conversionService.metrics.ObserveCandidate(outcome.crypto.String(), "failed")
			continue
		}
		conversionService.metrics.ObserveCandidate(outcome.crypto.String(), "ok")
		if best == nil || outcome.finalAmount.GreaterThan(best.finalAmount) {
			best = &outcomes[i]
		}
	}

	if best != nil {
		conversionService.logger.WithFields(logrus.Fields{
			"from":         from,
			"to":           to,
			"intermediate": best.crypto,
			"failed":       len(failures),
		}).Debug("Best conversion route found")
		return Route{FinalAmount: best.finalAmount, IntermediateCurrency: best.crypto}, nil
	}

	return Route{}, conversionService.noRouteError(ctx, from, to, failures)
}

func (conversionService *ConversionService) evaluateCandidate(ctx context.Context, crypto models.CryptoCurrency, from, to models.FiatCurrency, amount decimal.Decimal) candidateOutcome {
	outcome := candidateOutcome{crypto: crypto}

	buyRate, err := conversionService.rate(ctx, models.NewMarketID(crypto, from))
	if err != nil {
		outcome.err = err
		return outcome
	}
	sellRate, err := conversionService.rate(ctx, models.NewMarketID(crypto, to))
	if err != nil {
		outcome.err = err
		return outcome
	}

	// amount / buy * sell, multiplied first so exact routes stay exact
	finalAmount := amount.Mul(sellRate).DivRound(buyRate, finalAmountPrecision)
	if !finalAmount.IsPositive() {
		outcome.err = apperror.Conversion("route produced a non-positive amount", map[string]interface{}{
			"crypto": crypto.String(),
		})
		return outcome
	}

	outcome.finalAmount = finalAmount
	return outcome
}

func (conversionService *ConversionService) rate(ctx context.Context, marketID models.MarketID) (decimal.Decimal, error) {
	ticker, err := conversionService.tickers.GetTicker(ctx, marketID)
	if err != nil {
		conversionService.logger.WithField("market_id", marketID).Debugf("Ticker unavailable: %v", err)
		return decimal.Zero, err
	}
	if !ticker.LastPrice.IsPositive() {
		return decimal.Zero, apperror.Conversion("market has no usable price", map[string]interface{}{
			"market_id":  marketID.String(),
			"last_price": ticker.LastPrice.String(),
		})
	}
	return ticker.LastPrice, nil
}

// noRouteError reports why no candidate produced a route. When every candidate
// failed because the exchange was unavailable the failure is an upstream one.
func (conversionService *ConversionService) noRouteError(ctx context.Context, from, to models.FiatCurrency, failures []candidateOutcome) error {
	messages := make([]string, 0, len(failures))
	var firstUpstream *apperror.Error
	allUpstream := len(failures) > 0
	for _, failure := range failures {
		messages = append(messages, fmt.Sprintf("%s: %v", failure.crypto, failure.err))

		appErr, ok := apperror.As(failure.err)
		if !ok || !appErr.Kind.IsUpstream() {
			allUpstream = false
			continue
		}
		if firstUpstream == nil {
			firstUpstream = appErr
		}
	}

	details := map[string]interface{}{
		"from":   from.String(),
		"to":     to.String(),
		"errors": messages,
	}

	if err := ctx.Err(); err != nil {
		return apperror.Canceled("conversion abandoned by the caller", err, details)
	}

	logEntry := conversionService.logger.WithFields(logrus.Fields{"from": from, "to": to, "errors": messages})
	if allUpstream {
		logEntry.Warn("Exchange unavailable for every conversion candidate")
		return apperror.Wrap(firstUpstream.Kind, "exchange unavailable for every conversion route", firstUpstream, details)
	}

	logEntry.Info("No conversion route available")
	return apperror.Conversion(fmt.Sprintf("no conversion route found from %s to %s", from, to), details)
}
