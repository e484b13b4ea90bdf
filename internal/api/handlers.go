package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/dalfonso89/crypto-conversion-service/internal/apperror"
	"github.com/dalfonso89/crypto-conversion-service/internal/logger"
	"github.com/dalfonso89/crypto-conversion-service/internal/metrics"
	"github.com/dalfonso89/crypto-conversion-service/internal/middleware"
	"github.com/dalfonso89/crypto-conversion-service/internal/models"
	"github.com/dalfonso89/crypto-conversion-service/internal/ratelimit"
	"github.com/dalfonso89/crypto-conversion-service/internal/service"
)

const (
	maxAmountDecimals = 8
	statusReady       = "ready"
	statusNotReady    = "not_ready"
)

var maxAmount = decimal.NewFromInt(1_000_000_000)

// Converter quotes conversions between fiat currencies
type Converter interface {
	Convert(ctx context.Context, from, to models.FiatCurrency, amount decimal.Decimal) (models.ConversionQuote, error)
}

// HealthChecker reports liveness and readiness of the service
type HealthChecker interface {
	CheckLiveness() bool
	CheckReadiness(ctx context.Context) service.Readiness
	DetailedStatus(ctx context.Context) models.DetailedStatus
}

// Handlers contains all HTTP handlers
type Handlers struct {
	logger            *logger.Logger
	version           string
	startTime         time.Time
	conversionService Converter
	healthService     HealthChecker
	rateLimiter       *ratelimit.Limiter
	metrics           *metrics.Metrics
	trustedProxies    []string
}

// HandlerConfig holds the dependencies of the handlers
type HandlerConfig struct {
	Logger            *logger.Logger
	Version           string
	ConversionService Converter
	HealthService     HealthChecker
	RateLimiter       *ratelimit.Limiter
	Metrics           *metrics.Metrics
	TrustedProxies    []string
}

// NewHandlers creates a new handlers instance
func NewHandlers(handlerConfig HandlerConfig) *Handlers {
	return &Handlers{
		logger:            handlerConfig.Logger,
		version:           handlerConfig.Version,
		startTime:         time.Now(),
		conversionService: handlerConfig.ConversionService,
		healthService:     handlerConfig.HealthService,
		rateLimiter:       handlerConfig.RateLimiter,
		metrics:           handlerConfig.Metrics,
		trustedProxies:    handlerConfig.TrustedProxies,
	}
}

// SetupRoutes configures all the routes using Gin
func (handlers *Handlers) SetupRoutes() *gin.Engine {
	router := gin.New()
	if err := router.SetTrustedProxies(handlers.trustedProxies); err != nil {
		handlers.logger.WithError(err).Warn("Invalid trusted proxies, forwarding headers are ignored")
		_ = router.SetTrustedProxies(nil)
	}

	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(handlers.logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS())

	health := router.Group("/health")
	{
		health.GET("", handlers.HealthCheck)
		health.GET("/live", handlers.Liveness)
		health.GET("/ready", handlers.Readiness)
		health.GET("/details", handlers.DetailedStatus)
	}

	if handlers.metrics != nil {
		router.GET("/metrics", gin.WrapH(handlers.metrics.Handler()))
	}

	conversion := router.Group("")
	if handlers.rateLimiter != nil {
		conversion.Use(middleware.RateLimit(handlers.rateLimiter))
	}
	conversion.GET("/convert", handlers.Convert)
	conversion.GET("/api/v1/convert", handlers.Convert)

	router.NoRoute(func(context *gin.Context) {
		handlers.writeError(context, apperror.NotFound("route not found", nil))
	})

	return router
}

// Convert quotes the conversion of an amount between two fiat currencies
func (handlers *Handlers) Convert(context *gin.Context) {
	var query models.ConvertQuery
	if bindError := context.ShouldBindQuery(&query); bindError != nil {
		handlers.writeError(context, apperror.Validation("from_currency, to_currency and a plain decimal amount are required", map[string]interface{}{
			"reason": bindError.Error(),
		}))
		return
	}

	fromCurrency, parseError := models.ParseFiatCurrency(query.FromCurrency)
	if parseError != nil {
		handlers.writeError(context, apperror.Validation(parseError.Error(), map[string]interface{}{"field": "from_currency"}))
		return
	}
	toCurrency, parseError := models.ParseFiatCurrency(query.ToCurrency)
	if parseError != nil {
		handlers.writeError(context, apperror.Validation(parseError.Error(), map[string]interface{}{"field": "to_currency"}))
		return
	}

	amount, amountError := parseAmount(query.Amount)
	if amountError != nil {
		handlers.writeError(context, amountError)
		return
	}

	quote, convertError := handlers.conversionService.Convert(context.Request.Context(), fromCurrency, toCurrency, amount)
	if convertError != nil {
		handlers.writeError(context, convertError)
		return
	}

	context.JSON(http.StatusOK, models.ConversionResponse{
		FinalAmount:          quote.FinalAmount,
		IntermediateCurrency: quote.IntermediateCurrency.String(),
		FromCurrency:         quote.FromCurrency.String(),
		ToCurrency:           quote.ToCurrency.String(),
		OriginalAmount:       quote.OriginalAmount,
		ConversionRate:       quote.EffectiveRate,
		Timestamp:            quote.Timestamp,
	})
}

// parseAmount accepts at most 8 decimals and values up to 1,000,000,000.
// Positivity is checked by the conversion service.
func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, apperror.Validation("amount must be a number", map[string]interface{}{
			"field": "amount",
			"value": raw,
		})
	}
	if amount.Exponent() < -maxAmountDecimals && !amount.Equal(amount.Truncate(maxAmountDecimals)) {
		return decimal.Zero, apperror.Validation("amount supports at most 8 decimal places", map[string]interface{}{
			"field": "amount",
			"value": raw,
		})
	}
	if amount.GreaterThan(maxAmount) {
		return decimal.Zero, apperror.Validation("amount must not exceed 1000000000", map[string]interface{}{
			"field": "amount",
			"value": raw,
		})
	}
	return amount, nil
}

// HealthCheck handles health check requests
func (handlers *Handlers) HealthCheck(context *gin.Context) {
	context.JSON(http.StatusOK, models.HealthCheck{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   handlers.version,
		Uptime:    time.Since(handlers.startTime).String(),
	})
}

// Liveness answers the liveness probe without touching dependencies
func (handlers *Handlers) Liveness(context *gin.Context) {
	if !handlers.healthService.CheckLiveness() {
		context.JSON(http.StatusServiceUnavailable, models.HealthCheck{
			Status:    "unhealthy",
			Timestamp: time.Now().UTC(),
			Version:   handlers.version,
		})
		return
	}

	context.JSON(http.StatusOK, models.HealthCheck{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   handlers.version,
	})
}

// Readiness answers 200 only when every dependency is healthy
func (handlers *Handlers) Readiness(context *gin.Context) {
	readiness := handlers.healthService.CheckReadiness(context.Request.Context())

	response := models.ReadinessResponse{
		Status:       statusReady,
		Dependencies: readiness.Dependencies,
		ChecksPassed: readiness.ChecksPassed,
		ChecksTotal:  readiness.ChecksTotal,
		Timestamp:    time.Now().UTC(),
	}

	statusCode := http.StatusOK
	if !readiness.Ready {
		response.Status = statusNotReady
		statusCode = http.StatusServiceUnavailable
		handlers.logger.WithField("dependencies", readiness.Dependencies).Warn("Service not ready")
	}

	context.JSON(statusCode, response)
}

// DetailedStatus returns dependency states, check counts and breaker state
func (handlers *Handlers) DetailedStatus(context *gin.Context) {
	context.JSON(http.StatusOK, handlers.healthService.DetailedStatus(context.Request.Context()))
}

// writeError maps a domain error to its HTTP status and error body
func (handlers *Handlers) writeError(context *gin.Context, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		appErr = apperror.Wrap(apperror.KindInternal, "internal server error", err, nil)
	}

	statusCode := appErr.Kind.StatusCode()
	logEntry := handlers.logger.WithFields(map[string]interface{}{
		"path":  context.Request.URL.Path,
		"kind":  appErr.Kind.String(),
		"error": err.Error(),
	})
	if requestID, exists := context.Get(middleware.RequestIDKey); exists {
		logEntry = logEntry.WithField(middleware.RequestIDKey, requestID)
	}

	switch {
	case appErr.Kind == apperror.KindInternal:
		logEntry.Error("Request failed")
	case appErr.Kind.IsUpstream():
		logEntry.Warn("Exchange unavailable")
	default:
		logEntry.Debug("Request rejected")
	}

	message := appErr.Message
	if appErr.Kind == apperror.KindInternal {
		message = "internal server error"
	}

	_ = context.Error(err)
	context.JSON(statusCode, models.ErrorResponse{
		Error:   appErr.Kind.String(),
		Message: message,
		Details: appErr.Details,
		Path:    context.Request.URL.Path,
		Code:    statusCode,
	})
}
