// Package app wires the exchange client, the resilience layer, the services and
// the HTTP handlers from a configuration.
package app

import (
	"github.com/gin-gonic/gin"

	"github.com/dalfonso89/crypto-conversion-service/internal/api"
	"github.com/dalfonso89/crypto-conversion-service/internal/buda"
	"github.com/dalfonso89/crypto-conversion-service/internal/config"
	"github.com/dalfonso89/crypto-conversion-service/internal/logger"
	"github.com/dalfonso89/crypto-conversion-service/internal/metrics"
	"github.com/dalfonso89/crypto-conversion-service/internal/ratelimit"
	"github.com/dalfonso89/crypto-conversion-service/internal/resilience"
	"github.com/dalfonso89/crypto-conversion-service/internal/service"
)

const breakerName = "buda_api"

type App struct {
	Config            *config.Config
	Logger            *logger.Logger
	Metrics           *metrics.Metrics
	Client            *buda.Client
	Store             resilience.Store
	Breaker           *resilience.Breaker
	TickerSource      *resilience.TickerSource
	ConversionService *service.ConversionService
	HealthService     *service.HealthService
	RateLimiter       *ratelimit.Limiter
	Handlers          *api.Handlers
}

// New builds every component once; the cache and breaker are shared by all requests
func New(configuration *config.Config, log *logger.Logger) *App {
	appMetrics := metrics.New()

	client := buda.NewClient(configuration.BudaAPI, log.Component("buda_client"), appMetrics)

	store := resilience.NewStore(configuration.Cache)
	resilienceLogger := log.Component("resilience")
	breaker := resilience.NewBreaker(breakerName, configuration.CircuitBreaker, resilienceLogger, appMetrics)
	caller := resilience.NewCaller(resilience.NewCache(store, resilienceLogger, appMetrics), breaker, resilienceLogger)
	tickerSource := resilience.NewTickerSource(client, caller, configuration.Cache)

	conversionService := service.NewConversionService(tickerSource, configuration.MaxConcurrentRequests, log.Component("conversion"), appMetrics)
	healthService := service.NewHealthService(tickerSource, tickerSource, tickerSource, configuration.HealthCheckTimeout, log.Component("health"), appMetrics)

	var rateLimiter *ratelimit.Limiter
	if configuration.RateLimitEnabled {
		rateLimiter = ratelimit.NewLimiter(configuration, log)
	}

	handlers := api.NewHandlers(api.HandlerConfig{
		Logger:            log,
		Version:           configuration.Version,
		ConversionService: conversionService,
		HealthService:     healthService,
		RateLimiter:       rateLimiter,
		Metrics:           appMetrics,
		TrustedProxies:    configuration.TrustedProxies,
	})

	log.WithFields(map[string]interface{}{
		"buda_api_url":      configuration.BudaAPI.BaseURL,
		"cache_backend":     configuration.Cache.Backend,
		"failure_threshold": configuration.CircuitBreaker.FailureThreshold,
		"recovery_timeout":  configuration.CircuitBreaker.RecoveryTimeout.String(),
		"rate_limiting":     configuration.RateLimitEnabled,
	}).Info("Application initialized")

	return &App{
		Config:            configuration,
		Logger:            log,
		Metrics:           appMetrics,
		Client:            client,
		Store:             store,
		Breaker:           breaker,
		TickerSource:      tickerSource,
		ConversionService: conversionService,
		HealthService:     healthService,
		RateLimiter:       rateLimiter,
		Handlers:          handlers,
	}
}

// Router returns the gin engine serving the API
func (application *App) Router() *gin.Engine {
	return application.Handlers.SetupRoutes()
}

// Close releases pooled connections and background goroutines
func (application *App) Close() {
	if application.RateLimiter != nil {
		application.RateLimiter.Stop()
	}
	application.Client.Close()
	if closer, ok := application.Store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			application.Logger.Warnf("Failed to close cache store: %v", err)
		}
	}
}
