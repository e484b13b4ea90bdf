package testutils

import (
	"context"
	"io"
	"time"

	"github.com/dalfonso89/crypto-conversion-service/internal/config"
	"github.com/dalfonso89/crypto-conversion-service/internal/logger"
)

// MockLogger creates a debug level logger that discards its output
func MockLogger() *logger.Logger {
	return logger.NewWithOutput("debug", io.Discard)
}

// MockConfig creates a configuration pointing at baseURL with test friendly timeouts
func MockConfig(baseURL string) *config.Config {
	return &config.Config{
		AppName:  "Currency Conversion API",
		Version:  "1.0.0-test",
		Port:     "0",
		LogLevel: "error",

		BudaAPI: config.BudaAPI{
			BaseURL:                 baseURL,
			Timeout:                 2 * time.Second,
			MaxConnections:          10,
			MaxKeepaliveConnections: 5,
		},
		Cache: config.Cache{
			Backend:    config.CacheBackendMemory,
			TickerTTL:  60 * time.Second,
			MarketsTTL: 300 * time.Second,
		},
		CircuitBreaker: config.CircuitBreaker{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
		},
		HealthCheckTimeout:    time.Second,
		MaxConcurrentRequests: 4,

		RateLimitEnabled:  false,
		RateLimitRequests: 100,
		RateLimitWindow:   60 * time.Second,
		RateLimitBurst:    10,
	}
}

// MockContextWithTimeout creates a context with timeout for testing
func MockContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
