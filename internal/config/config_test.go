package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected func(t *testing.T, cfg *Config)
	}{
		{
			name:    "default configuration",
			envVars: map[string]string{},
			expected: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "8000", cfg.Port)
				assert.Equal(t, "info", cfg.LogLevel)
				assert.Equal(t, "1.0.0", cfg.Version)
				assert.Equal(t, "https://www.buda.com/api/v2", cfg.BudaAPI.BaseURL)
				assert.Equal(t, 10*time.Second, cfg.BudaAPI.Timeout)
				assert.Equal(t, 10, cfg.BudaAPI.MaxConnections)
				assert.Equal(t, 5, cfg.BudaAPI.MaxKeepaliveConnections)
				assert.Equal(t, 60*time.Second, cfg.Cache.TickerTTL)
				assert.Equal(t, 300*time.Second, cfg.Cache.MarketsTTL)
				assert.Equal(t, CacheBackendMemory, cfg.Cache.Backend)
				assert.Equal(t, 5, cfg.CircuitBreaker.FailureThreshold)
				assert.Equal(t, 30*time.Second, cfg.CircuitBreaker.RecoveryTimeout)
				assert.Equal(t, 5*time.Second, cfg.HealthCheckTimeout)
				assert.Equal(t, 4, cfg.MaxConcurrentRequests)
				assert.True(t, cfg.RateLimitEnabled)
				assert.Equal(t, 100, cfg.RateLimitRequests)
				assert.Equal(t, 60*time.Second, cfg.RateLimitWindow)
				assert.Equal(t, 10, cfg.RateLimitBurst)
				assert.Empty(t, cfg.TrustedProxies)
			},
		},
		{
			name: "custom configuration",
			envVars: map[string]string{
				"PORT":                              "9090",
				"LOG_LEVEL":                         "debug",
				"BUDA_API_URL":                      "http://localhost:9999/api/v2",
				"REQUEST_TIMEOUT":                   "20s",
				"CACHE_TTL_TICKER":                  "15s",
				"CACHE_BACKEND":                     "REDIS",
				"CIRCUIT_BREAKER_FAILURE_THRESHOLD": "3",
				"CIRCUIT_BREAKER_RECOVERY_TIMEOUT":  "1m",
				"RATE_LIMIT_ENABLED":                "false",
				"TRUSTED_PROXIES":                   "10.0.0.0/8,192.168.1.10",
			},
			expected: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "9090", cfg.Port)
				assert.Equal(t, "debug", cfg.LogLevel)
				assert.Equal(t, "http://localhost:9999/api/v2", cfg.BudaAPI.BaseURL)
				assert.Equal(t, 20*time.Second, cfg.BudaAPI.Timeout)
				assert.Equal(t, 15*time.Second, cfg.Cache.TickerTTL)
				assert.Equal(t, CacheBackendRedis, cfg.Cache.Backend)
				assert.Equal(t, 3, cfg.CircuitBreaker.FailureThreshold)
				assert.Equal(t, time.Minute, cfg.CircuitBreaker.RecoveryTimeout)
				assert.False(t, cfg.RateLimitEnabled)
				assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.10"}, cfg.TrustedProxies)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_PATH", "")
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load()
			require.NoError(t, err)
			tt.expected(t, cfg)
		})
	}
}

func TestLoad_FromYAMLFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yml")
	content := []byte(`
port: "7000"
buda_api:
  base_url: http://buda.test/api/v2
  request_timeout: 8s
cache:
  ttl_markets: 10m
circuit_breaker:
  failure_threshold: 7
`)
	require.NoError(t, os.WriteFile(configPath, content, 0o600))
	t.Setenv("CONFIG_PATH", configPath)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, "http://buda.test/api/v2", cfg.BudaAPI.BaseURL)
	assert.Equal(t, 8*time.Second, cfg.BudaAPI.Timeout)
	assert.Equal(t, 10*time.Minute, cfg.Cache.MarketsTTL)
	assert.Equal(t, 7, cfg.CircuitBreaker.FailureThreshold)
}

func TestLoad_InvalidConfiguration(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("REQUEST_TIMEOUT", "3s")
	t.Setenv("HEALTH_CHECK_TIMEOUT", "5s")

	cfg, err := Load()
	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HEALTH_CHECK_TIMEOUT")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			BudaAPI: BudaAPI{
				BaseURL:                 "http://localhost",
				Timeout:                 10 * time.Second,
				MaxConnections:          10,
				MaxKeepaliveConnections: 5,
			},
			Cache:                 Cache{Backend: CacheBackendMemory, TickerTTL: time.Minute, MarketsTTL: 5 * time.Minute},
			CircuitBreaker:        CircuitBreaker{FailureThreshold: 5, RecoveryTimeout: 30 * time.Second},
			HealthCheckTimeout:    5 * time.Second,
			MaxConcurrentRequests: 4,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "empty base url", mutate: func(c *Config) { c.BudaAPI.BaseURL = "" }, wantErr: "BUDA_API_URL"},
		{name: "keepalive above pool size", mutate: func(c *Config) { c.BudaAPI.MaxKeepaliveConnections = 11 }, wantErr: "MAX_KEEPALIVE_CONNECTIONS"},
		{name: "unknown cache backend", mutate: func(c *Config) { c.Cache.Backend = "memcached" }, wantErr: "CACHE_BACKEND"},
		{name: "zero breaker threshold", mutate: func(c *Config) { c.CircuitBreaker.FailureThreshold = 0 }, wantErr: "FAILURE_THRESHOLD"},
		{name: "zero ticker ttl", mutate: func(c *Config) { c.Cache.TickerTTL = 0 }, wantErr: "TTL"},
		{name: "rate limit enabled without burst", mutate: func(c *Config) {
			c.RateLimitEnabled = true
			c.RateLimitRequests = 10
			c.RateLimitWindow = time.Second
		}, wantErr: "rate limit"},
		{name: "trusted proxies", mutate: func(c *Config) { c.TrustedProxies = []string{"10.0.0.0/8", "::1"} }},
		{name: "malformed trusted proxy", mutate: func(c *Config) { c.TrustedProxies = []string{"proxy.local"} }, wantErr: "TRUSTED_PROXIES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
