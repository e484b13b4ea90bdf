package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// BudaAPI holds the connection settings of the exchange REST API
type BudaAPI struct {
	BaseURL                 string        `yaml:"base_url" env:"BUDA_API_URL" env-default:"https://www.buda.com/api/v2"`
	Timeout                 time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT" env-default:"10s"`
	MaxConnections          int           `yaml:"max_connections" env:"MAX_CONNECTIONS" env-default:"10"`
	MaxKeepaliveConnections int           `yaml:"max_keepalive_connections" env:"MAX_KEEPALIVE_CONNECTIONS" env-default:"5"`
}

// Cache holds response cache settings
type Cache struct {
	Backend       string        `yaml:"backend" env:"CACHE_BACKEND" env-default:"memory"`
	TickerTTL     time.Duration `yaml:"ttl_ticker" env:"CACHE_TTL_TICKER" env-default:"60s"`
	MarketsTTL    time.Duration `yaml:"ttl_markets" env:"CACHE_TTL_MARKETS" env-default:"300s"`
	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"REDIS_DB" env-default:"0"`
}

// CircuitBreaker holds the breaker guarding the exchange API
type CircuitBreaker struct {
	FailureThreshold int           `yaml:"failure_threshold" env:"CIRCUIT_BREAKER_FAILURE_THRESHOLD" env-default:"5"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" env:"CIRCUIT_BREAKER_RECOVERY_TIMEOUT" env-default:"30s"`
}

// Config holds all configuration for the application
type Config struct {
	AppName  string `yaml:"app_name" env:"APP_NAME" env-default:"Currency Conversion API"`
	Version  string `yaml:"app_version" env:"APP_VERSION" env-default:"1.0.0"`
	Port     string `yaml:"port" env:"PORT" env-default:"8000"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	BudaAPI        BudaAPI        `yaml:"buda_api"`
	Cache          Cache          `yaml:"cache"`
	CircuitBreaker CircuitBreaker `yaml:"circuit_breaker"`

	HealthCheckTimeout    time.Duration `yaml:"health_check_timeout" env:"HEALTH_CHECK_TIMEOUT" env-default:"5s"`
	MaxConcurrentRequests int           `yaml:"max_concurrent_requests" env:"MAX_CONCURRENT_REQUESTS" env-default:"4"`

	// Rate limiting
	RateLimitEnabled  bool          `yaml:"rate_limit_enabled" env:"RATE_LIMIT_ENABLED" env-default:"true"`
	RateLimitRequests int           `yaml:"rate_limit_requests" env:"RATE_LIMIT_REQUESTS" env-default:"100"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window" env:"RATE_LIMIT_WINDOW" env-default:"60s"`
	RateLimitBurst    int           `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST" env-default:"10"`

	// Proxies whose X-Forwarded-For / X-Real-IP headers are honoured; empty trusts none
	TrustedProxies []string `yaml:"trusted_proxies" env:"TRUSTED_PROXIES" env-separator:","`
}

// Load loads configuration from a .env file, the environment and, when
// CONFIG_PATH is set, a YAML file. Environment variables override the file.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	var configuration Config
	var readError error
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		readError = cleanenv.ReadConfig(configPath, &configuration)
	} else {
		readError = cleanenv.ReadEnv(&configuration)
	}
	if readError != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", readError)
	}

	configuration.Cache.Backend = strings.ToLower(configuration.Cache.Backend)
	if err := configuration.Validate(); err != nil {
		return nil, err
	}
	return &configuration, nil
}

// Validate checks limits that would otherwise fail at runtime
func (configuration *Config) Validate() error {
	var problems []error

	if configuration.BudaAPI.BaseURL == "" {
		problems = append(problems, errors.New("BUDA_API_URL must not be empty"))
	}
	if configuration.BudaAPI.Timeout <= 0 {
		problems = append(problems, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if configuration.BudaAPI.MaxConnections <= 0 {
		problems = append(problems, errors.New("MAX_CONNECTIONS must be positive"))
	}
	if configuration.BudaAPI.MaxKeepaliveConnections < 0 || configuration.BudaAPI.MaxKeepaliveConnections > configuration.BudaAPI.MaxConnections {
		problems = append(problems, errors.New("MAX_KEEPALIVE_CONNECTIONS must be between 0 and MAX_CONNECTIONS"))
	}
	if configuration.Cache.TickerTTL <= 0 || configuration.Cache.MarketsTTL <= 0 {
		problems = append(problems, errors.New("cache TTLs must be positive"))
	}
	switch configuration.Cache.Backend {
	case CacheBackendMemory, CacheBackendRedis:
	default:
		problems = append(problems, fmt.Errorf("unknown CACHE_BACKEND %q", configuration.Cache.Backend))
	}
	if configuration.CircuitBreaker.FailureThreshold <= 0 {
		problems = append(problems, errors.New("CIRCUIT_BREAKER_FAILURE_THRESHOLD must be positive"))
	}
	if configuration.CircuitBreaker.RecoveryTimeout <= 0 {
		problems = append(problems, errors.New("CIRCUIT_BREAKER_RECOVERY_TIMEOUT must be positive"))
	}
	// the readiness probe must give up before the client does
	if configuration.HealthCheckTimeout <= 0 || configuration.HealthCheckTimeout >= configuration.BudaAPI.Timeout {
		problems = append(problems, errors.New("HEALTH_CHECK_TIMEOUT must be positive and shorter than REQUEST_TIMEOUT"))
	}
	if configuration.MaxConcurrentRequests <= 0 {
		problems = append(problems, errors.New("MAX_CONCURRENT_REQUESTS must be positive"))
	}
	if configuration.RateLimitEnabled && (configuration.RateLimitRequests <= 0 || configuration.RateLimitWindow <= 0 || configuration.RateLimitBurst <= 0) {
		problems = append(problems, errors.New("rate limit settings must be positive when rate limiting is enabled"))
	}
	for _, proxy := range configuration.TrustedProxies {
		if net.ParseIP(proxy) == nil {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				problems = append(problems, fmt.Errorf("TRUSTED_PROXIES entry %q is not an IP or CIDR", proxy))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(problems...))
	}
	return nil
}
