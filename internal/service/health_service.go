package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dalfonso89/crypto-conversion-service/internal/apperror"
	"github.com/dalfonso89/crypto-conversion-service/internal/metrics"
	"github.com/dalfonso89/crypto-conversion-service/internal/models"
)

const (
	DependencyBudaAPI = "buda_api"
	DependencyCache   = "cache"

	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
	StatusError     = "error"
)

// MarketLister is the exchange call used to probe connectivity
type MarketLister interface {
	GetMarkets(ctx context.Context) ([]models.MarketID, error)
}

// Pinger checks the cache backend
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerStateReporter exposes the circuit breaker state
type BreakerStateReporter interface {
	BreakerState() string
}

// Readiness is the outcome of one readiness evaluation
type Readiness struct {
	Ready        bool
	Dependencies map[string]string
	ChecksPassed int
	ChecksTotal  int
}

type HealthService struct {
	exchange MarketLister
	cache    Pinger
	breaker  BreakerStateReporter
	timeout  time.Duration
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewHealthService(exchange MarketLister, cache Pinger, breaker BreakerStateReporter, timeout time.Duration, logger logrus.FieldLogger, metrics *metrics.Metrics) *HealthService {
	return &HealthService{
		exchange: exchange,
		cache:    cache,
		breaker:  breaker,
		timeout:  timeout,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// CheckLiveness reports whether the process is alive. It never touches dependencies.
func (healthService *HealthService) CheckLiveness() bool {
	return true
}

// CheckReadiness probes the exchange and the cache
func (healthService *HealthService) CheckReadiness(ctx context.Context) Readiness {
	checks := []struct {
		name  string
		check func(context.Context) string
	}{
		{DependencyBudaAPI, healthService.checkBudaAPI},
		{DependencyCache, healthService.checkCache},
	}

	readiness := Readiness{
		Dependencies: make(map[string]string, len(checks)),
		ChecksTotal:  len(checks),
	}
	for _, dependency := range checks {
		status := dependency.check(ctx)
		readiness.Dependencies[dependency.name] = status
		healthService.metrics.SetDependencyHealthy(dependency.name, status == StatusHealthy)
		if status == StatusHealthy {
			readiness.ChecksPassed++
		}
	}
	readiness.Ready = readiness.ChecksPassed == readiness.ChecksTotal

	return readiness
}

// DetailedStatus combines liveness, readiness and breaker state for debugging
func (healthService *HealthService) DetailedStatus(ctx context.Context) models.DetailedStatus {
	readiness := healthService.CheckReadiness(ctx)

	applicationStatus := StatusHealthy
	if !healthService.CheckLiveness() {
		applicationStatus = StatusUnhealthy
	}

	successRate := "0%"
	if readiness.ChecksTotal > 0 {
		successRate = fmt.Sprintf("%.1f%%", float64(readiness.ChecksPassed)/float64(readiness.ChecksTotal)*100)
	}

	return models.DetailedStatus{
		Application: models.ApplicationStatus{
			Status: applicationStatus,
			Ready:  readiness.Ready,
		},
		Dependencies: readiness.Dependencies,
		Checks: models.ChecksSummary{
			Passed:      readiness.ChecksPassed,
			Total:       readiness.ChecksTotal,
			SuccessRate: successRate,
		},
		CircuitState: healthService.breaker.BreakerState(),
		Timestamp:    healthService.now().UTC(),
	}
}

func (healthService *HealthService) checkBudaAPI(ctx context.Context) string {
	checkContext, cancel := context.WithTimeout(ctx, healthService.timeout)
	defer cancel()

	_, err := healthService.exchange.GetMarkets(checkContext)
	if err == nil {
		return StatusHealthy
	}

	kind := apperror.KindOf(err)
	switch {
	case kind == apperror.KindTimeout || errors.Is(err, context.DeadlineExceeded):
		healthService.logger.Warn("Buda API health check timed out")
		return StatusTimeout
	case kind.IsUpstream() || kind == apperror.KindNotFound:
		healthService.logger.Warnf("Buda API health check failed: %v", err)
		return StatusUnhealthy
	default:
		healthService.logger.Errorf("Unexpected error in Buda API health check: %v", err)
		return StatusError
	}
}

func (healthService *HealthService) checkCache(ctx context.Context) string {
	checkContext, cancel := context.WithTimeout(ctx, healthService.timeout)
	defer cancel()

	if err := healthService.cache.Ping(checkContext); err != nil {
		healthService.logger.Errorf("Cache health check failed: %v", err)
		return StatusUnhealthy
	}
	return StatusHealthy
}
