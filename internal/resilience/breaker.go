package resilience

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/dalfonso89/crypto-conversion-service/internal/apperror"
	"github.com/dalfonso89/crypto-conversion-service/internal/config"
	"github.com/dalfonso89/crypto-conversion-service/internal/metrics"
)

const (
	StateClosed   = "closed"
	StateHalfOpen = "half_open"
	StateOpen     = "open"
)

// Breaker stops calling the exchange after FailureThreshold consecutive
// failures and lets a single trial call through once RecoveryTimeout elapsed.
// It is safe for concurrent use; all transitions happen inside gobreaker.
type Breaker struct {
	name           string
	circuitBreaker *gobreaker.CircuitBreaker
	logger         logrus.FieldLogger
	metrics        *metrics.Metrics
}

func NewBreaker(name string, configuration config.CircuitBreaker, logger logrus.FieldLogger, metrics *metrics.Metrics) *Breaker {
	breaker := &Breaker{
		name:    name,
		logger:  logger,
		metrics: metrics,
	}

	failureThreshold := uint32(configuration.FailureThreshold)
	breaker.circuitBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     configuration.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: breaker.onStateChange,
		IsSuccessful:  breaker.countsAsSuccess,
	})
	metrics.SetBreakerState(name, stateValue(gobreaker.StateClosed))

	return breaker
}

// Execute runs operation unless the circuit is open
func (breaker *Breaker) Execute(operation func() (interface{}, error)) (interface{}, error) {
	result, err := breaker.circuitBreaker.Execute(operation)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, apperror.CircuitOpen("exchange API circuit breaker is open", err, map[string]interface{}{
			"breaker": breaker.name,
			"state":   breaker.State(),
		})
	}
	return result, err
}

// State returns closed, half_open or open
func (breaker *Breaker) State() string {
	return stateName(breaker.circuitBreaker.State())
}

// ConsecutiveFailures returns the failures counted since the last success
func (breaker *Breaker) ConsecutiveFailures() uint32 {
	return breaker.circuitBreaker.Counts().ConsecutiveFailures
}

func (breaker *Breaker) onStateChange(name string, from, to gobreaker.State) {
	breaker.metrics.SetBreakerState(name, stateValue(to))
	breaker.metrics.ObserveBreakerTransition(name, stateName(from), stateName(to))

	entry := breaker.logger.WithFields(logrus.Fields{
		"breaker": name,
		"from":    stateName(from),
		"to":      stateName(to),
	})
	if to == gobreaker.StateOpen {
		entry.Error("Circuit breaker opened")
		return
	}
	entry.Info("Circuit breaker state changed")
}

// countsAsSuccess keeps caller faults out of the failure count. A canceled
// half-open trial proves nothing about the exchange, so it reopens the circuit.
func (breaker *Breaker) countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	appErr, ok := apperror.As(err)
	if !ok || !appErr.Kind.IsCallerFault() {
		return false
	}
	if appErr.Kind == apperror.KindCanceled {
		return breaker.circuitBreaker.State() != gobreaker.StateHalfOpen
	}
	return true
}

func stateName(state gobreaker.State) string {
	switch state {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
