package client

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/weather-forecast-service/internal/observability"
)

// BreakerConfig holds circuit breaker parameters for the forecast API.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures that open the circuit
	SuccessThreshold int           // probe requests allowed while half-open
	Timeout          time.Duration // how long the circuit stays open
}

// NewBreaker builds a gobreaker circuit breaker named name that reports state changes as metrics.
func NewBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	threshold := uint32(cfg.FailureThreshold)
	observability.SetCircuitBreakerState(name, int(gobreaker.StateClosed))
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(cfg.SuccessThreshold),
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.SetCircuitBreakerState(name, int(to))
		},
	})
}
