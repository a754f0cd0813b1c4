package resilience

import (
	"context"
	"errors"
	"time"

	"ledger/pkg/storage"
)

// ResilientConfig configures resilience features for a store.
type ResilientConfig struct {
	// Name labels the breaker in logs and metrics. Default: "store"
	Name string

	// Timeout bounds a whole transaction, including commit
	Timeout time.Duration

	// CircuitBreakerConfig configures the circuit breaker behavior
	CircuitBreakerConfig CircuitBreakerConfig

	// IsSuccessful decides whether an error returned by a transaction counts
	// against the breaker. If nil, nil errors and expected storage conditions
	// (not found, version conflict, duplicate key) count as successes.
	IsSuccessful func(err error) bool
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed to pass through
	// when the CircuitBreaker is half-open. Default: 1
	MaxRequests uint32

	// Interval is the cyclic period of the closed state for the CircuitBreaker
	// to clear the internal counts. If Interval is 0, it never clears. Default: 0
	Interval time.Duration

	// Timeout is the period of the open state after which the state becomes half-open.
	// Default: 60s
	Timeout time.Duration

	// ReadyToTrip is called with a copy of Counts whenever a request fails.
	// If ReadyToTrip returns true, the CircuitBreaker will be placed into the open state.
	// If nil, default threshold is used (5 consecutive failures).
	ReadyToTrip func(counts Counts) bool
}

// Counts holds the numbers of requests and their successes/failures.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// DefaultResilientConfig returns sensible defaults for resilience configuration.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Name:    "store",
		Timeout: 5 * time.Second,
		CircuitBreakerConfig: CircuitBreakerConfig{
			MaxRequests: 5,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts Counts) bool {
				// Require at least 20 requests before considering error rate
				if counts.Requests < 20 {
					return false
				}
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRate >= 0.15
			},
		},
		IsSuccessful: DefaultIsSuccessful,
	}
}

// DefaultIsSuccessful treats nil and expected storage conditions as healthy.
// A caller cancelling its own context is not a store failure; deadlines
// still count.
func DefaultIsSuccessful(err error) bool {
	return err == nil || storage.IsExpected(err) || errors.Is(err, context.Canceled)
}

// WithTimeout returns a copy of the config with the specified timeout.
func (c ResilientConfig) WithTimeout(timeout time.Duration) ResilientConfig {
	c.Timeout = timeout
	return c
}

// WithCircuitBreakerTimeout returns a copy of the config with the specified circuit breaker timeout.
func (c ResilientConfig) WithCircuitBreakerTimeout(timeout time.Duration) ResilientConfig {
	c.CircuitBreakerConfig.Timeout = timeout
	return c
}

// WithExpected returns a copy of the config that additionally treats errors
// matched by expected as successes. Domain rejections raised inside a
// transaction say nothing about the store's health.
func (c ResilientConfig) WithExpected(expected func(err error) bool) ResilientConfig {
	base := c.IsSuccessful
	if base == nil {
		base = DefaultIsSuccessful
	}
	c.IsSuccessful = func(err error) bool {
		return base(err) || expected(err)
	}
	return c
}
