package resilience

import (
	"context"
	"errors"
	"time"

	"ledger/pkg/logging"
	"ledger/pkg/metrics"
	"ledger/pkg/storage"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a transaction
	ErrCircuitOpen = errors.New("resilience: circuit breaker open")

	// ErrTimeout is returned when a transaction exceeds the configured timeout
	ErrTimeout = errors.New("resilience: operation timeout")
)

// ResilientStore wraps a storage.Store with a circuit breaker and a
// per-transaction timeout.
type ResilientStore struct {
	store   storage.Store
	name    string
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.Collector
	logger  *logging.Logger
}

// NewResilientStore creates a resilient wrapper around store.
func NewResilientStore(store storage.Store, config ResilientConfig) *ResilientStore {
	return NewResilientStoreWithMetrics(store, config, metrics.NoOpCollector{})
}

// NewResilientStoreWithMetrics creates a resilient store with a custom metrics collector.
func NewResilientStoreWithMetrics(store storage.Store, config ResilientConfig, collector metrics.Collector) *ResilientStore {
	name := config.Name
	if name == "" {
		name = "store"
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	isSuccessful := config.IsSuccessful
	if isSuccessful == nil {
		isSuccessful = DefaultIsSuccessful
	}

	logger := logging.Global().Named("resilience").Named(name)

	rs := &ResilientStore{
		store:   store,
		name:    name,
		timeout: config.Timeout,
		metrics: collector,
		logger:  logger,
	}

	logger.Info("resilient store initialized",
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", config.CircuitBreakerConfig.MaxRequests),
		zap.Duration("circuit_interval", config.CircuitBreakerConfig.Interval),
		zap.Duration("circuit_timeout", config.CircuitBreakerConfig.Timeout),
	)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: config.CircuitBreakerConfig.MaxRequests,
		Interval:    config.CircuitBreakerConfig.Interval,
		Timeout:     config.CircuitBreakerConfig.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if config.CircuitBreakerConfig.ReadyToTrip != nil {
				return config.CircuitBreakerConfig.ReadyToTrip(Counts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				})
			}
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			rs.metrics.RecordCircuitState(name, circuitState(to))
		},
	}
	rs.cb = gobreaker.NewCircuitBreaker(settings)

	return rs
}

func circuitState(s gobreaker.State) metrics.CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}

// Name returns the breaker name
func (rs *ResilientStore) Name() string {
	return rs.name
}

// State reports the current breaker state
func (rs *ResilientStore) State() metrics.CircuitState {
	return circuitState(rs.cb.State())
}

// WithinTx runs fn through the circuit breaker with the configured timeout.
// Errors returned by fn pass through unchanged.
func (rs *ResilientStore) WithinTx(ctx context.Context, fn storage.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rs.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rs.timeout)
		defer cancel()
	}

	start := time.Now()
	_, err := rs.cb.Execute(func() (interface{}, error) {
		return nil, rs.store.WithinTx(ctx, fn)
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		rs.logger.Warn("circuit breaker open - transaction rejected")
		return ErrCircuitOpen
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		rs.logger.Warn("transaction timeout",
			zap.Duration("timeout", rs.timeout),
			zap.Duration("elapsed", time.Since(start)),
		)
		return ErrTimeout
	}
	return err
}

// Ping checks the underlying store, bypassing the breaker so health checks
// can observe recovery.
func (rs *ResilientStore) Ping(ctx context.Context) error {
	return rs.store.Ping(ctx)
}

// Close closes the underlying store
func (rs *ResilientStore) Close() error {
	return rs.store.Close()
}
