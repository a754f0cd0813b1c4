package metrics

import (
	"time"
)

// Collector receives ledger and scheduler measurements.
// Implementations export them to a backend (Prometheus) or keep them in memory for tests.
type Collector interface {
	// Ledger operations. outcome is "success" or an error code.
	RecordOperation(op string, outcome string, duration time.Duration)
	RecordConflictRetry(op string)

	// Store circuit breaker
	RecordCircuitState(name string, state CircuitState)

	// Owner directory cache
	RecordDirectoryLookup(hit bool)

	// Auto-transfer executor
	RecordTick(outcome TickOutcome, due int, duration time.Duration)
	RecordScheduleRun(outcome RunOutcome)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the store has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// TickOutcome labels one executor tick
type TickOutcome string

const (
	TickCompleted TickOutcome = "completed"
	// TickOverlap means a previous tick in this process was still running
	TickOverlap TickOutcome = "overlap"
	// TickLocked means another instance holds the executor lock
	TickLocked TickOutcome = "locked"
	TickFailed TickOutcome = "failed"
)

// RunOutcome labels one schedule execution
type RunOutcome string

const (
	RunSucceeded   RunOutcome = "succeeded"
	RunFailed      RunOutcome = "failed"
	RunDeactivated RunOutcome = "deactivated"
	// RunDuplicate means the occurrence had already been applied
	RunDuplicate RunOutcome = "duplicate"
	// RunStale means another worker recorded the occurrence first
	RunStale RunOutcome = "stale"
)

// NoOpCollector is the default when metrics are not needed.
type NoOpCollector struct{}

func (NoOpCollector) RecordOperation(op string, outcome string, duration time.Duration) {}

func (NoOpCollector) RecordConflictRetry(op string) {}

func (NoOpCollector) RecordCircuitState(name string, state CircuitState) {}

func (NoOpCollector) RecordDirectoryLookup(hit bool) {}

func (NoOpCollector) RecordTick(outcome TickOutcome, due int, duration time.Duration) {}

func (NoOpCollector) RecordScheduleRun(outcome RunOutcome) {}
