package memory

import (
	"sync"
	"time"

	"ledger/pkg/metrics"
)

// MemoryCollector implements metrics.Collector for in-memory testing.
type MemoryCollector struct {
	mu sync.RWMutex

	operations map[string]*OperationMetrics
	circuits   map[string]*CircuitMetrics

	directoryHits   int64
	directoryMisses int64

	ticks        map[metrics.TickOutcome]int64
	lastDue      int
	scheduleRuns map[metrics.RunOutcome]int64
}

// OperationMetrics holds counters for one ledger operation.
type OperationMetrics struct {
	Calls           int64
	Outcomes        map[string]int64
	ConflictRetries int64
	Latencies       []time.Duration
}

// CircuitMetrics tracks one circuit breaker.
type CircuitMetrics struct {
	State metrics.CircuitState
	Opens int64
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	mc := &MemoryCollector{}
	mc.reset()
	return mc
}

func (mc *MemoryCollector) reset() {
	mc.operations = make(map[string]*OperationMetrics)
	mc.circuits = make(map[string]*CircuitMetrics)
	mc.ticks = make(map[metrics.TickOutcome]int64)
	mc.scheduleRuns = make(map[metrics.RunOutcome]int64)
	mc.directoryHits = 0
	mc.directoryMisses = 0
	mc.lastDue = 0
}

// operation must be called with mc.mu held
func (mc *MemoryCollector) operation(op string) *OperationMetrics {
	om, ok := mc.operations[op]
	if !ok {
		om = &OperationMetrics{Outcomes: make(map[string]int64)}
		mc.operations[op] = om
	}
	return om
}

// RecordOperation records a ledger operation.
func (mc *MemoryCollector) RecordOperation(op string, outcome string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	om := mc.operation(op)
	om.Calls++
	om.Outcomes[outcome]++
	om.Latencies = append(om.Latencies, duration)
}

// RecordConflictRetry records an optimistic concurrency retry.
func (mc *MemoryCollector) RecordConflictRetry(op string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.operation(op).ConflictRetries++
}

// RecordCircuitState records the current circuit breaker state.
func (mc *MemoryCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	cm, ok := mc.circuits[name]
	if !ok {
		cm = &CircuitMetrics{}
		mc.circuits[name] = cm
	}
	// Count transitions to open
	if cm.State != metrics.CircuitOpen && state == metrics.CircuitOpen {
		cm.Opens++
	}
	cm.State = state
}

// RecordDirectoryLookup records an owner lookup.
func (mc *MemoryCollector) RecordDirectoryLookup(hit bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if hit {
		mc.directoryHits++
	} else {
		mc.directoryMisses++
	}
}

// RecordTick records one executor tick.
func (mc *MemoryCollector) RecordTick(outcome metrics.TickOutcome, due int, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.ticks[outcome]++
	if outcome == metrics.TickCompleted {
		mc.lastDue = due
	}
}

// RecordScheduleRun records the outcome of one schedule execution.
func (mc *MemoryCollector) RecordScheduleRun(outcome metrics.RunOutcome) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.scheduleRuns[outcome]++
}

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	Operations      map[string]OperationMetrics
	Circuits        map[string]CircuitMetrics
	DirectoryHits   int64
	DirectoryMisses int64
	Ticks           map[metrics.TickOutcome]int64
	LastDue         int
	ScheduleRuns    map[metrics.RunOutcome]int64
}

// Snapshot returns a copy of the current metrics state.
func (mc *MemoryCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snapshot := Snapshot{
		Operations:      make(map[string]OperationMetrics, len(mc.operations)),
		Circuits:        make(map[string]CircuitMetrics, len(mc.circuits)),
		DirectoryHits:   mc.directoryHits,
		DirectoryMisses: mc.directoryMisses,
		Ticks:           make(map[metrics.TickOutcome]int64, len(mc.ticks)),
		LastDue:         mc.lastDue,
		ScheduleRuns:    make(map[metrics.RunOutcome]int64, len(mc.scheduleRuns)),
	}

	for op, om := range mc.operations {
		outcomes := make(map[string]int64, len(om.Outcomes))
		for k, v := range om.Outcomes {
			outcomes[k] = v
		}
		snapshot.Operations[op] = OperationMetrics{
			Calls:           om.Calls,
			Outcomes:        outcomes,
			ConflictRetries: om.ConflictRetries,
			Latencies:       append([]time.Duration(nil), om.Latencies...),
		}
	}
	for name, cm := range mc.circuits {
		snapshot.Circuits[name] = *cm
	}
	for k, v := range mc.ticks {
		snapshot.Ticks[k] = v
	}
	for k, v := range mc.scheduleRuns {
		snapshot.ScheduleRuns[k] = v
	}

	return snapshot
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.reset()
}
