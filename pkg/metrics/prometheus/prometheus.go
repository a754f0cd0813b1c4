package prometheus

import (
	"time"

	"ledger/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements metrics.Collector for Prometheus.
type PrometheusCollector struct {
	namespace string

	operations      *prometheus.CounterVec
	operationTime   *prometheus.HistogramVec
	conflictRetries *prometheus.CounterVec

	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec

	directoryLookups *prometheus.CounterVec

	ticks        *prometheus.CounterVec
	tickDue      prometheus.Gauge
	tickDuration prometheus.Histogram
	scheduleRuns *prometheus.CounterVec
}

// NewPrometheusCollector creates a collector whose metrics are prefixed by namespace.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	return &PrometheusCollector{
		namespace: namespace,
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Ledger operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		operationTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Ledger operation latency including conflict retries",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
			},
			[]string{"operation"},
		),
		conflictRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conflict_retries_total",
				Help:      "Optimistic concurrency retries per operation",
			},
			[]string{"operation"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of circuit breaker opens",
			},
			[]string{"name"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		directoryLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "directory_lookups_total",
				Help:      "Owner directory lookups by cache result",
			},
			[]string{"result"},
		),
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "autotransfer_ticks_total",
				Help:      "Auto-transfer executor ticks by outcome",
			},
			[]string{"outcome"},
		),
		tickDue: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "autotransfer_due_schedules",
				Help:      "Schedules found due in the last completed tick",
			},
		),
		tickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "autotransfer_tick_duration_seconds",
				Help:      "Auto-transfer tick latency",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
		),
		scheduleRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "autotransfer_runs_total",
				Help:      "Schedule executions by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Register registers all metrics with the given Prometheus registry.
func (pc *PrometheusCollector) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pc.operations,
		pc.operationTime,
		pc.conflictRetries,
		pc.circuitOpens,
		pc.circuitState,
		pc.directoryLookups,
		pc.ticks,
		pc.tickDue,
		pc.tickDuration,
		pc.scheduleRuns,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

// RecordOperation records a ledger operation.
func (pc *PrometheusCollector) RecordOperation(op string, outcome string, duration time.Duration) {
	pc.operations.WithLabelValues(op, outcome).Inc()
	pc.operationTime.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordConflictRetry records an optimistic concurrency retry.
func (pc *PrometheusCollector) RecordConflictRetry(op string) {
	pc.conflictRetries.WithLabelValues(op).Inc()
}

// RecordCircuitState records the current circuit breaker state.
func (pc *PrometheusCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(name).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(name).Inc()
	}
}

// RecordDirectoryLookup records an owner lookup.
func (pc *PrometheusCollector) RecordDirectoryLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	pc.directoryLookups.WithLabelValues(result).Inc()
}

// RecordTick records one executor tick.
func (pc *PrometheusCollector) RecordTick(outcome metrics.TickOutcome, due int, duration time.Duration) {
	pc.ticks.WithLabelValues(string(outcome)).Inc()
	if outcome == metrics.TickCompleted {
		pc.tickDue.Set(float64(due))
		pc.tickDuration.Observe(duration.Seconds())
	}
}

// RecordScheduleRun records the outcome of one schedule execution.
func (pc *PrometheusCollector) RecordScheduleRun(outcome metrics.RunOutcome) {
	pc.scheduleRuns.WithLabelValues(string(outcome)).Inc()
}
