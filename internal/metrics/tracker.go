package metrics

import (
	"math/big"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	memorySampleEvery = 10
	summaryLogEvery   = 50
)

// ExecutionTracker holds process-wide execution counters. It is an injected
// dependency of the coordinator; counters are atomic so readers never block
// the execution path.
type ExecutionTracker struct {
	attempts  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64

	mu            sync.Mutex
	gasUsedTotal  *big.Int
	lastDuration  time.Duration
	totalDuration time.Duration

	lastMemAlloc atomic.Uint64

	logger     *logrus.Entry
	prometheus *PrometheusMetrics
}

// TrackerSnapshot is a point-in-time copy of the tracker's counters
type TrackerSnapshot struct {
	Attempts     int64         `json:"attempts"`
	Successes    int64         `json:"successes"`
	Failures     int64         `json:"failures"`
	GasUsedTotal string        `json:"gas_used_total"`
	LastDuration time.Duration `json:"last_duration"`
	AvgDuration  time.Duration `json:"avg_duration"`
	LastMemAlloc uint64        `json:"last_mem_alloc"`
}

// NewExecutionTracker creates a tracker mirroring into the given Prometheus metrics
func NewExecutionTracker(prom *PrometheusMetrics) *ExecutionTracker {
	return &ExecutionTracker{
		gasUsedTotal: new(big.Int),
		logger:       logrus.WithField("component", "execution-tracker"),
		prometheus:   prom,
	}
}

// RecordAttempt increments the attempt counter and returns the new total
func (t *ExecutionTracker) RecordAttempt() int64 {
	return t.attempts.Add(1)
}

// RecordSuccess records a confirmed execution with its gas consumption
func (t *ExecutionTracker) RecordSuccess(gasUsed uint64) {
	t.successes.Add(1)

	t.mu.Lock()
	t.gasUsedTotal.Add(t.gasUsedTotal, new(big.Int).SetUint64(gasUsed))
	t.mu.Unlock()

	if t.prometheus != nil {
		t.prometheus.RecordGasUsed(gasUsed)
	}
}

// RecordFailure records a failed execution
func (t *ExecutionTracker) RecordFailure() {
	t.failures.Add(1)
}

// RecordDuration records the wall time of one completed attempt
func (t *ExecutionTracker) RecordDuration(d time.Duration) {
	t.mu.Lock()
	t.lastDuration = d
	t.totalDuration += d
	t.mu.Unlock()
}

// Housekeep runs the periodic bookkeeping tied to the attempt count: a memory
// sample every 10th attempt and a summary log line every 50th.
func (t *ExecutionTracker) Housekeep(attempt int64) {
	if attempt%memorySampleEvery == 0 {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		t.lastMemAlloc.Store(memStats.Alloc)

		if t.prometheus != nil {
			t.prometheus.UpdateMemoryUsage(memStats.Alloc)
			t.prometheus.UpdateGoroutineCount(runtime.NumGoroutine())
		}
	}

	if attempt%summaryLogEvery == 0 {
		snap := t.Snapshot()
		t.logger.WithFields(logrus.Fields{
			"attempts":       snap.Attempts,
			"successes":      snap.Successes,
			"failures":       snap.Failures,
			"gas_used_total": snap.GasUsedTotal,
			"avg_duration":   snap.AvgDuration.String(),
			"mem_alloc":      snap.LastMemAlloc,
		}).Info("Execution metrics summary")
	}
}

// Snapshot returns a consistent copy of all counters
func (t *ExecutionTracker) Snapshot() TrackerSnapshot {
	attempts := t.attempts.Load()

	t.mu.Lock()
	gas := t.gasUsedTotal.String()
	last := t.lastDuration
	total := t.totalDuration
	t.mu.Unlock()

	var avg time.Duration
	if attempts > 0 {
		avg = total / time.Duration(attempts)
	}

	return TrackerSnapshot{
		Attempts:     attempts,
		Successes:    t.successes.Load(),
		Failures:     t.failures.Load(),
		GasUsedTotal: gas,
		LastDuration: last,
		AvgDuration:  avg,
		LastMemAlloc: t.lastMemAlloc.Load(),
	}
}
