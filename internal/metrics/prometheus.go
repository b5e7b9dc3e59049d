package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the upkeep automator
type PrometheusMetrics struct {
	// Execution metrics
	ExecutionsTotal    *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	ExecutionsSkipped  prometheus.Counter
	GasUsedTotal       prometheus.Counter
	ExecutionsInFlight prometheus.Gauge

	// Fee strategy metrics
	FeeDataRetriesTotal prometheus.Counter
	FeeDataFailures     prometheus.Counter

	// Registration/deployment metrics
	UpkeepsRegisteredTotal  prometheus.Counter
	AutomatorsDeployedTotal prometheus.Counter
	DeploymentFailuresTotal prometheus.Counter

	// Connection and error metrics
	ConnectionErrorsTotal *prometheus.CounterVec
	RPCRequestsTotal      *prometheus.CounterVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge

	// Watcher metrics
	UpkeepsWatched      prometheus.Gauge
	SubscriptionsActive prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		ExecutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automator_executions_total",
				Help: "Total number of checkAndExecute attempts by outcome",
			},
			[]string{"network", "outcome"},
		),

		ExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "automator_execution_duration_seconds",
				Help:    "End-to-end duration of execution attempts",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"network"},
		),

		ExecutionsSkipped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "automator_executions_skipped_total",
				Help: "Total number of executions skipped because one was already in flight",
			},
		),

		GasUsedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "automator_gas_used_total",
				Help: "Cumulative gas consumed by confirmed executions",
			},
		),

		ExecutionsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "automator_executions_in_flight",
				Help: "Number of executions currently running",
			},
		),

		FeeDataRetriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "automator_fee_data_retries_total",
				Help: "Total number of fee data fetch retries",
			},
		),

		FeeDataFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "automator_fee_data_failures_total",
				Help: "Total number of fee data fetches that exhausted all retries",
			},
		),

		UpkeepsRegisteredTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "automator_upkeeps_registered_total",
				Help: "Total number of upkeep contracts registered",
			},
		),

		AutomatorsDeployedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "automator_deployments_total",
				Help: "Total number of automator contracts deployed",
			},
		),

		DeploymentFailuresTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "automator_deployment_failures_total",
				Help: "Total number of failed automator deployments",
			},
		),

		ConnectionErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automator_connection_errors_total",
				Help: "Total number of RPC connection errors",
			},
			[]string{"network", "error_type"},
		),

		RPCRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automator_rpc_requests_total",
				Help: "Total number of RPC requests made",
			},
			[]string{"network", "method", "status"},
		),

		DatabaseOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automator_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "automator_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automator_http_requests_total",
				Help: "Total number of HTTP requests received",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "automator_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "automator_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "automator_component_health",
				Help: "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "automator_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "automator_goroutines",
				Help: "Number of running goroutines",
			},
		),

		UpkeepsWatched: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "automator_upkeeps_watched",
				Help: "Number of upkeeps with an active trigger subscription",
			},
		),

		SubscriptionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "automator_subscriptions_active",
				Help: "Number of active event subscriptions",
			},
		),
	}
}

// RecordExecution records an execution attempt by outcome
func (m *PrometheusMetrics) RecordExecution(network, outcome string, duration time.Duration) {
	m.ExecutionsTotal.WithLabelValues(network, outcome).Inc()
	m.ExecutionDuration.WithLabelValues(network).Observe(duration.Seconds())
}

// RecordExecutionSkipped records an execution skipped due to single-flight
func (m *PrometheusMetrics) RecordExecutionSkipped() {
	m.ExecutionsSkipped.Inc()
}

// RecordGasUsed adds confirmed gas consumption to the cumulative counter
func (m *PrometheusMetrics) RecordGasUsed(gasUsed uint64) {
	m.GasUsedTotal.Add(float64(gasUsed))
}

// RecordFeeDataRetry records one fee data fetch retry
func (m *PrometheusMetrics) RecordFeeDataRetry() {
	m.FeeDataRetriesTotal.Inc()
}

// RecordFeeDataFailure records an exhausted fee data fetch
func (m *PrometheusMetrics) RecordFeeDataFailure() {
	m.FeeDataFailures.Inc()
}

// RecordUpkeepRegistered records a registered upkeep contract
func (m *PrometheusMetrics) RecordUpkeepRegistered() {
	m.UpkeepsRegisteredTotal.Inc()
}

// RecordAutomatorDeployed records a successful automator deployment
func (m *PrometheusMetrics) RecordAutomatorDeployed() {
	m.AutomatorsDeployedTotal.Inc()
}

// RecordDeploymentFailure records a failed automator deployment
func (m *PrometheusMetrics) RecordDeploymentFailure() {
	m.DeploymentFailuresTotal.Inc()
}

// RecordConnectionError records a connection error
func (m *PrometheusMetrics) RecordConnectionError(network, errorType string) {
	m.ConnectionErrorsTotal.WithLabelValues(network, errorType).Inc()
}

// RecordRPCRequest records an RPC request
func (m *PrometheusMetrics) RecordRPCRequest(network, method, status string) {
	m.RPCRequestsTotal.WithLabelValues(network, method, status).Inc()
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}

// UpdateUpkeepsWatched updates the number of watched upkeeps
func (m *PrometheusMetrics) UpdateUpkeepsWatched(count int) {
	m.UpkeepsWatched.Set(float64(count))
}

// UpdateSubscriptionsActive updates the number of active subscriptions
func (m *PrometheusMetrics) UpdateSubscriptionsActive(count int) {
	m.SubscriptionsActive.Set(float64(count))
}
