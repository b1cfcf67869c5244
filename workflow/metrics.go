package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus instrumentation for the orchestrator.
// Grounded on graph/metrics.go's PrometheusMetrics, generalized from
// per-node/per-run gauges to per-task/per-workflow/per-gate gauges and
// histograms (task latency, gate block rate, approval queue depth,
// compensation count), all namespaced "orchestrator_".
type Metrics struct {
	activeTasks       prometheus.Gauge
	approvalQueueSize prometheus.Gauge
	taskLatency       *prometheus.HistogramVec
	taskRetries       *prometheus.CounterVec
	crvBlocks         *prometheus.CounterVec
	compensations     *prometheus.CounterVec
	policyDenials     *prometheus.CounterVec
}

// NewMetrics creates and registers orchestrator metrics with registry. A
// nil registry uses prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		activeTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator", Name: "active_tasks",
			Help: "Current number of tasks executing concurrently across all workflows",
		}),
		approvalQueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator", Name: "approval_queue_depth",
			Help: "Current number of tasks awaiting human approval",
		}),
		taskLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestrator", Name: "task_latency_ms",
			Help:    "Task execution duration in milliseconds",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"workflow_id", "task_id", "status"}),
		taskRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator", Name: "task_retries_total",
			Help: "Cumulative task retry attempts",
		}, []string{"workflow_id", "task_id"}),
		crvBlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator", Name: "crv_blocks_total",
			Help: "Commits rejected by the CRV gate, by failure code",
		}, []string{"workflow_id", "code"}),
		compensations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator", Name: "compensations_total",
			Help: "Compensation actions applied during saga rollback",
		}, []string{"workflow_id", "status"}),
		policyDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator", Name: "policy_denials_total",
			Help: "Goal-Guard policy gate denials, by reason code",
		}, []string{"workflow_id", "code"}),
	}
}

func (m *Metrics) recordTaskLatency(workflowID, taskID string, d time.Duration, status string) {
	if m == nil {
		return
	}
	m.taskLatency.WithLabelValues(workflowID, taskID, status).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) incRetry(workflowID, taskID string) {
	if m == nil {
		return
	}
	m.taskRetries.WithLabelValues(workflowID, taskID).Inc()
}

func (m *Metrics) incCRVBlock(workflowID string, code CRVCode) {
	if m == nil {
		return
	}
	m.crvBlocks.WithLabelValues(workflowID, string(code)).Inc()
}

func (m *Metrics) incCompensation(workflowID, status string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(workflowID, status).Inc()
}

func (m *Metrics) incPolicyDenial(workflowID string, code Code) {
	if m == nil {
		return
	}
	m.policyDenials.WithLabelValues(workflowID, string(code)).Inc()
}

func (m *Metrics) setActiveTasks(n int) {
	if m == nil {
		return
	}
	m.activeTasks.Set(float64(n))
}

func (m *Metrics) setApprovalQueueSize(n int) {
	if m == nil {
		return
	}
	m.approvalQueueSize.Set(float64(n))
}
