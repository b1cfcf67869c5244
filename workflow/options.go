package workflow

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wfguard/orchestrator/workflow/auditlog"
	"github.com/wfguard/orchestrator/workflow/cache"
	"github.com/wfguard/orchestrator/workflow/crv"
	"github.com/wfguard/orchestrator/workflow/eventlog"
	"github.com/wfguard/orchestrator/workflow/memorystore"
	"github.com/wfguard/orchestrator/workflow/policygate"
	"github.com/wfguard/orchestrator/workflow/statestore"
	"github.com/wfguard/orchestrator/workflow/tool"
)

// Option configures an Orchestrator. Grounded on graph/options.go's
// functional-options pattern, generalized from an engineConfig collecting
// Options struct fields to direct field assignment on orchestratorConfig
// since the Orchestrator has no backward-compatible struct literal form
// to preserve.
type Option func(*orchestratorConfig)

type orchestratorConfig struct {
	stateStore        statestore.Store
	eventLog          eventlog.Log
	auditLog          auditlog.Log
	memoryStore       memorystore.Store
	toolLayer         *tool.Layer
	crvGate           *crv.Gate
	policyGate        *policygate.Gate
	maxConcurrentTasks int
	defaultTaskTimeout time.Duration
	compensationBestEffort bool
	logger             *zap.Logger
	metrics            *Metrics
	tracer             trace.Tracer
}

func defaultConfig() *orchestratorConfig {
	return &orchestratorConfig{
		stateStore:             statestore.NewMemoryStore(),
		eventLog:               eventlog.NewMemoryStore(),
		auditLog:               auditlog.NewMemoryLog(),
		memoryStore:            memorystore.NewMemoryStore(),
		toolLayer:              tool.NewLayer(tool.NewRegistry(), cache.NewMemoryCache()),
		crvGate:                crv.NewGate(nil, false, 0),
		policyGate:             policygate.NewGate(0),
		maxConcurrentTasks:     8,
		defaultTaskTimeout:     30 * time.Second,
		compensationBestEffort: true,
		logger:                 zap.NewNop(),
		tracer:                 otel.Tracer("orchestrator"),
	}
}

// WithStateStore overrides the durable StateStore backend.
func WithStateStore(s statestore.Store) Option {
	return func(c *orchestratorConfig) { c.stateStore = s }
}

// WithEventLog overrides the EventLog backend.
func WithEventLog(l eventlog.Log) Option {
	return func(c *orchestratorConfig) { c.eventLog = l }
}

// WithAuditLog overrides the AuditLog backend.
func WithAuditLog(l auditlog.Log) Option {
	return func(c *orchestratorConfig) { c.auditLog = l }
}

// WithMemoryStore overrides the MemoryStore backend.
func WithMemoryStore(s memorystore.Store) Option {
	return func(c *orchestratorConfig) { c.memoryStore = s }
}

// WithToolLayer sets the Tool Execution Layer used to invoke action tasks.
func WithToolLayer(l *tool.Layer) Option {
	return func(c *orchestratorConfig) { c.toolLayer = l }
}

// WithCRVGate sets the Circuit Reasoning Validation Gate applied to every
// task commit before it is written to workflow state.
func WithCRVGate(g *crv.Gate) Option {
	return func(c *orchestratorConfig) { c.crvGate = g }
}

// WithPolicyGate overrides the Goal-Guard policy gate.
func WithPolicyGate(g *policygate.Gate) Option {
	return func(c *orchestratorConfig) { c.policyGate = g }
}

// WithMaxConcurrentTasks bounds concurrent task execution per workflow
// (spec.md §5 MAX_CONCURRENT_TASKS_PER_WORKFLOW).
func WithMaxConcurrentTasks(n int) Option {
	return func(c *orchestratorConfig) {
		if n > 0 {
			c.maxConcurrentTasks = n
		}
	}
}

// WithDefaultTaskTimeout sets the timeout applied to a task lacking its
// own TaskSpec.Timeout.
func WithDefaultTaskTimeout(d time.Duration) Option {
	return func(c *orchestratorConfig) {
		if d > 0 {
			c.defaultTaskTimeout = d
		}
	}
}

// WithCompensationBestEffort controls whether a failed compensation halts
// the saga unwind (false) or is logged and skipped so the remaining stack
// still unwinds (true, the spec.md §4.9 default).
func WithCompensationBestEffort(bestEffort bool) Option {
	return func(c *orchestratorConfig) { c.compensationBestEffort = bestEffort }
}

// WithLogger overrides the ambient structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *orchestratorConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(c *orchestratorConfig) { c.metrics = m }
}

// WithTracer overrides the OpenTelemetry tracer used for the per-task
// execution span, which brackets that task's gate evaluations and tool
// calls; the gates open no spans of their own. Defaults to otel.Tracer("orchestrator"), which is a
// no-op unless the caller has installed a TracerProvider.
func WithTracer(t trace.Tracer) Option {
	return func(c *orchestratorConfig) {
		if t != nil {
			c.tracer = t
		}
	}
}
