package main

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// setupTracing installs a process-wide go.opentelemetry.io/otel/sdk
// TracerProvider so the task/gate-evaluation spans workflow.Orchestrator
// creates via otel.Tracer("orchestrator") (workflow/options.go) are
// actually sampled and recorded rather than handled by the no-op default
// provider. Returns a shutdown func the caller must run before exit.
func setupTracing() func(context.Context) error {
	res := resource.NewSchemaless(
		attribute.String("service.name", "orchestratord"),
		attribute.String("service.version", version),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}
