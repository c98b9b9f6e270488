package chord

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/ringmr/ringmr/internal/config"
	"github.com/ringmr/ringmr/internal/id"
	"github.com/ringmr/ringmr/internal/rpcfacade"
)

const tracerName = "ringmr/chord"

// Hop is one find_successor span; a Node starts one per hop directly,
// with no cross-process propagation to worry about.
type Hop interface {
	End()
}

// Tracer starts hop spans for find_successor lookups. The
// default NopTracer is installed until InitTracer wires a real provider.
type Tracer interface {
	StartHop(self rpcfacade.Address, target id.ID) Hop
}

// NopTracer discards every hop.
type NopTracer struct{}

func (NopTracer) StartHop(rpcfacade.Address, id.ID) Hop { return noHop{} }

type noHop struct{}

func (noHop) End() {}

// OtelTracer wraps an otel.Tracer obtained from the global provider.
type OtelTracer struct {
	tracer trace.Tracer
}

// NewOtelTracer returns a Tracer reading spans from the global provider
// set up by InitTracer.
func NewOtelTracer() OtelTracer {
	return OtelTracer{tracer: otel.Tracer(tracerName)}
}

func (t OtelTracer) StartHop(self rpcfacade.Address, target id.ID) Hop {
	_, span := t.tracer.Start(context.Background(), "find_successor",
		trace.WithAttributes(
			attribute.String("chord.self", self.String()),
			attribute.String("chord.target_id", target.String()),
		),
	)
	return otelHop{span: span}
}

type otelHop struct {
	span trace.Span
}

func (h otelHop) End() {
	h.span.End()
}

// InitTracer wires the stdout span exporter per cfg: a resource tagging
// this service and node id, feeding a batching tracer provider installed
// as the global one.
func InitTracer(cfg config.TracingConfig, serviceName string, nodeID id.ID) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("dht.node.id", nodeID.String()),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("chord: build telemetry resource: %w", err)
	}

	if cfg.Exporter != "stdout" {
		return noop, fmt.Errorf("chord: unsupported trace exporter %q", cfg.Exporter)
	}
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return noop, fmt.Errorf("chord: init stdout exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
