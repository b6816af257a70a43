package bootstrap

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"contentmind/config"
)

const tracerName = "contentmind/bootstrap"

// InitTracer returns the tracer provider for startup spans and a shutdown
// function. When tracing is disabled the provider is a no-op.
func InitTracer(cfg config.TracingConfig, logger *zap.SugaredLogger) (trace.TracerProvider, func(context.Context) error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))),
		sdktrace.WithSpanProcessor(&logSpanProcessor{logger: logger}),
	)
	return tp, tp.Shutdown
}

// logSpanProcessor writes finished spans to the structured log.
type logSpanProcessor struct {
	logger *zap.SugaredLogger
}

func (p *logSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *logSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	fields := []interface{}{
		"span", s.Name(),
		"trace_id", s.SpanContext().TraceID().String(),
		"span_id", s.SpanContext().SpanID().String(),
		"duration", s.EndTime().Sub(s.StartTime()).String(),
	}
	if s.Parent().IsValid() {
		fields = append(fields, "parent_span_id", s.Parent().SpanID().String())
	}
	for _, kv := range s.Attributes() {
		fields = append(fields, string(kv.Key), kv.Value.Emit())
	}

	if s.Status().Code == codes.Error {
		p.logger.Warnw("span_failed", append(fields, "error", s.Status().Description)...)
		return
	}
	p.logger.Debugw("span_completed", fields...)
}

func (p *logSpanProcessor) Shutdown(context.Context) error   { return nil }
func (p *logSpanProcessor) ForceFlush(context.Context) error { return nil }
