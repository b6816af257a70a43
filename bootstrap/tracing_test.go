package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"contentmind/config"
)

func TestInitTracer_Disabled(t *testing.T) {
	tp, shutdown := InitTracer(config.TracingConfig{}, zap.NewNop().Sugar())

	_, span := tp.Tracer(tracerName).Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracer_LogsSpans(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tp, shutdown := InitTracer(config.TracingConfig{Enabled: true, ServiceName: "contentmind", SampleRatio: 1}, zap.New(core).Sugar())

	tracer := tp.Tracer(tracerName)
	ctx, parent := tracer.Start(context.Background(), "bootstrap.start")
	_, child := tracer.Start(ctx, "activate ResponseCaching")
	child.RecordError(errors.New("redis down"))
	child.SetStatus(codes.Error, "redis down")
	child.End()
	parent.End()
	require.NoError(t, shutdown(context.Background()))

	failed := logs.FilterMessage("span_failed").All()
	require.Len(t, failed, 1)
	fields := failed[0].ContextMap()
	assert.Equal(t, "activate ResponseCaching", fields["span"])
	assert.Equal(t, "redis down", fields["error"])
	assert.Contains(t, fields, "parent_span_id")

	completed := logs.FilterMessage("span_completed").All()
	require.Len(t, completed, 1)
	assert.Equal(t, "bootstrap.start", completed[0].ContextMap()["span"])
}

func TestInitTracer_ZeroSampleRatio(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tp, shutdown := InitTracer(config.TracingConfig{Enabled: true, ServiceName: "contentmind", SampleRatio: 0}, zap.New(core).Sugar())

	_, span := tp.Tracer(tracerName).Start(context.Background(), "dropped")
	span.End()
	require.NoError(t, shutdown(context.Background()))
	assert.Zero(t, logs.Len())
}
