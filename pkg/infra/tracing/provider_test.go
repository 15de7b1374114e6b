package tracing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	options "github.com/kart-io/docmind/pkg/options/tracing"
)

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), options.NewOptions(), "test")
	require.NoError(t, err)
	assert.False(t, p.Enabled())

	ctx, span := StartSpan(context.Background(), "test", "op")
	defer span.End()
	assert.False(t, span.IsRecording())
	assert.Empty(t, TraceIDFromContext(ctx))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_NoopExporter(t *testing.T) {
	opts := options.NewOptions()
	opts.Enabled = true
	opts.ExporterType = options.ExporterNoop

	p, err := NewProvider(context.Background(), opts, "test")
	require.NoError(t, err)
	defer func() { assert.NoError(t, p.Shutdown(context.Background())) }()
	assert.True(t, p.Enabled())

	ctx, span := p.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	assert.True(t, span.IsRecording())
	assert.Len(t, TraceIDFromContext(ctx), 32)
}

func TestNewProvider_InvalidOptions(t *testing.T) {
	opts := options.NewOptions()
	opts.Enabled = true
	opts.ExporterType = "zipkin"
	_, err := NewProvider(context.Background(), opts, "test")
	assert.ErrorContains(t, err, "failed to validate options")
}

func TestStdoutExporter(t *testing.T) {
	opts := options.NewOptions()
	opts.ExporterType = options.ExporterStdout

	var buf bytes.Buffer
	exp, err := newExporter(context.Background(), opts, &buf)
	require.NoError(t, err)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	_, span := tp.Tracer("test").Start(context.Background(), "docmind.ask")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "docmind.ask")
}

func TestSpanHelpers(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, span := StartSpan(context.Background(), "test", "build")
	AddSpanAttributes(ctx, String("docmind.key", "abc"))
	RecordError(ctx, nil)
	RecordError(ctx, errors.New("boom"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "build", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "boom", ended[0].Status().Description)
	require.Len(t, ended[0].Events(), 1)
	assert.Contains(t, ended[0].Attributes(), String("docmind.key", "abc"))
}
