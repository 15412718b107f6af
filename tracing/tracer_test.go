package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracerDefaultsToGlobal(t *testing.T) {
	require.NotNil(t, Tracer)

	_, span := Tracer.Start(context.Background(), "noop")
	span.End()
}

func TestInitTracerProvider_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	tp, err := InitTracerProvider("storefront-test", &buf)
	require.NoError(t, err)

	_, span := Tracer.Start(context.Background(), "session.restore")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "session.restore")
	assert.Contains(t, buf.String(), "storefront-test")
}
