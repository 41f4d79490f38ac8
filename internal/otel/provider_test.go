package otel

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledWithoutTargets(t *testing.T) {
	_, err := New(Config{Enabled: true, ServiceName: "rotationd-test"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no log writer or endpoint")
}

func TestNew_FileExporter(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{
		Enabled:      true,
		ServiceName:  "rotationd-test",
		BatchTimeout: time.Second,
		LogWriter:    &buf,
	})
	require.NoError(t, err)
	require.NotNil(t, p.LoggerProvider())

	handler := otelslog.NewHandler("rotationd-test",
		otelslog.WithLoggerProvider(p.LoggerProvider()))
	slog.New(handler).Info("flush me")

	require.NoError(t, p.Flush(context.Background()))
	assert.Contains(t, buf.String(), "flush me")
	assert.Contains(t, buf.String(), "rotationd-test")

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_WithEndpointConstructs(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{
		Enabled:      true,
		ServiceName:  "rotationd-test",
		BatchTimeout: time.Second,
		LogWriter:    &buf,
		Endpoint:     "localhost:4318",
		Insecure:     true,
	})
	require.NoError(t, err)
	require.NotNil(t, p.LoggerProvider())

	// Nothing was emitted, so shutdown must not attempt an export.
	assert.NoError(t, p.Shutdown(context.Background()))
}
