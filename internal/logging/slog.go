package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// SlogManager manages slog-based logging with optional OTel integration.
// The structured stream goes to the session file (or stdout when no file
// is given) and, when a provider is configured, to the OTel log bridge.
type SlogManager struct {
	logger *slog.Logger

	// OTel provider for flushing
	logProvider *sdklog.LoggerProvider

	// Dynamic context resolved per record. The owning components set
	// these after construction; nil funcs contribute nothing.
	GetSessionCount   func() int
	GetBackendType    func() string
	IsPipelineRunning func() bool
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup initializes the structured logging stream. If file is nil, the
// stream goes to stdout instead. If provider is nil, OTel logging is
// disabled.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider) {
	lvl := parseLevel(level)
	m.logProvider = provider

	// Common handler options with RFC3339 time formatting
	handlerOpts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handlers []slog.Handler

	if file != nil {
		handlers = append(handlers, slog.NewTextHandler(file, handlerOpts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(osStdout, handlerOpts))
	}

	if provider != nil {
		otelHandler := otelslog.NewHandler("rotationd", otelslog.WithLoggerProvider(provider))
		handlers = append(handlers, otelHandler)
	}

	multi := NewMultiHandler(handlers...)

	m.logger = slog.New(NewContextHandler(multi, m.contextAttrs))
	m.logger.Info("Logging initialized", "level", level)
}

// contextAttrs resolves the dynamic runtime context for each record.
func (m *SlogManager) contextAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 3)
	if m.GetSessionCount != nil {
		attrs = append(attrs, slog.Int("sessions", m.GetSessionCount()))
	}
	if m.GetBackendType != nil {
		attrs = append(attrs, slog.String("backend", m.GetBackendType()))
	}
	if m.IsPipelineRunning != nil {
		attrs = append(attrs, slog.Bool("pipelineActive", m.IsPipelineRunning()))
	}
	return attrs
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		// Return a default logger if Setup hasn't been called
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}

// WriteLog writes a log entry with the specified operation name, data,
// and level.
func (m *SlogManager) WriteLog(operation, data, level string) {
	if m.logger == nil {
		return
	}

	lvl := parseLevel(level)

	switch lvl {
	case slog.LevelDebug:
		m.logger.Debug(data, "operation", operation)
	case slog.LevelInfo:
		m.logger.Info(data, "operation", operation)
	case slog.LevelWarn:
		m.logger.Warn(data, "operation", operation)
	case slog.LevelError:
		m.logger.Error(data, "operation", operation)
	default:
		m.logger.Info(data, "operation", operation)
	}
}
