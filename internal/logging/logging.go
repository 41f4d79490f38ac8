package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/rs/zerolog"
)

// osStdout is swapped out by tests capturing console output.
var osStdout io.Writer = os.Stdout

// LogFilePath builds a log file path using OS-appropriate path separators.
func LogFilePath(logsDir, service string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", service, sessionStart.Format("20060102_150405")),
	)
}

// Manager owns the zerolog pipeline: colored console output, a plain
// console-format copy in the session log file, and an optional GELF
// target receiving the raw JSON lines.
type Manager struct {
	logger zerolog.Logger
	gelf   *gelf.Writer
}

// NewManager creates an unconfigured Manager. Call Setup before use.
func NewManager() *Manager {
	return &Manager{}
}

// Setup sets the global zerolog level and builds the multi-level writer.
// An empty graylogAddr disables the GELF target.
func (m *Manager) Setup(level string, file io.Writer, graylogAddr string) error {
	lvl := parseZerologLevel(level)
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}

	writers := []io.Writer{
		zerolog.ConsoleWriter{
			Out:        osStdout,
			TimeFormat: time.RFC3339,
		},
	}
	if file != nil {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        file,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		})
	}
	if graylogAddr != "" {
		gw, err := gelf.NewWriter(graylogAddr)
		if err != nil {
			return fmt.Errorf("connecting gelf writer: %w", err)
		}
		m.gelf = gw
		writers = append(writers, gw)
	}

	m.logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().Timestamp().Str("service", "rotationd").Logger()
	m.logger.Info().Str("loglevel", lvl.String()).Msg("Logging set up")
	return nil
}

// Logger returns the configured logger.
func (m *Manager) Logger() zerolog.Logger {
	return m.logger
}

// TraceSample returns a sampled logger for hot-path records such as
// per-pointer-move traces: everything up to 5 entries per 10 seconds,
// then 1 in 100.
func (m *Manager) TraceSample() zerolog.Logger {
	return m.logger.With().Bool("sampled", true).Logger().Sample(&zerolog.BurstSampler{
		Burst:       5,
		Period:      10 * time.Second,
		NextSampler: &zerolog.BasicSampler{N: 100},
	})
}

// Close shuts down the GELF connection if one was opened.
func (m *Manager) Close() error {
	if m.gelf != nil {
		return m.gelf.Close()
	}
	return nil
}

// CommandLogger adapts zerolog to the key-value Logger interface the
// dispatcher expects.
type CommandLogger struct {
	logger zerolog.Logger
}

// NewCommandLogger creates a CommandLogger wrapping the given logger.
func NewCommandLogger(logger zerolog.Logger) *CommandLogger {
	return &CommandLogger{logger: logger}
}

// CommandLogger returns an adapter over the manager's logger.
func (m *Manager) CommandLogger() *CommandLogger {
	return NewCommandLogger(m.logger)
}

// Debug logs a debug message with optional key-value pairs.
func (l *CommandLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(toFields(keysAndValues)).Msg(msg)
}

// Info logs an info message with optional key-value pairs.
func (l *CommandLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info().Fields(toFields(keysAndValues)).Msg(msg)
}

// Error logs an error message with optional key-value pairs.
func (l *CommandLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Error().Fields(toFields(keysAndValues)).Msg(msg)
}

// toFields converts key-value pairs to a map for zerolog.
func toFields(keysAndValues []any) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}
	return fields
}

func parseZerologLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "TRACE":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}
