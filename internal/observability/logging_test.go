package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/osoko/pressline/internal/config"
)

// newTestLogger creates a logger that writes JSON to a buffer for assertion.
func newTestLogger(buf *bytes.Buffer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "msg",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	})
	core := zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel)
	return zap.New(core)
}

func TestNewLogger_defaultLevel(t *testing.T) {
	cfg := config.ObservabilityConfig{LogLevel: "info"}
	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer logger.Sync()

	// Info should be enabled, Debug should not.
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info level should be enabled")
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level should NOT be enabled at info level")
	}
}

func TestNewLogger_debugLevel(t *testing.T) {
	cfg := config.ObservabilityConfig{LogLevel: "debug"}
	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer logger.Sync()

	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level should be enabled")
	}
}

func TestNewLogger_invalidLevel_defaultsToInfo(t *testing.T) {
	cfg := config.ObservabilityConfig{LogLevel: "bogus"}
	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer logger.Sync()

	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("should default to info level")
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should NOT be enabled with invalid level (defaults to info)")
	}
}

func TestWithLogger_and_LoggerFrom(t *testing.T) {
	logger := zap.NewNop()
	ctx := WithLogger(context.Background(), logger)

	got := LoggerFrom(ctx, nil)
	if got != logger {
		t.Error("LoggerFrom should return the logger stored in the context")
	}
}

func TestLoggerFrom_fallback(t *testing.T) {
	fallback := zap.NewNop()
	got := LoggerFrom(context.Background(), fallback)
	if got != fallback {
		t.Error("LoggerFrom should return the fallback when context has no logger")
	}
}

func TestRunLogger_addsRunIdentityFields(t *testing.T) {
	var buf bytes.Buffer
	base := newTestLogger(&buf)

	logger := RunLogger(context.Background(), base, "run-42", "content-pipeline")
	logger.Info("step started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}
	if entry["run_id"] != "run-42" {
		t.Errorf("run_id = %v, want run-42", entry["run_id"])
	}
	if entry["workflow_name"] != "content-pipeline" {
		t.Errorf("workflow_name = %v, want content-pipeline", entry["workflow_name"])
	}
	// No active span, so no trace_id field.
	if _, ok := entry["trace_id"]; ok {
		t.Error("trace_id should be absent without an active span")
	}
}

func TestRunLogger_prefersContextLogger(t *testing.T) {
	var buf bytes.Buffer
	ctxLogger := newTestLogger(&buf)
	ctx := WithLogger(context.Background(), ctxLogger)

	logger := RunLogger(ctx, zap.NewNop(), "run-1", "content-pipeline")
	logger.Info("hello")

	if buf.Len() == 0 {
		t.Error("RunLogger should build on the context logger, not the fallback")
	}
}
