package logging

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/steemit/pinmind/pkg/config"
)

func scalyrLogger(buf *bytes.Buffer) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:       "timestamp",
		LevelKey:      "level",
		MessageKey:    "message",
		CallerKey:     "caller",
		StacktraceKey: "stacktrace",
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeLevel:   zapcore.LowercaseLevelEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}

	encoder := NewScalyrEncoder(encoderConfig)
	core := zapcore.NewCore(encoder, zapcore.AddSync(buf), zapcore.InfoLevel)
	return zap.New(core)
}

func TestScalyrEncoder(t *testing.T) {
	cfg := &config.LoggingConfig{
		Level:        "INFO",
		Format:       "json",
		ScalyrFormat: true,
	}

	oldLogger := Logger
	defer func() { Logger = oldLogger }()

	if err := InitLogger(cfg); err != nil {
		t.Fatalf("Failed to initialize logger: %v", err)
	}

	var buf bytes.Buffer
	logger := scalyrLogger(&buf)

	logger.Info("test message",
		zap.String("key", "value"),
		zap.Int("processed", 42),
		zap.Duration("duration", 1500*time.Millisecond),
		zap.Bool("overdue", true))

	var logObj map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logObj); err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}

	if logObj["message"] != "test message" {
		t.Errorf("Expected message 'test message', got: %v", logObj["message"])
	}
	if logObj["key"] != "value" {
		t.Errorf("Expected field 'key'='value', got: %v", logObj["key"])
	}
	if logObj["processed"] != float64(42) {
		t.Errorf("Expected field 'processed'=42, got: %v", logObj["processed"])
	}
	if logObj["duration"] != "1.5s" {
		t.Errorf("Expected field 'duration'='1.5s', got: %v", logObj["duration"])
	}
	if logObj["overdue"] != true {
		t.Errorf("Expected field 'overdue'=true, got: %v", logObj["overdue"])
	}
	if _, ok := logObj["timestamp"]; !ok {
		t.Error("Expected 'timestamp' field in log output")
	}
}

func TestScalyrEncoder_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := scalyrLogger(&buf).With(zap.String("component", "pin-manager"))

	logger.Info("first")
	WithRunID(logger, "run-1").Info("second")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("Expected 2 log lines, got %d", len(lines))
	}

	var first, second map[string]interface{}
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("Failed to parse first line: %v", err)
	}
	if err := json.Unmarshal(lines[1], &second); err != nil {
		t.Fatalf("Failed to parse second line: %v", err)
	}

	if first["component"] != "pin-manager" || second["component"] != "pin-manager" {
		t.Errorf("Expected component on both lines, got %v and %v", first["component"], second["component"])
	}
	if _, ok := first["run_id"]; ok {
		t.Error("run_id leaked into the parent logger")
	}
	if second["run_id"] != "run-1" {
		t.Errorf("Expected run_id 'run-1', got: %v", second["run_id"])
	}
}

func TestNew_TextFormat(t *testing.T) {
	logger, err := New(&config.LoggingConfig{Level: "DEBUG", Format: "text"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Expected debug level to be enabled")
	}
}
