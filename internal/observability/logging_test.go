package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerToWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLoggerTo(&buf, LogConfig{Level: "debug", Format: "json"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.With(String("host_type", "users")).Info("rows persisted", Int("count", 2))
	_ = logger.Sync()

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["message"] != "rows persisted" {
		t.Fatalf("unexpected message: %v", entry["message"])
	}
	if entry["host_type"] != "users" || entry["count"] != float64(2) {
		t.Fatalf("missing fields: %v", entry)
	}
}

func TestNewLoggerLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLoggerTo(&buf, LogConfig{Level: "warn"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestNewLoggerRejectsBadConfig(t *testing.T) {
	if _, err := NewLoggerTo(&bytes.Buffer{}, LogConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected level error")
	}
	if _, err := NewLoggerTo(&bytes.Buffer{}, LogConfig{Format: "xml"}); err == nil {
		t.Fatalf("expected format error")
	}
}

func TestFromZapAndNop(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := FromZap(zap.New(core))
	logger.Debug("lookup", String("key", "bio"))
	if logs.Len() != 1 || logs.All()[0].ContextMap()["key"] != "bio" {
		t.Fatalf("expected observed entry, got %v", logs.All())
	}

	nop := FromZap(nil)
	nop.Error("ignored")
	if err := NopLogger().Sync(); err != nil {
		t.Fatalf("nop sync: %v", err)
	}
}
