package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("component", "core")).Info(context.Background(), "frame done",
		Uint64("frame", 7),
		Float64("lwmax", 0.25),
		Err(errors.New("boom")),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec["msg"] != "frame done" || rec["component"] != "core" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if rec["frame"] != float64(7) || rec["lwmax"] != 0.25 || rec["error"] != "boom" {
		t.Fatalf("unexpected fields: %v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})
	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("level filtering failed: %q", out)
	}
}

func TestRequestLoggerReusesExistingID(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx, _ = WithRequestLogger(ctx, Noop())
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("request id = %q, want req-1", got)
	}

	fresh, id := EnsureRequestID(context.Background())
	if id == "" || RequestIDFromContext(fresh) != id {
		t.Fatalf("EnsureRequestID did not attach an id")
	}
}

func TestForComponentNilBase(t *testing.T) {
	log := ForComponent(nil, "stars")
	log.Info(context.Background(), "no panic")
}

func TestFrameFromContextAnnotatesRecords(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Format: "json", Output: &buf}).With(String("component", "core"))
	ctx := ContextWithFrame(context.Background(), 42)
	log.Warn(ctx, "module update failed")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec["frame"] != float64(42) || rec["component"] != "core" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if _, ok := FrameFromContext(context.Background()); ok {
		t.Fatalf("frame found on a bare context")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_SOURCE", "false")
	cfg := ConfigFromEnv()
	if cfg.Level != "debug" || cfg.Format != "json" || cfg.AddSource {
		t.Fatalf("unexpected config %+v", cfg)
	}

	t.Setenv("LOG_SOURCE", "sometimes")
	if cfg := ConfigFromEnv(); cfg.Level != "info" || !cfg.AddSource {
		t.Fatalf("malformed env not defaulted: %+v", cfg)
	}
}
