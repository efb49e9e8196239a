package logger_test

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/YaganovValera/broker-archive/common/logger"
)

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := logger.New(logger.Config{Level: "invalid"}); err == nil {
		t.Error("expected error for invalid level, got nil")
	}
}

func TestNew_ValidLevels(t *testing.T) {
	for _, lvl := range []string{"", "debug", "info", "warn", "error"} {
		for _, dev := range []bool{true, false} {
			if _, err := logger.New(logger.Config{Level: lvl, DevMode: dev}); err != nil {
				t.Errorf("level %q dev=%v: unexpected error %v", lvl, dev, err)
			}
		}
	}
}

func TestWithContext_AddsIDs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := logger.FromZap(zap.New(core))

	ctx := logger.ContextWithTraceID(context.Background(), "trace-123")
	ctx = logger.ContextWithRequestID(ctx, "req-456")
	ctx = logger.ContextWithRunID(ctx, "run-789")
	l.WithContext(ctx).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	for k, want := range map[string]string{"trace_id": "trace-123", "request_id": "req-456", "run_id": "run-789"} {
		if got := fields[k]; got != want {
			t.Errorf("%s = %v; want %q", k, got, want)
		}
	}
}

func TestWithContext_NoIDsReturnsSameLogger(t *testing.T) {
	l := logger.NewNop()
	if got := l.WithContext(context.Background()); got != l {
		t.Error("expected the same logger when ctx carries no ids")
	}
}

func TestRequestIDFromContext(t *testing.T) {
	ctx := logger.ContextWithRequestID(context.Background(), "abc")
	if got, ok := logger.RequestIDFromContext(ctx); !ok || got != "abc" {
		t.Errorf("RequestIDFromContext = %q, %v", got, ok)
	}
	if _, ok := logger.RequestIDFromContext(context.Background()); ok {
		t.Error("expected no request id in empty context")
	}
}

func TestSync_NoPanic(t *testing.T) {
	l, _ := logger.New(logger.Config{Level: "info", DevMode: true})
	l.Sync()
}
