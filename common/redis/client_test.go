package redis

import (
	"context"
	"testing"
	"time"

	"github.com/YaganovValera/broker-archive/common/backoff"
	"github.com/YaganovValera/broker-archive/common/logger"
)

func TestNewClient_InvalidConfig(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}, logger.NewNop()); err == nil {
		t.Fatal("expected error for empty addr")
	}
	if _, err := NewClient(context.Background(), Config{Addr: "x:1", DB: -1}, logger.NewNop()); err == nil {
		t.Fatal("expected error for negative db")
	}
}

func TestNewClient_Unreachable(t *testing.T) {
	cfg := Config{
		Addr:    "127.0.0.1:1",
		Backoff: backoff.Config{InitialInterval: time.Millisecond, MaxAttempts: 2},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := NewClient(ctx, cfg, logger.NewNop()); err == nil {
		t.Fatal("expected ping failure")
	}
}
