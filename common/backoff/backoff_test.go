package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/YaganovValera/broker-archive/common/backoff"
	"github.com/YaganovValera/broker-archive/common/logger"
)

func fastConfig() backoff.Config {
	return backoff.Config{
		InitialInterval:     time.Millisecond,
		RandomizationFactor: 0.01,
		Multiplier:          1,
		MaxInterval:         time.Millisecond,
		MaxElapsedTime:      time.Second,
	}
}

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	called := 0
	err := backoff.Execute(context.Background(), "test", fastConfig(), logger.NewNop(), func(ctx context.Context) error {
		called++
		return nil
	})
	if err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if called != 1 {
		t.Errorf("expected 1 attempt, got %d", called)
	}
}

func TestExecute_EventualSuccess(t *testing.T) {
	const attemptsBeforeSuccess = 3
	called := 0
	err := backoff.Execute(context.Background(), "test", fastConfig(), logger.NewNop(), func(ctx context.Context) error {
		called++
		if called < attemptsBeforeSuccess {
			return errors.New("fail")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if called != attemptsBeforeSuccess {
		t.Errorf("expected %d attempts, got %d", attemptsBeforeSuccess, called)
	}
}

func TestExecute_MaxAttempts(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 4
	called := 0
	err := backoff.Execute(context.Background(), "test", cfg, logger.NewNop(), func(ctx context.Context) error {
		called++
		return errors.New("always fail")
	})
	var maxErr *backoff.ErrMaxRetries
	if !errors.As(err, &maxErr) {
		t.Fatalf("expected ErrMaxRetries, got %v", err)
	}
	if called != 4 || maxErr.Attempts != 4 {
		t.Errorf("attempts: called=%d reported=%d; want 4", called, maxErr.Attempts)
	}
}

func TestExecute_PermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("bad request")
	called := 0
	err := backoff.Execute(context.Background(), "test", fastConfig(), logger.NewNop(), func(ctx context.Context) error {
		called++
		return backoff.Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
	if called != 1 {
		t.Errorf("expected 1 attempt, got %d", called)
	}
}

func TestExecute_InvalidConfig(t *testing.T) {
	cfg := backoff.Config{RandomizationFactor: 2}
	err := backoff.Execute(context.Background(), "test", cfg, logger.NewNop(), func(ctx context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected config error")
	}
}
