package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type closer struct{ closed bool }

func (c *closer) Close() error { c.closed = true; return nil }

func TestGraceful_RunsWithDeadline(t *testing.T) {
	var hadDeadline bool
	Graceful("test", time.Second, func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return errors.New("ignored")
	}, zap.NewNop())
	if !hadDeadline {
		t.Error("expected ctx with deadline")
	}
}

func TestCloser(t *testing.T) {
	c := &closer{}
	Graceful("closer", time.Second, Closer(c), zap.NewNop())
	if !c.closed {
		t.Error("Close not called")
	}
}

func TestNotifyContext_ParentCancel(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := NotifyContext(parent, zap.NewNop())
	defer cancel()
	cancelParent()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("ctx not cancelled with parent")
	}
}
