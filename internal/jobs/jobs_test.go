package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPool_RunsDetachedFromCaller(t *testing.T) {
	p := NewPool(Config{MaxConcurrent: 2, Timeout: time.Second}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var ctxErr atomic.Value

	p.Go(ctx, "detached", func(jobCtx context.Context) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		ctxErr.Store(fmt.Sprint(jobCtx.Err()))
		return nil
	})

	<-started
	cancel()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := ctxErr.Load(); got != "<nil>" {
		t.Fatalf("job context should survive caller cancellation, got %v", got)
	}
}

func TestPool_ContainsPanicsAndErrors(t *testing.T) {
	p := NewPool(Config{}, zap.NewNop())
	var ran atomic.Int32

	p.Go(context.Background(), "panics", func(context.Context) error {
		ran.Add(1)
		panic("boom")
	})
	p.Go(context.Background(), "fails", func(context.Context) error {
		ran.Add(1)
		return errors.New("nope")
	})
	p.Go(context.Background(), "ok", func(context.Context) error {
		ran.Add(1)
		return nil
	})

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if ran.Load() != 3 {
		t.Fatalf("expected 3 jobs to run, got %d", ran.Load())
	}
}

func TestPool_AppliesTimeout(t *testing.T) {
	p := NewPool(Config{Timeout: 10 * time.Millisecond}, zap.NewNop())
	var deadlineHit atomic.Bool

	p.Go(context.Background(), "slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			deadlineHit.Store(true)
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !deadlineHit.Load() {
		t.Fatal("expected job to observe its timeout")
	}
}

func TestPool_DropsAfterShutdown(t *testing.T) {
	p := NewPool(Config{}, zap.NewNop())
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	called := false
	p.Go(context.Background(), "late", func(context.Context) error {
		called = true
		return nil
	})
	time.Sleep(10 * time.Millisecond)
	if called {
		t.Fatal("job submitted after shutdown must not run")
	}
}

func TestPool_ShutdownHonoursDeadline(t *testing.T) {
	p := NewPool(Config{Timeout: time.Second}, zap.NewNop())
	release := make(chan struct{})
	defer close(release)

	p.Go(context.Background(), "stuck", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestInline_RunsSynchronously(t *testing.T) {
	var r Runner = Inline{}
	done := false
	r.Go(context.Background(), "inline", func(context.Context) error {
		done = true
		return nil
	})
	if !done {
		t.Fatal("inline job should have completed before Go returned")
	}

	// Panics never escape.
	r.Go(context.Background(), "inline-panic", func(context.Context) error {
		panic("boom")
	})
}
