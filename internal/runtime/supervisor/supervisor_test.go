package supervisor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestStopWaitsForGoroutines(t *testing.T) {
	t.Parallel()
	sup := New(context.Background())
	done := make(chan struct{})
	sup.Go0("loop", func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-done:
	default:
		t.Fatal("goroutine did not observe cancellation before Stop returned")
	}
	if c := sup.Counters(); c.Active != 0 || c.Started != 1 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	sup := New(context.Background(), WithCancelOnError(true))
	sup.Go("bad", func(ctx context.Context) error { return errors.New("boom") })

	select {
	case <-sup.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled after error")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sup.Wait(ctx)
	if err == nil || !strings.Contains(err.Error(), "bad: boom") {
		t.Fatalf("Wait err = %v", err)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()
	sup := New(context.Background())
	sup.Go0("panicky", func(ctx context.Context) { panic("oops") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sup.Wait(ctx)
	if err == nil || !strings.Contains(err.Error(), "panic in panicky") {
		t.Fatalf("Wait err = %v", err)
	}
}

func TestCanceledErrorIsNotRecorded(t *testing.T) {
	t.Parallel()
	sup := New(context.Background())
	sup.Go("quiet", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
