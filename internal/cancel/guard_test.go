package cancel

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestCancelIsIdempotent(t *testing.T) {
	g := New(context.Background())
	if g.Cancelled() {
		t.Fatal("new guard must not be cancelled")
	}

	g.Cancel("first")
	g.Cancel("second")

	if !g.Cancelled() {
		t.Fatal("expected guard to be cancelled")
	}
	if g.Reason() != "first" {
		t.Errorf("expected first reason to stick, got %q", g.Reason())
	}
	if cause := context.Cause(g.Context()); !errors.Is(cause, ErrCancelled) {
		t.Errorf("expected ErrCancelled cause, got %v", cause)
	}
}

func TestParentCancellationTripsGuard(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	g := New(parent)
	cancel()

	select {
	case <-g.Done():
	case <-time.After(time.Second):
		t.Fatal("guard did not observe parent cancellation")
	}
}

func TestSleepReturnsEarlyOnCancel(t *testing.T) {
	g := New(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		g.Cancel("test")
	}()

	start := time.Now()
	if g.Sleep(10 * time.Second) {
		t.Fatal("expected sleep to be interrupted")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("sleep was not interrupted promptly: %v", elapsed)
	}
}

func TestSleepCompletes(t *testing.T) {
	g := New(context.Background())
	if !g.Sleep(time.Millisecond) {
		t.Error("expected sleep to complete")
	}
	if !g.Sleep(0) {
		t.Error("zero sleep on a live guard must report true")
	}
}

func TestNotifySignalsRoutesIntoGuard(t *testing.T) {
	g := New(context.Background())
	got := make(chan string, 1)
	stop := g.NotifySignals(func(sig os.Signal) {
		got <- sig.String()
	}, syscall.SIGUSR1)
	defer stop()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case <-g.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("signal was not routed into the guard")
	}
	if g.Reason() == "" {
		t.Error("expected a cancellation reason")
	}
	<-got
}
