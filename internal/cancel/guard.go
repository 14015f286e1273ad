// Package cancel provides the shared cancellation token observed by a download run.
//
// A Guard is set at most once. Operating-system interrupts are routed into the same
// token, so an in-flight batch sees exactly the same discipline whether the operator
// pressed Ctrl+C or a caller cancelled programmatically.
package cancel

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"time"
)

// ErrCancelled is the cause attached to the guard's context once it is set.
var ErrCancelled = errors.New("download cancelled")

// Guard is a once-settable cancellation token backed by a context.
type Guard struct {
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu     sync.Mutex
	reason string
}

// New derives a Guard from parent. Cancelling parent also trips the guard.
func New(parent context.Context) *Guard {
	ctx, cancel := context.WithCancelCause(parent)
	return &Guard{ctx: ctx, cancel: cancel}
}

// Context returns the context to thread through blocking calls.
func (g *Guard) Context() context.Context {
	return g.ctx
}

// Done is closed once the guard is cancelled.
func (g *Guard) Done() <-chan struct{} {
	return g.ctx.Done()
}

// Cancel sets the token. Calling it again has no effect.
func (g *Guard) Cancel(reason string) {
	g.mu.Lock()
	if g.reason == "" && g.ctx.Err() == nil {
		g.reason = reason
	}
	g.mu.Unlock()
	g.cancel(ErrCancelled)
}

// Cancelled reports whether the token has been set.
func (g *Guard) Cancelled() bool {
	return g.ctx.Err() != nil
}

// Reason returns the reason given to the first Cancel call.
func (g *Guard) Reason() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reason
}

// Sleep waits for d or until the guard is cancelled, whichever comes first.
// It returns false when the wait was cut short.
func (g *Guard) Sleep(d time.Duration) bool {
	return Sleep(g.ctx, d)
}

// NotifySignals routes the given signals into the guard instead of letting them
// terminate the process. The returned function stops the routing.
func (g *Guard) NotifySignals(onSignal func(os.Signal), sigs ...os.Signal) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, sigs...)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			if onSignal != nil {
				onSignal(sig)
			}
			g.Cancel("received " + sig.String())
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(done)
		})
	}
}

// Sleep waits for d or until ctx is done. It returns false when ctx ended first.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
