package runtime

import (
	"context"
	"os/signal"
	"syscall"
)

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// Go runs fn in a goroutine and reports its error on the returned channel once it exits.
func Go(fn func() error) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()
	return done
}
