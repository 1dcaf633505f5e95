package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// stopSignals end a change follower.
var stopSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// forceExit ends the process on a second stop signal; tests replace it.
var forceExit = func() { os.Exit(1) }

// stoppedBySignal is the cancel cause of a follower context.
type stoppedBySignal struct {
	sig os.Signal
}

func (s stoppedBySignal) Error() string {
	return "stopped by " + s.sig.String()
}

// followerContext is canceled by the first stop signal, with the signal as
// its cause. The follower then finishes the event it is emitting. A second
// signal exits at once. The returned stop function releases the signal
// handler and is safe to call more than once.
func followerContext(parent context.Context, logger *slog.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, stopSignals...)

	done := make(chan struct{})

	go func() {
		defer signal.Stop(sigs)

		stopping := false

		for {
			select {
			case sig := <-sigs:
				if stopping {
					logger.Warn("second stop signal, exiting", slog.String("signal", sig.String()))
					forceExit()

					return
				}

				stopping = true

				logger.Info("stopping change follower", slog.String("signal", sig.String()))
				cancel(stoppedBySignal{sig: sig})
			case <-parent.Done():
				cancel(context.Cause(parent))
				return
			case <-done:
				return
			}
		}
	}()

	var once sync.Once

	return ctx, func() {
		once.Do(func() {
			close(done)
			cancel(context.Canceled)
		})
	}
}
