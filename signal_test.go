package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Not parallel: these tests share the process's signal disposition.

func waitDone(t *testing.T, ctx context.Context) {
	t.Helper()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("follower context not canceled")
	}
}

func TestFollowerContext_FirstSignalCancelsWithCause(t *testing.T) {
	ctx, stop := followerContext(t.Context(), slog.New(slog.DiscardHandler))
	defer stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))

	waitDone(t, ctx)

	var cause stoppedBySignal
	require.True(t, errors.As(context.Cause(ctx), &cause))
	assert.Equal(t, os.Interrupt, cause.sig)
	assert.Equal(t, "stopped by interrupt", cause.Error())
}

func TestFollowerContext_SecondSignalForcesExit(t *testing.T) {
	exited := make(chan struct{})

	var once sync.Once

	old := forceExit
	forceExit = func() { once.Do(func() { close(exited) }) }

	t.Cleanup(func() { forceExit = old })

	ctx, stop := followerContext(t.Context(), slog.New(slog.DiscardHandler))
	defer stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	waitDone(t, ctx)
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("second signal did not force exit")
	}
}

func TestFollowerContext_ParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(t.Context())
	ctx, stop := followerContext(parent, slog.New(slog.DiscardHandler))
	defer stop()

	cancel()

	waitDone(t, ctx)
	assert.ErrorIs(t, context.Cause(ctx), context.Canceled)
}

func TestFollowerContext_StopIsIdempotent(t *testing.T) {
	ctx, stop := followerContext(t.Context(), slog.New(slog.DiscardHandler))

	stop()
	stop()

	waitDone(t, ctx)
	assert.ErrorIs(t, context.Cause(ctx), context.Canceled)
}
