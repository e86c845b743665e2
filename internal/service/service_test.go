package service

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestForeground_StopsWithParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	s := New("test", zap.NewNop(), func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return nil
	})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Foreground(parent) }()
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Foreground did not return after cancel")
	}
	<-stopped
}

func TestForeground_ReturnsRunError(t *testing.T) {
	boom := errors.New("boom")
	s := New("test", zap.NewNop(), func(context.Context) error { return boom })
	assert.ErrorIs(t, s.Foreground(context.Background()), boom)
	assert.Equal(t, "test", s.Name())
}

func TestStart_DeliversResult(t *testing.T) {
	s := New("test", zap.NewNop(), func(ctx context.Context) error { return ctx.Err() })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, <-s.start(ctx), context.Canceled)
}

func TestForeground_NoSignalLogWhenRunReturns(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := New("test", zap.New(core), func(context.Context) error { return nil })

	sigCh := make(chan os.Signal, 1)
	require.NoError(t, s.foreground(context.Background(), sigCh))

	// Give a stray watcher goroutine the chance to log.
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, logs.FilterMessage("Received signal, shutting down").Len())
}

func TestForeground_NoSignalLogOnParentCancel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := New("test", zap.New(core), func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	parent, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.foreground(parent, make(chan os.Signal)))

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, logs.FilterMessage("Received signal, shutting down").Len())
}

func TestForeground_SignalCancelsRun(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := New("test", zap.New(core), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	sigCh := make(chan os.Signal, 1)
	sigCh <- os.Interrupt
	assert.ErrorIs(t, s.foreground(context.Background(), sigCh), context.Canceled)

	entries := logs.FilterMessage("Received signal, shutting down").All()
	require.Len(t, entries, 1)
	assert.Equal(t, os.Interrupt.String(), entries[0].ContextMap()["signal"])
}
