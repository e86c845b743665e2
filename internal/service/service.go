// Package service runs a long-lived component either under the Windows
// service control manager or as a foreground process that stops on
// SIGINT or SIGTERM.
package service

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// StopTimeout bounds how long a stop request waits for the run function.
const StopTimeout = 30 * time.Second

// RunFunc blocks until ctx is cancelled or it fails.
type RunFunc func(ctx context.Context) error

// Service wraps a RunFunc.
type Service struct {
	name   string
	logger *zap.Logger
	run    RunFunc
}

// New creates a Service. name is the SCM service name on Windows.
func New(name string, logger *zap.Logger, run RunFunc) *Service {
	return &Service{name: name, logger: logger, run: run}
}

// Name returns the service name.
func (s *Service) Name() string { return s.name }

// Run blocks until the wrapped function returns. Under the Windows SCM it
// enters the control loop; everywhere else it runs in the foreground.
func (s *Service) Run() error {
	if IsWindowsService() {
		s.logger.Info("Running as Windows service", zap.String("service", s.name))
		return s.runService()
	}
	return s.Foreground(context.Background())
}

// Foreground runs the function until parent is cancelled or a termination
// signal arrives.
func (s *Service) Foreground(parent context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	return s.foreground(parent, sigCh)
}

// foreground cancels the run context on the first value from sigCh. Only
// that path is logged as a signal shutdown.
func (s *Service) foreground(parent context.Context, sigCh <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	return s.run(ctx)
}

// start launches the function and returns a channel carrying its result.
func (s *Service) start(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.run(ctx)
	}()
	return done
}
