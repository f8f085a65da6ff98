package oat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// RunScheduler is responsible for scheduling periodic suite runs.
type RunScheduler interface {
	Start(ctx context.Context) error
	Stop() error
	RegisterCallback(func() error)
	WaitForShutdown(ctx context.Context) error
	Stopped() bool
}

// DefaultRunScheduler implements the RunScheduler interface.
type DefaultRunScheduler struct {
	interval time.Duration
	runOnce  bool
	logger   log.Logger
	callback func() error

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewDefaultRunScheduler creates a new DefaultRunScheduler.
func NewDefaultRunScheduler(interval time.Duration, runOnce bool, logger log.Logger) *DefaultRunScheduler {
	return &DefaultRunScheduler{
		interval: interval,
		runOnce:  runOnce,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// RegisterCallback registers the callback to be called when a run is due.
func (s *DefaultRunScheduler) RegisterCallback(callback func() error) {
	s.callback = callback
}

// Start starts the scheduler.
func (s *DefaultRunScheduler) Start(ctx context.Context) error {
	if s.callback == nil {
		return errors.New("callback must be registered before starting scheduler")
	}

	s.done = make(chan struct{})
	s.running.Store(true)

	if s.runOnce {
		s.logger.Info("Starting scheduler in run-once mode")
		return s.callback()
	}

	s.logger.Info("Starting scheduler in continuous mode", "interval", s.interval)

	// Run immediately on startup
	err := s.callback()
	if err != nil {
		return err
	}

	// Start a goroutine for periodic suite runs
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Debug("Starting periodic run goroutine", "interval", s.interval)

		for {
			select {
			case <-time.After(s.interval):
				// Check if we should still be running
				if !s.running.Load() {
					s.logger.Debug("Service stopped, exiting periodic runner")
					return
				}

				// Run the suite
				s.logger.Info("Running periodic suite run")
				if err := s.callback(); err != nil {
					s.logger.Error("Error running periodic suite run", "error", err)
				}
				s.logger.Info("Run interval", "interval", s.interval)

			case <-s.done:
				s.logger.Debug("Done signal received, stopping periodic runner")
				return

			case <-ctx.Done():
				s.logger.Debug("Context canceled, stopping periodic runner")
				s.running.Store(false)
				return
			}
		}
	}()

	return nil
}

// Stop stops the scheduler.
func (s *DefaultRunScheduler) Stop() error {
	// Check if we're already stopped
	if !s.running.Load() {
		s.logger.Debug("Scheduler already stopped, nothing to do")
		return nil
	}

	// Update running state first to prevent new runs
	s.running.Store(false)

	// Signal goroutines to exit
	s.logger.Debug("Sending done signal to goroutines")
	close(s.done)

	return nil
}

// Stopped returns true if the scheduler is stopped.
func (s *DefaultRunScheduler) Stopped() bool {
	return !s.running.Load()
}

// WaitForShutdown blocks until all goroutines have terminated.
func (s *DefaultRunScheduler) WaitForShutdown(ctx context.Context) error {
	s.logger.Debug("Waiting for all goroutines to terminate")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Debug("All goroutines terminated successfully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for goroutines to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}
