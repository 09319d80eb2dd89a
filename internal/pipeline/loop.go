package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrTooManyFailures stops the loop after repeated capture faults.
var ErrTooManyFailures = errors.New("too many consecutive capture failures")

// Cycler runs one monitoring cycle.
type Cycler interface {
	RunCycle(ctx context.Context) (Result, error)
}

// Sink consumes cycle results. Sinks run on the loop goroutine in the order
// they were registered, so a slow sink delays the next cycle.
type Sink interface {
	Handle(ctx context.Context, res Result) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, res Result) error

// Handle calls f.
func (f SinkFunc) Handle(ctx context.Context, res Result) error {
	return f(ctx, res)
}

// LoopConfig controls cycle pacing.
type LoopConfig struct {
	// Interval separates the start of a cycle from the end of the previous
	// successful one.
	Interval time.Duration
	// RetryBackoff replaces Interval after a capture fault.
	RetryBackoff time.Duration
	// MaxConsecutiveFailures ends Run once reached. Zero never gives up.
	MaxConsecutiveFailures int
}

// Loop drives a Cycler periodically. One cycle runs to completion before the
// next begins.
type Loop struct {
	cycler Cycler
	cfg    LoopConfig
	sinks  []Sink
	logger *slog.Logger
}

// NewLoop creates a loop delivering each result to sinks.
func NewLoop(cycler Cycler, cfg LoopConfig, logger *slog.Logger, sinks ...Sink) *Loop {
	return &Loop{cycler: cycler, cfg: cfg, sinks: sinks, logger: logger}
}

// Run cycles until ctx is cancelled, which returns nil, or until capture
// has failed MaxConsecutiveFailures times in a row.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("Monitoring loop started",
		"interval", l.cfg.Interval,
		"retry_backoff", l.cfg.RetryBackoff,
		"max_consecutive_failures", l.cfg.MaxConsecutiveFailures,
		"sinks", len(l.sinks))

	failures := 0
	for {
		delay := l.cfg.Interval

		res, err := l.cycler.RunCycle(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			l.logger.Info("Monitoring loop stopped")
			return nil
		case err != nil:
			failures++
			l.logger.Warn("Cycle abandoned",
				"error", err,
				"consecutive_failures", failures,
				"retry_in", l.cfg.RetryBackoff)
			if l.cfg.MaxConsecutiveFailures > 0 && failures >= l.cfg.MaxConsecutiveFailures {
				return fmt.Errorf("%w (%d): %w", ErrTooManyFailures, failures, err)
			}
			delay = l.cfg.RetryBackoff
		default:
			if failures > 0 {
				l.logger.Info("Capture recovered", "after_failures", failures)
			}
			failures = 0
			l.deliver(ctx, res)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.logger.Info("Monitoring loop stopped")
			return nil
		case <-timer.C:
		}
	}
}

func (l *Loop) deliver(ctx context.Context, res Result) {
	for i, sink := range l.sinks {
		if err := sink.Handle(ctx, res); err != nil {
			l.logger.Error("Result sink failed", "sink", i, "cycle_id", res.CycleID, "error", err)
		}
	}
}
