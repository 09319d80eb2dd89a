package capture

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// CircuitState represents the current state of the capture circuit breaker.
type CircuitState int32

const (
	// CircuitClosed indicates normal operation with successful reads.
	CircuitClosed CircuitState = iota
	// CircuitOpen indicates too many consecutive read failures.
	CircuitOpen
	// CircuitHalfOpen indicates the device is being probed for recovery.
	CircuitHalfOpen
)

// String returns a string representation of the CircuitState.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker trips after maxFailures consecutive grab failures so the
// camera can be reopened instead of hammering a dead handle.
type CircuitBreaker struct {
	state           atomic.Int32
	failureCount    atomic.Int64
	lastFailureTime atomic.Int64
	successCount    atomic.Int64

	maxFailures       int64
	timeout           time.Duration
	recoveryThreshold int64
	logger            *slog.Logger
	onStateChange     func(CircuitState)
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(maxFailures int64, timeout time.Duration, recoveryThreshold int64, logger *slog.Logger) *CircuitBreaker {
	cb := &CircuitBreaker{
		maxFailures:       maxFailures,
		timeout:           timeout,
		recoveryThreshold: recoveryThreshold,
		logger:            logger,
	}
	cb.state.Store(int32(CircuitClosed))
	return cb
}

// Call runs fn unless the circuit is open and the timeout has not elapsed.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if CircuitState(cb.state.Load()) == CircuitOpen {
		lastFailure := time.Unix(0, cb.lastFailureTime.Load())
		if time.Since(lastFailure) <= cb.timeout {
			return fmt.Errorf("circuit breaker is open, last failure: %v ago", time.Since(lastFailure).Round(time.Millisecond))
		}
		if cb.state.CompareAndSwap(int32(CircuitOpen), int32(CircuitHalfOpen)) {
			cb.successCount.Store(0)
			cb.transitioned(CircuitOpen, CircuitHalfOpen)
		}
	}

	if err := fn(); err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) recordFailure() {
	cb.lastFailureTime.Store(time.Now().UnixNano())
	failures := cb.failureCount.Add(1)
	current := CircuitState(cb.state.Load())

	switch {
	case current == CircuitHalfOpen:
		cb.state.Store(int32(CircuitOpen))
		cb.successCount.Store(0)
		cb.transitioned(current, CircuitOpen)
	case current == CircuitClosed && failures >= cb.maxFailures:
		cb.state.Store(int32(CircuitOpen))
		cb.transitioned(current, CircuitOpen)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.failureCount.Store(0)

	if CircuitState(cb.state.Load()) != CircuitHalfOpen {
		return
	}
	if cb.successCount.Add(1) >= cb.recoveryThreshold {
		if cb.state.CompareAndSwap(int32(CircuitHalfOpen), int32(CircuitClosed)) {
			cb.transitioned(CircuitHalfOpen, CircuitClosed)
		}
	}
}

func (cb *CircuitBreaker) transitioned(from, to CircuitState) {
	if cb.logger != nil {
		cb.logger.Info("Capture circuit state transition",
			"from", from,
			"to", to,
			"failure_count", cb.failureCount.Load())
	}
	if cb.onStateChange != nil {
		cb.onStateChange(to)
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(cb.state.Load())
}

// Reset forces the breaker closed, typically after a successful reconnect.
func (cb *CircuitBreaker) Reset() {
	old := CircuitState(cb.state.Swap(int32(CircuitClosed)))
	cb.failureCount.Store(0)
	cb.successCount.Store(0)
	if old != CircuitClosed {
		cb.transitioned(old, CircuitClosed)
	}
}

// FailureCount returns the number of consecutive failures.
func (cb *CircuitBreaker) FailureCount() int64 {
	return cb.failureCount.Load()
}
