// Package breaker provides a three-state circuit breaker used to protect
// calls into a degraded backend, plus a process-wide named registry so that
// all callers protecting the same physical resource share one breaker.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// State of a circuit breaker.
type State string

const (
	// StateClosed is normal operation: calls pass through.
	StateClosed State = "closed"
	// StateOpen rejects calls without invoking the wrapped operation.
	StateOpen State = "open"
	// StateHalfOpen lets limited probe calls through after the recovery
	// timeout has elapsed.
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned when a call is rejected because the breaker is open.
// It means the wrapped operation was deliberately not attempted.
var ErrOpen = errors.New("breaker: circuit open")

// ErrTimeout is returned when the wrapped operation's wall-clock duration
// met or exceeded the configured timeout. The timeout is detected after the
// call returns; an in-flight operation is not preempted.
var ErrTimeout = errors.New("breaker: operation timed out")

// Config holds the breaker tuning parameters.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit from closed.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before a probe
	// call is allowed through.
	RecoveryTimeout time.Duration
	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit.
	SuccessThreshold int
	// Timeout is the wall-clock duration at which an operation counts as
	// a timeout failure.
	Timeout time.Duration
}

// DefaultConfig returns general-purpose breaker settings.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
		Timeout:          30 * time.Second,
	}
}

// DatabaseConfig returns settings tuned for relational database operations:
// open quickly, probe quickly.
func DatabaseConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
		Timeout:          10 * time.Second,
	}
}

// Metrics is a point-in-time snapshot of a breaker's counters.
type Metrics struct {
	Name             string     `json:"name"`
	State            State      `json:"state"`
	FailureCount     int        `json:"failure_count"`
	SuccessCount     int        `json:"success_count"`
	TotalCalls       int64      `json:"total_calls"`
	SuccessfulCalls  int64      `json:"successful_calls"`
	FailedCalls      int64      `json:"failed_calls"`
	Timeouts         int64      `json:"timeouts"`
	OpenedCount      int64      `json:"opened_count"`
	SuccessRate      float64    `json:"success_rate"` // percentage in [0,100]; 0 when no calls yet
	LastFailureTime  *time.Time `json:"last_failure_time,omitempty"`
	LastSuccessTime  *time.Time `json:"last_success_time,omitempty"`
	StateChangedTime *time.Time `json:"state_changed_time,omitempty"`
}

// Breaker is a mutex-guarded three-state circuit breaker.
type Breaker struct {
	name   string
	config Config
	logger *log.Helper

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	lastFailure  time.Time

	totalCalls      int64
	successfulCalls int64
	failedCalls     int64
	timeouts        int64
	openedCount     int64
	lastFailureAt   *time.Time
	lastSuccessAt   *time.Time
	stateChangedAt  *time.Time
}

// New creates a breaker with the given name and configuration.
func New(name string, config Config, logger log.Logger) *Breaker {
	b := &Breaker{
		name:   name,
		config: config,
		logger: log.NewHelper(logger),
		state:  StateClosed,
	}
	b.logger.Infow("msg", "circuit breaker initialized",
		"name", name,
		"failure_threshold", config.FailureThreshold,
		"recovery_timeout", config.RecoveryTimeout,
		"success_threshold", config.SuccessThreshold,
		"timeout", config.Timeout)
	return b
}

// Name returns the breaker's registry name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Call executes op under breaker protection.
//
// It returns ErrOpen without invoking op if the circuit is open, ErrTimeout
// if op's duration met or exceeded the configured timeout, or op's own error
// otherwise. Counters are updated in every case.
func (b *Breaker) Call(ctx context.Context, op func(context.Context) error) error {
	b.mu.Lock()
	b.totalCalls++
	if b.shouldRejectLocked() {
		b.mu.Unlock()
		b.logger.Warnw("msg", "circuit breaker rejecting call", "name", b.name)
		return fmt.Errorf("breaker %q: %w", b.name, ErrOpen)
	}
	b.mu.Unlock()

	start := time.Now()
	err := op(ctx)
	elapsed := time.Since(start)

	if b.config.Timeout > 0 && elapsed >= b.config.Timeout {
		b.onTimeout()
		return fmt.Errorf("breaker %q: operation took %s: %w", b.name, elapsed, ErrTimeout)
	}
	if err != nil {
		b.onFailure(err)
		return err
	}
	b.onSuccess()
	return nil
}

// shouldRejectLocked decides whether the current call must be rejected,
// transitioning open -> half-open when the recovery timeout has elapsed.
// Caller holds the mutex.
func (b *Breaker) shouldRejectLocked() bool {
	switch b.state {
	case StateClosed:
		return false
	case StateOpen:
		if b.lastFailure.IsZero() || time.Since(b.lastFailure) >= b.config.RecoveryTimeout {
			b.transitionLocked(StateHalfOpen)
			b.logger.Infow("msg", "circuit breaker attempting recovery", "name", b.name)
			return false
		}
		return true
	default: // half-open: probe calls pass
		return false
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successfulCalls++
	now := time.Now()
	b.lastSuccessAt = &now

	switch b.state {
	case StateHalfOpen:
		b.successCount++
		b.logger.Debugw("msg", "circuit breaker half-open success",
			"name", b.name, "success_count", b.successCount)
		if b.successCount >= b.config.SuccessThreshold {
			b.transitionLocked(StateClosed)
			b.logger.Infow("msg", "circuit breaker closed, resuming normal operation", "name", b.name)
		}
	case StateClosed:
		b.failureCount = 0
	}
}

func (b *Breaker) onFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failedCalls++
	now := time.Now()
	b.lastFailureAt = &now
	b.lastFailure = now

	b.failureCount++
	b.logger.Warnw("msg", "circuit breaker recorded failure",
		"name", b.name, "failure_count", b.failureCount, "error", err)

	if b.state == StateHalfOpen {
		// No partial credit while probing: one failure reopens.
		b.openLocked()
		return
	}
	if b.failureCount >= b.config.FailureThreshold {
		b.openLocked()
	}
}

func (b *Breaker) onTimeout() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.timeouts++
	b.failedCalls++
	now := time.Now()
	b.lastFailureAt = &now
	b.lastFailure = now

	b.failureCount++
	b.logger.Warnw("msg", "circuit breaker recorded timeout",
		"name", b.name, "failure_count", b.failureCount)

	if b.state == StateHalfOpen || b.failureCount >= b.config.FailureThreshold {
		b.openLocked()
	}
}

// openLocked moves to the open state. Caller holds the mutex.
func (b *Breaker) openLocked() {
	if b.state != StateOpen {
		b.logger.Errorw("msg", "circuit breaker opened", "name", b.name)
		b.transitionLocked(StateOpen)
		b.openedCount++
	}
}

// transitionLocked changes state and resets the per-state counters.
// Caller holds the mutex.
func (b *Breaker) transitionLocked(s State) {
	b.state = s
	b.failureCount = 0
	b.successCount = 0
	now := time.Now()
	b.stateChangedAt = &now
}

// ForceOpen manually opens the breaker for operational control.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger.Warnw("msg", "circuit breaker manually forced open", "name", b.name)
	b.openLocked()
	// Pin the failure time so the recovery timeout applies from now.
	b.lastFailure = time.Now()
}

// ForceClose manually closes the breaker.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger.Infow("msg", "circuit breaker manually forced closed", "name", b.name)
	if b.state != StateClosed {
		b.transitionLocked(StateClosed)
	}
}

// Reset returns the breaker to its initial state with all counters zeroed,
// including the lifetime opened count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger.Infow("msg", "circuit breaker reset", "name", b.name)
	b.transitionLocked(StateClosed)
	b.lastFailure = time.Time{}
	b.openedCount = 0
	b.lastFailureAt = nil
}

// Metrics returns a consistent snapshot of the breaker's state and counters.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	rate := 0.0
	if b.totalCalls > 0 {
		rate = float64(b.successfulCalls) / float64(b.totalCalls) * 100
	}
	return Metrics{
		Name:             b.name,
		State:            b.state,
		FailureCount:     b.failureCount,
		SuccessCount:     b.successCount,
		TotalCalls:       b.totalCalls,
		SuccessfulCalls:  b.successfulCalls,
		FailedCalls:      b.failedCalls,
		Timeouts:         b.timeouts,
		OpenedCount:      b.openedCount,
		SuccessRate:      rate,
		LastFailureTime:  b.lastFailureAt,
		LastSuccessTime:  b.lastSuccessAt,
		StateChangedTime: b.stateChangedAt,
	}
}
