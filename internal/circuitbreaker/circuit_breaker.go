// Package circuitbreaker implements a generic, thread-safe circuit breaker:
// it fails fast once a call's consecutive-failure count or sliding-window
// failure rate crosses a threshold, and probes recovery via a bounded
// number of half-open test calls. Used by the Query Runner (SPEC_FULL.md
// §4.3) to isolate one misbehaving source database from the rest.
package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by Call when the circuit is open and the request is
// failed fast without invoking the operation.
var ErrOpen = errors.New("circuitbreaker: circuit is open")

// State represents the state of the circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type callResult struct {
	timestamp time.Time
	success   bool
	duration  time.Duration
	slow      bool
}

// CircuitBreaker guards calls to a single flaky dependency. Safe for
// concurrent use.
type CircuitBreaker struct {
	maxFailures      int
	resetTimeout     time.Duration
	failureThreshold float64
	timeWindow       time.Duration
	slowCallDuration time.Duration
	halfOpenMaxCalls int

	mu                   sync.RWMutex
	state                State
	failureCount         int
	successCount         int
	consecutiveFailures  int
	consecutiveSuccesses int
	lastStateChange      time.Time
	lastFailure          time.Time
	lastSuccess          time.Time
	halfOpenCalls        int

	callResults []callResult

	logger  *slog.Logger
	metrics *Metrics
}

// Config holds configuration for a CircuitBreaker.
type Config struct {
	MaxFailures      int           `mapstructure:"max_failures"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	TimeWindow       time.Duration `mapstructure:"time_window"`
	SlowCallDuration time.Duration `mapstructure:"slow_call_duration"`
	HalfOpenMaxCalls int           `mapstructure:"half_open_max_calls"`
}

// DefaultConfig returns production-ready default configuration, tuned for
// source-database query failures rather than external API calls.
func DefaultConfig() Config {
	return Config{
		MaxFailures:      5,
		ResetTimeout:     30 * time.Second,
		FailureThreshold: 0.5,
		TimeWindow:       60 * time.Second,
		SlowCallDuration: 10 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Validate checks if configuration is valid.
func (c Config) Validate() error {
	if c.MaxFailures <= 0 {
		return errors.New("max_failures must be positive")
	}
	if c.ResetTimeout <= 0 {
		return errors.New("reset_timeout must be positive")
	}
	if c.FailureThreshold < 0 || c.FailureThreshold > 1 {
		return errors.New("failure_threshold must be between 0 and 1")
	}
	if c.TimeWindow <= 0 {
		return errors.New("time_window must be positive")
	}
	if c.SlowCallDuration <= 0 {
		return errors.New("slow_call_duration must be positive")
	}
	if c.HalfOpenMaxCalls <= 0 {
		return errors.New("half_open_max_calls must be positive")
	}
	return nil
}

// New creates a circuit breaker with the given configuration.
func New(config Config, logger *slog.Logger, metrics *Metrics) (*CircuitBreaker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	cb := &CircuitBreaker{
		maxFailures:      config.MaxFailures,
		resetTimeout:     config.ResetTimeout,
		failureThreshold: config.FailureThreshold,
		timeWindow:       config.TimeWindow,
		slowCallDuration: config.SlowCallDuration,
		halfOpenMaxCalls: config.HalfOpenMaxCalls,
		state:            StateClosed,
		lastStateChange:  time.Now(),
		callResults:      make([]callResult, 0, 100),
		logger:           logger,
		metrics:          metrics,
	}

	if metrics != nil {
		metrics.State.Set(float64(StateClosed))
	}

	return cb, nil
}

// Call executes operation through the circuit breaker. Returns ErrOpen if
// the circuit is open.
func (cb *CircuitBreaker) Call(ctx context.Context, operation func(ctx context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	startTime := time.Now()
	err := operation(ctx)
	duration := time.Since(startTime)

	cb.afterCall(err, duration)

	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastStateChange) >= cb.resetTimeout {
			cb.transitionToHalfOpenUnsafe()
			return nil
		}

		if cb.metrics != nil {
			cb.metrics.RequestsBlocked.Inc()
		}
		cb.logger.Debug("circuit breaker is open, request blocked",
			"time_since_open", time.Since(cb.lastStateChange), "reset_timeout", cb.resetTimeout)
		return ErrOpen

	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMaxCalls {
			if cb.metrics != nil {
				cb.metrics.RequestsBlocked.Inc()
			}
			return ErrOpen
		}
		cb.halfOpenCalls++
		if cb.metrics != nil {
			cb.metrics.HalfOpenRequests.Inc()
		}
		return nil

	default:
		return nil
	}
}

func (cb *CircuitBreaker) afterCall(err error, duration time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	isSlow := duration >= cb.slowCallDuration
	isSuccess := err == nil && !isSlow

	now := time.Now()
	cb.callResults = append(cb.callResults, callResult{timestamp: now, success: isSuccess, duration: duration, slow: isSlow})
	cb.cleanOldResultsUnsafe()

	if isSuccess {
		cb.successCount++
		cb.consecutiveSuccesses++
		cb.consecutiveFailures = 0
		cb.lastSuccess = now
		if cb.metrics != nil {
			cb.metrics.Successes.Inc()
			cb.metrics.CallDuration.WithLabelValues("success").Observe(duration.Seconds())
		}
	} else {
		cb.failureCount++
		cb.consecutiveFailures++
		cb.consecutiveSuccesses = 0
		cb.lastFailure = now
		if cb.metrics != nil {
			cb.metrics.Failures.Inc()
			if isSlow {
				cb.metrics.SlowCalls.Inc()
			}
			cb.metrics.CallDuration.WithLabelValues("failure").Observe(duration.Seconds())
		}
		cb.logger.Warn("circuit breaker recorded failure",
			"error", err, "duration", duration, "slow", isSlow, "consecutive_failures", cb.consecutiveFailures, "state", cb.state)
	}

	switch cb.state {
	case StateClosed:
		if cb.shouldOpenUnsafe() {
			cb.transitionToOpenUnsafe()
		}
	case StateHalfOpen:
		if isSuccess {
			cb.transitionToClosedUnsafe()
		} else {
			cb.transitionToOpenUnsafe()
		}
	}
}

func (cb *CircuitBreaker) shouldOpenUnsafe() bool {
	if len(cb.callResults) < cb.maxFailures {
		return false
	}
	if cb.consecutiveFailures >= cb.maxFailures {
		return true
	}

	totalCalls := len(cb.callResults)
	failures := 0
	for _, result := range cb.callResults {
		if !result.success {
			failures++
		}
	}
	return float64(failures)/float64(totalCalls) >= cb.failureThreshold
}

func (cb *CircuitBreaker) transitionToOpenUnsafe() {
	oldState := cb.state
	cb.state = StateOpen
	cb.lastStateChange = time.Now()
	cb.halfOpenCalls = 0

	cb.logger.Warn("circuit breaker opened", "previous_state", oldState, "consecutive_failures", cb.consecutiveFailures, "reset_timeout", cb.resetTimeout)
	if cb.metrics != nil {
		cb.metrics.StateChanges.WithLabelValues(oldState.String(), "open").Inc()
		cb.metrics.State.Set(float64(StateOpen))
	}
}

func (cb *CircuitBreaker) transitionToHalfOpenUnsafe() {
	oldState := cb.state
	cb.state = StateHalfOpen
	cb.lastStateChange = time.Now()
	cb.halfOpenCalls = 0

	cb.logger.Info("circuit breaker entering half-open state", "previous_state", oldState)
	if cb.metrics != nil {
		cb.metrics.StateChanges.WithLabelValues(oldState.String(), "half_open").Inc()
		cb.metrics.State.Set(float64(StateHalfOpen))
	}
}

func (cb *CircuitBreaker) transitionToClosedUnsafe() {
	oldState := cb.state
	cb.state = StateClosed
	cb.lastStateChange = time.Now()
	cb.halfOpenCalls = 0
	cb.failureCount = 0
	cb.consecutiveFailures = 0
	cb.callResults = make([]callResult, 0, 100)

	cb.logger.Info("circuit breaker closed", "previous_state", oldState, "success_count", cb.successCount)
	if cb.metrics != nil {
		cb.metrics.StateChanges.WithLabelValues(oldState.String(), "closed").Inc()
		cb.metrics.State.Set(float64(StateClosed))
	}
}

func (cb *CircuitBreaker) cleanOldResultsUnsafe() {
	cutoff := time.Now().Add(-cb.timeWindow)

	firstValid := 0
	for i, result := range cb.callResults {
		if result.timestamp.After(cutoff) {
			firstValid = i
			break
		}
		cb.callResults[i] = callResult{}
	}
	if firstValid > 0 {
		cb.callResults = cb.callResults[firstValid:]
	}
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Stats holds circuit breaker statistics.
type Stats struct {
	State                State
	FailureCount         int
	SuccessCount         int
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastFailure          time.Time
	LastSuccess          time.Time
	LastStateChange      time.Time
	TotalCalls           int
	NextRetryAt          time.Time
}

// GetStats returns current statistics.
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	var nextRetryAt time.Time
	if cb.state == StateOpen {
		nextRetryAt = cb.lastStateChange.Add(cb.resetTimeout)
	}

	return Stats{
		State:                cb.state,
		FailureCount:         cb.failureCount,
		SuccessCount:         cb.successCount,
		ConsecutiveFailures:  cb.consecutiveFailures,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
		LastFailure:          cb.lastFailure,
		LastSuccess:          cb.lastSuccess,
		LastStateChange:      cb.lastStateChange,
		TotalCalls:           len(cb.callResults),
		NextRetryAt:          nextRetryAt,
	}
}

// Reset resets the circuit breaker to the initial closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.state
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.halfOpenCalls = 0
	cb.callResults = make([]callResult, 0, 100)
	cb.lastStateChange = time.Now()

	cb.logger.Info("circuit breaker manually reset", "previous_state", oldState)
	if cb.metrics != nil {
		cb.metrics.State.Set(float64(StateClosed))
	}
}
