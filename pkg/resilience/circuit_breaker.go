package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"gsraster/pkg/logger"
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit
	FailureThreshold int
	// SuccessThreshold is the number of successes needed to close the circuit from half-open
	SuccessThreshold int
	// Timeout is the duration the circuit stays open before transitioning to half-open
	Timeout time.Duration
	// MaxRequests is the max number of requests allowed through in half-open state
	MaxRequests int
}

// DefaultCircuitBreakerConfig returns defaults suited to a log or metadata
// backend that occasionally goes away.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		MaxRequests:      3,
	}
}

// CircuitBreaker stops calling a failing dependency for a while after it
// has failed FailureThreshold times in a row.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig

	mu               sync.Mutex
	state            CircuitState
	failures         int
	successes        int
	halfOpenRequests int
	openedAt         time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given name and config
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  CircuitClosed,
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()
	return cb.state
}

// refresh moves an open circuit to half-open once its timeout has passed.
// Must hold cb.mu.
func (cb *CircuitBreaker) refresh() {
	if cb.state == CircuitOpen && time.Since(cb.openedAt) >= cb.config.Timeout {
		cb.transition(CircuitHalfOpen)
	}
}

// Execute runs fn unless the circuit is open. A cancelled ctx is reported
// without counting against the dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)

	if err != nil && ctx.Err() != nil {
		cb.release()
		return err
	}
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.refresh()
	switch cb.state {
	case CircuitOpen:
		return ErrCircuitOpen
	case CircuitHalfOpen:
		if cb.halfOpenRequests >= cb.config.MaxRequests {
			return ErrCircuitOpen
		}
		cb.halfOpenRequests++
	}
	return nil
}

// release gives back a half-open slot without recording a result.
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitHalfOpen && cb.halfOpenRequests > 0 {
		cb.halfOpenRequests--
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.successes = 0

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure in half-open reopens the circuit
		cb.transition(CircuitOpen)
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transition(CircuitClosed)
		}
	}
}

// transition switches state and resets the counters of the new state.
// Must hold cb.mu.
func (cb *CircuitBreaker) transition(to CircuitState) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.halfOpenRequests = 0
	cb.successes = 0
	switch to {
	case CircuitOpen:
		cb.openedAt = time.Now()
	case CircuitClosed:
		cb.failures = 0
	}
	logger.Info("circuit breaker state changed",
		zap.String("breaker", cb.name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
}

// Reset resets the circuit breaker to its initial state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenRequests = 0
}

// Metrics returns current circuit breaker metrics
func (cb *CircuitBreaker) Metrics() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()
	return map[string]interface{}{
		"name":     cb.name,
		"state":    cb.state.String(),
		"failures": cb.failures,
		"openedAt": cb.openedAt,
	}
}
