package governance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker is in the open state.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState string

const (
	// StateClosed indicates the circuit is closed and requests are allowed.
	StateClosed CircuitBreakerState = "closed"
	// StateOpen indicates the circuit is open and requests are rejected.
	StateOpen CircuitBreakerState = "open"
	// StateHalfOpen indicates the circuit is letting trial requests through.
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig defines thresholds for circuit breaking.
type CircuitBreakerConfig struct {
	// MaxFailures is the consecutive failure count that opens the circuit.
	// Zero disables the breaker.
	MaxFailures int
	// OpenTimeout is how long the circuit stays open before a trial request is allowed.
	OpenTimeout time.Duration
	// MaxHalfOpenRequests is the number of trial requests allowed while half-open.
	MaxHalfOpenRequests int
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:         5,
		OpenTimeout:         30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// Enabled reports whether the configuration trips at all.
func (c CircuitBreakerConfig) Enabled() bool {
	return c.MaxFailures > 0
}

// CircuitBreaker implements the circuit breaker pattern for a single adapter.
type CircuitBreaker struct {
	mu     sync.Mutex
	state  CircuitBreakerState
	config CircuitBreakerConfig
	now    func() time.Time

	consecutiveFailures int
	halfOpenInFlight    int
	totalFailures       int
	totalSuccesses      int
	openUntil           time.Time
	lastStateChange     time.Time
	onStateChange       func(from, to CircuitBreakerState)
}

// CircuitBreakerOption customises a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

// WithStateChangeHook registers a callback invoked on every state transition.
// The callback runs with the breaker's lock held and must not call back into it.
func WithStateChangeHook(fn func(from, to CircuitBreakerState)) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

// NewCircuitBreaker creates a circuit breaker with the provided configuration.
func NewCircuitBreaker(config CircuitBreakerConfig, opts ...CircuitBreakerOption) *CircuitBreaker {
	if config.MaxFailures < 0 {
		config.MaxFailures = 0
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	if config.MaxHalfOpenRequests <= 0 {
		config.MaxHalfOpenRequests = 1
	}

	cb := &CircuitBreaker{
		state:  StateClosed,
		config: config,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	cb.lastStateChange = cb.now()
	return cb
}

// Execute wraps a function call with circuit breaker protection.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	return cb.ExecuteContext(context.Background(), func(context.Context) error {
		return fn()
	})
}

// ExecuteContext wraps a function call with circuit breaker and context support.
// A call abandoned because the caller's context was cancelled is not counted
// against the adapter.
func (cb *CircuitBreaker) ExecuteContext(ctx context.Context, fn func(context.Context) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		cb.release()
		return err
	}
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.config.Enabled() {
		return nil
	}

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.now().Before(cb.openUntil) {
			return ErrCircuitOpen
		}
		cb.transitionToLocked(StateHalfOpen)
		cb.halfOpenInFlight++
		return nil
	case StateHalfOpen:
		if cb.halfOpenInFlight < cb.config.MaxHalfOpenRequests {
			cb.halfOpenInFlight++
			return nil
		}
		return ErrCircuitOpen
	default:
		return fmt.Errorf("unknown circuit breaker state: %s", cb.state)
	}
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.totalSuccesses++
		cb.consecutiveFailures = 0
	} else {
		cb.totalFailures++
		cb.consecutiveFailures++
	}

	if !cb.config.Enabled() {
		return
	}

	switch cb.state {
	case StateHalfOpen:
		if err != nil {
			cb.transitionToLocked(StateOpen)
			return
		}
		cb.transitionToLocked(StateClosed)
	case StateClosed:
		if err != nil && cb.consecutiveFailures >= cb.config.MaxFailures {
			cb.transitionToLocked(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) transitionToLocked(newState CircuitBreakerState) {
	if cb.state == newState {
		return
	}

	from := cb.state
	now := cb.now()
	cb.state = newState
	cb.lastStateChange = now
	cb.consecutiveFailures = 0
	cb.halfOpenInFlight = 0

	switch newState {
	case StateOpen:
		cb.openUntil = now.Add(cb.config.OpenTimeout)
	default:
		cb.openUntil = time.Time{}
	}

	if cb.onStateChange != nil {
		cb.onStateChange(from, newState)
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns current circuit breaker statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		State:               string(cb.state),
		Failures:            cb.totalFailures,
		Successes:           cb.totalSuccesses,
		ConsecutiveFailures: cb.consecutiveFailures,
		LastStateChange:     cb.lastStateChange.Format(time.RFC3339),
		OpenTimeout:         cb.config.OpenTimeout.String(),
	}
}

// CircuitBreakerStats is a point-in-time snapshot of a breaker.
type CircuitBreakerStats struct {
	State               string `json:"state"`
	Failures            int    `json:"failures"`
	Successes           int    `json:"successes"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastStateChange     string `json:"last_state_change"`
	OpenTimeout         string `json:"open_timeout"`
}

// Reset forces the breaker back to closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionToLocked(StateClosed)
	cb.totalFailures = 0
	cb.totalSuccesses = 0
}

// CircuitBreakerManager owns one breaker per adapter capability.
type CircuitBreakerManager struct {
	mu       sync.RWMutex
	defaults CircuitBreakerConfig
	configs  map[string]CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
	opts     []CircuitBreakerOption
	onChange func(name string, from, to CircuitBreakerState)
}

// NewCircuitBreakerManager creates a manager whose unconfigured breakers use defaults.
func NewCircuitBreakerManager(defaults CircuitBreakerConfig, opts ...CircuitBreakerOption) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		defaults: defaults,
		configs:  make(map[string]CircuitBreakerConfig),
		breakers: make(map[string]*CircuitBreaker),
		opts:     opts,
	}
}

// Configure sets the configuration used for the named breaker. An existing
// breaker is replaced.
func (m *CircuitBreakerManager) Configure(name string, config CircuitBreakerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[name] = config
	delete(m.breakers, name)
}

// OnStateChange registers fn for transitions of breakers created after the
// call.
func (m *CircuitBreakerManager) OnStateChange(fn func(name string, from, to CircuitBreakerState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Get returns the breaker for name, creating it on first use.
func (m *CircuitBreakerManager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	config, ok := m.configs[name]
	if !ok {
		config = m.defaults
	}
	opts := m.opts
	if fn := m.onChange; fn != nil {
		opts = append(append([]CircuitBreakerOption(nil), m.opts...), WithStateChangeHook(func(from, to CircuitBreakerState) {
			fn(name, from, to)
		}))
	}
	cb = NewCircuitBreaker(config, opts...)
	m.breakers[name] = cb
	return cb
}

// Stats returns a snapshot of every breaker created so far.
func (m *CircuitBreakerManager) Stats() map[string]CircuitBreakerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]CircuitBreakerStats, len(m.breakers))
	for name, cb := range m.breakers {
		out[name] = cb.Stats()
	}
	return out
}

// ResetAll closes every breaker.
func (m *CircuitBreakerManager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cb := range m.breakers {
		cb.Reset()
	}
}
