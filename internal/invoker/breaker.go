package invoker

import (
	"errors"
	"sync"
	"time"

	"github.com/pitabwire/fedipanel/internal/config"
)

// ErrBreakerOpen is returned by Breaker.Allow while requests are rejected.
var ErrBreakerOpen = errors.New("invoker: circuit breaker is open")

// BreakerState is the state of a Breaker.
type BreakerState int

const (
	// BreakerClosed lets every request through and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects requests until the cool-down elapses.
	BreakerOpen
	// BreakerHalfOpen lets trial requests through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// minRateSamples is the number of calls a window needs before its error rate
// can trip the breaker.
const minRateSamples = 10

// Breaker guards the backend. It trips on consecutive failures or on the error
// rate of a tumbling window and is safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time

	failureThreshold int
	successThreshold int
	coolDown         time.Duration
	rateThreshold    float64
	rateWindow       time.Duration

	windowStart    time.Time
	windowCalls    int
	windowFailures int

	now      func() time.Time
	onChange func(BreakerState)
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithStateHook registers fn to be called, with the lock released, after every
// state transition.
func WithStateHook(fn func(BreakerState)) BreakerOption {
	return func(b *Breaker) { b.onChange = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// NewBreaker builds a breaker from configuration, substituting defaults for
// unset thresholds.
func NewBreaker(cfg config.CircuitBreakerConfig, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		coolDown:         cfg.Timeout,
		rateThreshold:    cfg.ErrorRateThreshold,
		rateWindow:       cfg.ErrorRateWindow,
		now:              time.Now,
	}
	if b.failureThreshold < 1 {
		b.failureThreshold = 5
	}
	if b.successThreshold < 1 {
		b.successThreshold = 2
	}
	if b.coolDown <= 0 {
		b.coolDown = 30 * time.Second
	}
	for _, opt := range opts {
		opt(b)
	}
	b.windowStart = b.now()
	return b
}

// Allow reports whether a request may go to the backend.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	changed := b.advance()
	s := b.state
	b.mu.Unlock()

	b.notify(changed, s)
	if s == BreakerOpen {
		return ErrBreakerOpen
	}
	return nil
}

// Success records a request the backend handled.
func (b *Breaker) Success() {
	b.mu.Lock()
	changed := false
	switch b.state {
	case BreakerClosed:
		b.failures = 0
		b.count(false)
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			changed = b.transition(BreakerClosed)
		}
	}
	s := b.state
	b.mu.Unlock()
	b.notify(changed, s)
}

// Failure records a request the backend failed to handle.
func (b *Breaker) Failure() {
	b.mu.Lock()
	changed := false
	switch b.state {
	case BreakerClosed:
		b.failures++
		b.count(true)
		if b.failures >= b.failureThreshold || b.rateExceeded() {
			changed = b.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		changed = b.transition(BreakerOpen)
	}
	s := b.state
	b.mu.Unlock()
	b.notify(changed, s)
}

// State returns the current state, moving an expired open breaker to half-open.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	changed := b.advance()
	s := b.state
	b.mu.Unlock()
	b.notify(changed, s)
	return s
}

// ErrorRate returns the failure ratio and call count of the current window.
func (b *Breaker) ErrorRate() (rate float64, calls int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollWindow()
	if b.windowCalls == 0 {
		return 0, 0
	}
	return float64(b.windowFailures) / float64(b.windowCalls), b.windowCalls
}

// advance moves an open breaker whose cool-down elapsed to half-open.
// Callers hold the lock.
func (b *Breaker) advance() bool {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.coolDown {
		return b.transition(BreakerHalfOpen)
	}
	return false
}

// transition sets the state and clears counters. Callers hold the lock.
func (b *Breaker) transition(to BreakerState) bool {
	if b.state == to {
		return false
	}
	b.state = to
	b.failures = 0
	b.successes = 0
	if to == BreakerOpen {
		b.openedAt = b.now()
	}
	b.windowStart = b.now()
	b.windowCalls = 0
	b.windowFailures = 0
	return true
}

func (b *Breaker) notify(changed bool, s BreakerState) {
	if changed && b.onChange != nil {
		b.onChange(s)
	}
}

// count records a call in the tumbling window. Callers hold the lock.
func (b *Breaker) count(failed bool) {
	if b.rateWindow <= 0 {
		return
	}
	b.rollWindow()
	b.windowCalls++
	if failed {
		b.windowFailures++
	}
}

func (b *Breaker) rollWindow() {
	if b.rateWindow <= 0 {
		return
	}
	if b.now().Sub(b.windowStart) > b.rateWindow {
		b.windowStart = b.now()
		b.windowCalls = 0
		b.windowFailures = 0
	}
}

func (b *Breaker) rateExceeded() bool {
	if b.rateThreshold <= 0 || b.rateWindow <= 0 || b.windowCalls < minRateSamples {
		return false
	}
	return float64(b.windowFailures)/float64(b.windowCalls) >= b.rateThreshold
}
