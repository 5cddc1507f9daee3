// Package resilience provides endpoint failover for the voice service
// connection.
//
// [Breaker] is a three-state circuit breaker (closed → open → half-open) kept
// per service endpoint. [FailoverDialer] tries the configured endpoints in
// order and skips those whose breaker is open, so a dead primary is bypassed
// on reconnect without burning a retry on it every time.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cooldown
	// elapses.
	StateOpen

	// StateHalfOpen lets a single probe through. Its outcome closes or
	// re-opens the breaker.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Default breaker tuning.
const (
	DefaultMaxFailures = 3
	DefaultCooldown    = 30 * time.Second
)

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name labels the breaker in log messages, usually the endpoint URL.
	Name string

	// MaxFailures is the number of consecutive failures that open the
	// breaker. Default: [DefaultMaxFailures].
	MaxFailures int

	// Cooldown is how long the breaker stays open before it admits a probe.
	// Default: [DefaultCooldown].
	Cooldown time.Duration

	// Now overrides the clock. Default: time.Now.
	Now func() time.Time
}

// Breaker implements the circuit breaker pattern for one endpoint.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed [Breaker]. Zero-value config fields take their
// defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		now:         cfg.Now,
	}
}

// Do runs fn when the breaker admits the call and records its outcome. While
// open, and while a half-open probe is in flight, it returns [ErrCircuitOpen]
// without calling fn.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.record(probe, err)
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		slog.Info("endpoint breaker half-open", "endpoint", b.name)
		fallthrough
	case StateHalfOpen:
		if b.probing {
			return false, ErrCircuitOpen
		}
		b.probing = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
		if err != nil {
			b.state = StateOpen
			b.openedAt = b.now()
			slog.Warn("endpoint breaker re-opened", "endpoint", b.name, "err", err)
			return
		}
		b.state = StateClosed
		b.failures = 0
		slog.Info("endpoint breaker closed", "endpoint", b.name)
		return
	}

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.state == StateClosed && b.failures >= b.maxFailures {
		b.state = StateOpen
		b.openedAt = b.now()
		slog.Warn("endpoint breaker opened",
			"endpoint", b.name,
			"consecutive_failures", b.failures,
			"cooldown", b.cooldown,
		)
	}
}

// State returns the current state. An open breaker whose cooldown has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call to Do.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears its failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}
