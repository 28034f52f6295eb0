// Package resilience guards calls to unreliable dependencies, such as the
// structured term store, with a three-state circuit breaker and a per-call
// timeout.
//
// A [Breaker] starts closed. After MaxFailures consecutive failures it opens
// and rejects calls with [ErrCircuitOpen] until ResetTimeout has elapsed,
// then lets up to HalfOpenMax trial calls through. Enough successful trials
// close it again; any failed trial re-opens it.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] when the breaker is open and the
// reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen].
	StateOpen

	// StateHalfOpen lets a limited number of trial calls through.
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

// Config holds tuning knobs for a [Breaker].
type Config struct {
	// Name labels log messages.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of trial calls allowed while half-open.
	// Default: 1.
	HalfOpenMax int

	// CallTimeout bounds every call made through [Breaker.Do]. A call that
	// exceeds it counts as a failure. Zero disables the timeout.
	CallTimeout time.Duration

	// OnStateChange is called, without the breaker lock held, after every
	// state transition.
	OnStateChange func(name string, from, to State)
}

// Breaker implements the three-state circuit breaker pattern.
type Breaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	callTimeout   time.Duration
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	trials          int
	trialSuccesses  int
}

// New creates a [Breaker]. Zero-value config fields are replaced with
// defaults.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &Breaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		callTimeout:   cfg.CallTimeout,
		onStateChange: cfg.OnStateChange,
		now:           time.Now,
		state:         StateClosed,
	}
}

// Do runs fn if the breaker allows it, passing a context bounded by the
// configured call timeout. It returns [ErrCircuitOpen] without calling fn
// while the breaker is open.
//
// Cancellation of the parent ctx is not held against the dependency: such a
// failure is returned but does not count towards opening the breaker.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}

	callCtx := ctx
	if b.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
	}

	err = fn(callCtx)
	if err != nil && ctx.Err() != nil {
		b.release(trial)
		return err
	}
	b.record(trial, err)
	return err
}

// admit decides whether a call may proceed and reports whether it is a
// half-open trial.
func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	var changed bool
	from := b.state
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.trials = 0
		b.trialSuccesses = 0
		changed = true
		fallthrough
	case StateHalfOpen:
		if b.trials >= b.halfOpenMax {
			b.mu.Unlock()
			b.notify(changed, from, StateHalfOpen)
			return false, ErrCircuitOpen
		}
		b.trials++
		trial = true
	}
	to := b.state
	b.mu.Unlock()
	b.notify(changed, from, to)
	return trial, nil
}

// release returns an unused trial slot.
func (b *Breaker) release(trial bool) {
	if !trial {
		return
	}
	b.mu.Lock()
	if b.state == StateHalfOpen && b.trials > 0 {
		b.trials--
	}
	b.mu.Unlock()
}

func (b *Breaker) record(trial bool, err error) {
	b.mu.Lock()
	from := b.state
	switch {
	case err != nil && trial:
		b.open()
		slog.Warn("circuit breaker re-opened by failed trial", "name", b.name, "err", err)
	case err != nil:
		b.consecutiveFail++
		if b.state == StateClosed && b.consecutiveFail >= b.maxFailures {
			b.open()
			slog.Warn("circuit breaker opened", "name", b.name,
				"consecutive_failures", b.consecutiveFail, "err", err)
		}
	case trial:
		b.trialSuccesses++
		if b.state == StateHalfOpen && b.trialSuccesses >= b.halfOpenMax {
			b.state = StateClosed
			b.consecutiveFail = 0
			slog.Info("circuit breaker closed after successful trials", "name", b.name)
		}
	default:
		b.consecutiveFail = 0
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from != to, from, to)
}

// open trips the breaker. Must be called with b.mu held.
func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.consecutiveFail = b.maxFailures
}

func (b *Breaker) notify(changed bool, from, to State) {
	if changed && b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}

// State returns the current [State]. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [StateClosed].
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.consecutiveFail = 0
	b.trials = 0
	b.trialSuccesses = 0
	b.mu.Unlock()
	b.notify(from != StateClosed, from, StateClosed)
	slog.Info("circuit breaker manually reset", "name", b.name)
}
