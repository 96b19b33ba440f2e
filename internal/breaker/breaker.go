// Package breaker implements a circuit breaker as an explicit
// CLOSED -> OPEN -> HALF_OPEN state machine with an injectable clock, so the
// timing logic is testable without real sleeps.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned without invoking the wrapped call while the breaker is
// open. It is the typed "service unavailable" result callers branch on.
var ErrOpen = errors.New("circuit open: service unavailable")

// State is the breaker's position in its lifecycle.
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

// Settings tunes one breaker instance.
type Settings struct {
	// Timeout bounds each wrapped call.
	Timeout time.Duration
	// ErrorThresholdPct is the failure percentage of the recent window that
	// trips the breaker.
	ErrorThresholdPct int
	// MinRequests is the minimum window fill before a trip decision is made.
	MinRequests int
	// WindowSize caps the recent-outcome window.
	WindowSize int
	// ResetTimeout is the cooldown before a half-open trial is allowed.
	ResetTimeout time.Duration
}

// Breaker wraps one external dependency. Instances are shared process-wide
// across all concurrently running jobs for the same provider.
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time

	mu            sync.Mutex
	state         State
	window        []bool // true = failure
	openedAt      time.Time
	trialInFlight bool
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithClock injects a clock for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New builds a breaker for a named dependency.
func New(name string, settings Settings, opts ...Option) *Breaker {
	if settings.WindowSize <= 0 {
		settings.WindowSize = 10
	}
	if settings.MinRequests <= 0 {
		settings.MinRequests = settings.WindowSize / 2
	}
	if settings.ErrorThresholdPct <= 0 {
		settings.ErrorThresholdPct = 50
	}
	b := &Breaker{
		name:     name,
		settings: settings,
		now:      time.Now,
		state:    StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the wrapped dependency's identifier.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, advancing OPEN to HALF_OPEN when the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentLocked()
}

func (b *Breaker) currentLocked() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.settings.ResetTimeout {
		b.state = StateHalfOpen
		b.trialInFlight = false
	}
	return b.state
}

// Do runs fn through the breaker. When the breaker is open it short-circuits
// with ErrOpen; in half-open exactly one trial call is admitted.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	switch b.currentLocked() {
	case StateOpen:
		b.mu.Unlock()
		return fmt.Errorf("%s: %w", b.name, ErrOpen)
	case StateHalfOpen:
		if b.trialInFlight {
			b.mu.Unlock()
			return fmt.Errorf("%s: %w", b.name, ErrOpen)
		}
		b.trialInFlight = true
	}
	b.mu.Unlock()

	callCtx := ctx
	var cancel context.CancelFunc
	if b.settings.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.settings.Timeout)
		defer cancel()
	}

	err := fn(callCtx)
	b.record(err != nil)
	return err
}

func (b *Breaker) record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.trialInFlight = false
		if failed {
			b.state = StateOpen
			b.openedAt = b.now()
		} else {
			b.state = StateClosed
			b.window = b.window[:0]
		}
	case StateClosed:
		b.window = append(b.window, failed)
		if len(b.window) > b.settings.WindowSize {
			b.window = b.window[len(b.window)-b.settings.WindowSize:]
		}
		if b.shouldTripLocked() {
			b.state = StateOpen
			b.openedAt = b.now()
			b.window = b.window[:0]
		}
	case StateOpen:
		// A call admitted just before the trip finished late; its outcome no
		// longer matters.
	}
}

func (b *Breaker) shouldTripLocked() bool {
	if len(b.window) < b.settings.MinRequests {
		return false
	}
	failures := 0
	for _, failed := range b.window {
		if failed {
			failures++
		}
	}
	pct := failures * 100 / len(b.window)
	return pct >= b.settings.ErrorThresholdPct
}

// Registry hands out one shared breaker per dependency name.
type Registry struct {
	mu       sync.Mutex
	settings Settings
	breakers map[string]*Breaker
	opts     []Option
}

// NewRegistry builds a registry applying the same settings to every breaker.
func NewRegistry(settings Settings, opts ...Option) *Registry {
	return &Registry{
		settings: settings,
		breakers: map[string]*Breaker{},
		opts:     opts,
	}
}

// Get returns the breaker for a dependency, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, r.settings, r.opts...)
	r.breakers[name] = b
	return b
}
