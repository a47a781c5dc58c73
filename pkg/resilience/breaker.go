// Package resilience guards calls to external providers with a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed   State = iota // calls pass
	StateOpen                  // calls rejected until the cool-down ends
	StateHalfOpen              // a limited number of probes pass
)

var stateNames = [...]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrCircuitOpen is returned without contacting the provider while the
// breaker is open or its probe slots are taken.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures a Breaker. Zero fields take DefaultBreakerOpts.
type BreakerOpts struct {
	// FailThreshold consecutive counted failures open the breaker.
	FailThreshold int
	// Timeout is the cool-down before probes are let through.
	Timeout time.Duration
	// HalfOpenMax probes may be in flight while half-open.
	HalfOpenMax int
	// Counts reports whether err is the provider's fault. Nil counts every
	// error; errors it rejects pass through and reset nothing.
	Counts func(error) bool
}

// DefaultBreakerOpts opens after 5 failures for 30 seconds.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	opts BreakerOpts
	now  func() time.Time

	mu       sync.Mutex
	state    State
	streak   int
	reopenAt time.Time
	probes   int
	onChange func(from, to State)
}

// NewBreaker returns a closed breaker.
func NewBreaker(opts BreakerOpts) *Breaker {
	def := DefaultBreakerOpts
	opts.FailThreshold = positive(opts.FailThreshold, def.FailThreshold)
	opts.Timeout = positive(opts.Timeout, def.Timeout)
	opts.HalfOpenMax = positive(opts.HalfOpenMax, def.HalfOpenMax)
	return &Breaker{opts: opts, now: time.Now}
}

func positive[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// OnStateChange sets a callback for transitions. It runs with the breaker
// locked and must not call back into it.
func (b *Breaker) OnStateChange(f func(from, to State)) {
	b.mu.Lock()
	b.onChange = f
	b.mu.Unlock()
}

// State reports the current state, moving an expired open breaker to
// half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expire()
	return b.state
}

// Call runs f unless the breaker rejects it, then records the outcome.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := f(ctx)
	b.record(err)
	return err
}

// Do is Call for functions that return a value.
func Do[T any](ctx context.Context, b *Breaker, f func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = f(ctx)
		return err
	})
	return out, err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expire()
	switch b.state {
	case StateOpen:
		return fmt.Errorf("%w: retry in %s", ErrCircuitOpen, b.reopenAt.Sub(b.now()).Round(time.Second))
	case StateHalfOpen:
		if b.probes >= b.opts.HalfOpenMax {
			return fmt.Errorf("%w: probe in flight", ErrCircuitOpen)
		}
		b.probes++
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.probes > 0 {
		b.probes--
	}
	if err != nil && b.opts.Counts != nil && !b.opts.Counts(err) {
		return
	}
	if err == nil {
		b.streak = 0
		b.moveTo(StateClosed)
		return
	}
	b.streak++
	if b.state == StateHalfOpen || b.streak >= b.opts.FailThreshold {
		b.streak = 0
		b.reopenAt = b.now().Add(b.opts.Timeout)
		b.moveTo(StateOpen)
	}
}

// expire must be called with mu held.
func (b *Breaker) expire() {
	if b.state == StateOpen && !b.now().Before(b.reopenAt) {
		b.probes = 0
		b.moveTo(StateHalfOpen)
	}
}

func (b *Breaker) moveTo(s State) {
	if b.state == s {
		return
	}
	from := b.state
	b.state = s
	if b.onChange != nil {
		b.onChange(from, s)
	}
}
