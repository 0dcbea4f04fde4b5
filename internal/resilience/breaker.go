// Package resilience guards fallible operations with a circuit breaker
// and a bounded retry policy.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrServiceUnavailable is returned immediately while the circuit is open.
	ErrServiceUnavailable = errors.New("resilience: circuit open, service unavailable")
	// ErrTimeout is returned when a guarded call exceeds its time bound.
	ErrTimeout = errors.New("resilience: operation timed out")
)

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Operation is a fallible call guarded by the breaker.
type Operation func(ctx context.Context) error

// StateChange observes breaker transitions.
type StateChange func(name string, from, to State)

// BreakerOptions tune a single breaker instance.
type BreakerOptions struct {
	// Timeout bounds every guarded call. Exceeding it counts as a failure.
	Timeout time.Duration
	// ErrorThresholdPercentage trips the breaker when the rolling error
	// rate meets or exceeds it.
	ErrorThresholdPercentage int
	// VolumeThreshold is the minimum number of calls in the rolling
	// window before the percentage can trip the breaker.
	VolumeThreshold int
	// ResetTimeout is how long the breaker stays open before allowing
	// a single trial call.
	ResetTimeout time.Duration
	// RollingWindow is the span of the failure-counting window,
	// divided into RollingBuckets buckets.
	RollingWindow  time.Duration
	RollingBuckets int
}

func (o BreakerOptions) withDefaults() BreakerOptions {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.ErrorThresholdPercentage <= 0 {
		o.ErrorThresholdPercentage = 50
	}
	if o.VolumeThreshold <= 0 {
		o.VolumeThreshold = 5
	}
	if o.ResetTimeout <= 0 {
		o.ResetTimeout = 30 * time.Second
	}
	if o.RollingWindow <= 0 {
		o.RollingWindow = 10 * time.Second
	}
	if o.RollingBuckets <= 0 {
		o.RollingBuckets = 10
	}
	return o
}

type bucket struct {
	successes int
	failures  int
}

// Breaker implements the closed / open / half-open circuit model with a
// rolling failure window. One Breaker guards exactly one logical
// operation and is never shared across operations.
type Breaker struct {
	name string
	opts BreakerOptions

	mu          sync.Mutex
	state       State
	openedAt    time.Time
	trialActive bool
	buckets     []bucket
	cursor      int
	rotatedAt   time.Time
	onChange    []StateChange
}

// NewBreaker creates a closed breaker for the named operation.
func NewBreaker(name string, opts BreakerOptions) *Breaker {
	opts = opts.withDefaults()
	return &Breaker{
		name:      name,
		opts:      opts,
		state:     StateClosed,
		buckets:   make([]bucket, opts.RollingBuckets),
		rotatedAt: time.Now(),
	}
}

// OnStateChange registers an observer for breaker transitions.
func (b *Breaker) OnStateChange(fn StateChange) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = append(b.onChange, fn)
}

// Name identifies the guarded operation.
func (b *Breaker) Name() string { return b.name }

// State reports the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs op under the breaker with the configured per-call timeout.
// While the circuit is open it fails fast with ErrServiceUnavailable
// without invoking op.
func (b *Breaker) Execute(ctx context.Context, op Operation) error {
	trial, err := b.allow()
	if err != nil {
		return err
	}

	err = b.run(ctx, op)
	b.record(trial, err)
	return err
}

func (b *Breaker) run(ctx context.Context, op Operation) error {
	callCtx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(callCtx)
	}()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return ErrTimeout
		}
		return err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTimeout
	}
}

// allow decides whether a call may proceed. The second return reports a
// half-open trial call, whose outcome alone decides the next state.
func (b *Breaker) allow() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.opts.ResetTimeout {
			return false, ErrServiceUnavailable
		}
		b.transition(StateHalfOpen)
		b.trialActive = true
		return true, nil
	case StateHalfOpen:
		if b.trialActive {
			return false, ErrServiceUnavailable
		}
		b.trialActive = true
		return true, nil
	default:
		return false, nil
	}
}

func (b *Breaker) record(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.trialActive = false
		if err != nil {
			b.openedAt = time.Now()
			b.transition(StateOpen)
			return
		}
		b.resetWindow()
		b.transition(StateClosed)
		return
	}

	if b.state != StateClosed {
		return
	}

	b.rotate()
	if err != nil {
		b.buckets[b.cursor].failures++
	} else {
		b.buckets[b.cursor].successes++
	}

	successes, failures := b.totals()
	total := successes + failures
	if total < b.opts.VolumeThreshold {
		return
	}
	if failures*100 >= total*b.opts.ErrorThresholdPercentage {
		b.openedAt = time.Now()
		b.transition(StateOpen)
	}
}

// rotate advances the bucket ring so counts older than the rolling
// window fall out.
func (b *Breaker) rotate() {
	span := b.opts.RollingWindow / time.Duration(b.opts.RollingBuckets)
	elapsed := time.Since(b.rotatedAt)
	steps := int(elapsed / span)
	if steps <= 0 {
		return
	}
	if steps >= len(b.buckets) {
		b.resetWindow()
		return
	}
	for i := 0; i < steps; i++ {
		b.cursor = (b.cursor + 1) % len(b.buckets)
		b.buckets[b.cursor] = bucket{}
	}
	b.rotatedAt = b.rotatedAt.Add(time.Duration(steps) * span)
}

func (b *Breaker) resetWindow() {
	for i := range b.buckets {
		b.buckets[i] = bucket{}
	}
	b.cursor = 0
	b.rotatedAt = time.Now()
}

func (b *Breaker) totals() (successes, failures int) {
	for _, bk := range b.buckets {
		successes += bk.successes
		failures += bk.failures
	}
	return successes, failures
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	for _, fn := range b.onChange {
		fn(b.name, from, to)
	}
}
