package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryOptions tune the retry policy wrapped around a breaker call.
type RetryOptions struct {
	// Retries is the number of additional attempts after the first call.
	Retries uint64
	// MinTimeout is the base backoff delay, doubled each attempt.
	MinTimeout time.Duration
	// MaxTimeout caps the backoff delay.
	MaxTimeout time.Duration
	// Randomize jitters each delay to avoid retry alignment.
	Randomize bool
	// NonRetryable lists sentinel errors that must surface immediately
	// instead of consuming retry attempts.
	NonRetryable []error
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.Retries == 0 {
		o.Retries = 3
	}
	if o.MinTimeout <= 0 {
		o.MinTimeout = time.Second
	}
	if o.MaxTimeout <= 0 {
		o.MaxTimeout = 5 * time.Second
	}
	return o
}

// DefaultRetry mirrors the stock policy: 3 retries, exponential backoff
// between 1s and 5s, jittered.
func DefaultRetry() RetryOptions {
	return RetryOptions{Randomize: true}.withDefaults()
}

// Caller combines a circuit breaker with an outer retry policy. The
// breaker answers "is the downstream healthy"; the retry policy answers
// "should this one call be attempted again". An open breaker fails fast,
// so retry attempts against it cost no downstream work.
type Caller struct {
	breaker *Breaker
	opts    RetryOptions
}

// NewCaller builds a Caller owning the given breaker.
func NewCaller(breaker *Breaker, opts RetryOptions) *Caller {
	return &Caller{breaker: breaker, opts: opts.withDefaults()}
}

// Breaker exposes the guarded operation's breaker for observation.
func (c *Caller) Breaker() *Breaker { return c.breaker }

// Do runs op through the breaker, retrying transient failures with
// exponential backoff. Exhausting retries surfaces the last error.
func (c *Caller) Do(ctx context.Context, op Operation) error {
	backoff := retry.NewExponential(c.opts.MinTimeout)
	backoff = retry.WithCappedDuration(c.opts.MaxTimeout, backoff)
	if c.opts.Randomize {
		backoff = retry.WithJitterPercent(50, backoff)
	}
	backoff = retry.WithMaxRetries(c.opts.Retries, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.breaker.Execute(ctx, op)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		for _, sentinel := range c.opts.NonRetryable {
			if errors.Is(err, sentinel) {
				return err
			}
		}
		return retry.RetryableError(err)
	})
}
