// Package backoff wraps github.com/cenkalti/backoff/v4 with a reconnection
// policy (DefaultPolicy: 1s initial, 5s cap, factor 2, jitter 0.5; the
// Client builds its own from ClientConfig) behind the narrow surface the Client's reconnection state machine actually needs:
// Next() and Reset(). Picked because gate4ai-gate4ai/gateway already
// carries github.com/cenkalti/backoff/v4 in its module graph.
package backoff

import (
	"time"

	cenkaltibackoff "github.com/cenkalti/backoff/v4"
)

// Policy holds the fixed reconnection parameters.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
}

// DefaultPolicy returns the Client's frozen reconnection defaults.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 1000 * time.Millisecond,
		MaxInterval:     5000 * time.Millisecond,
		Multiplier:      2,
		Jitter:          0.5,
	}
}

// Backoff produces successive reconnection delays per Policy. It is not
// safe for concurrent use; the Client drives it from its single state-
// machine goroutine.
type Backoff struct {
	policy Policy
	eb     *cenkaltibackoff.ExponentialBackOff
}

// New builds a Backoff already primed to return its first interval.
func New(policy Policy) *Backoff {
	eb := cenkaltibackoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialInterval
	eb.MaxInterval = policy.MaxInterval
	eb.Multiplier = policy.Multiplier
	eb.RandomizationFactor = policy.Jitter
	eb.MaxElapsedTime = 0 // reconnectionAttempts is the only cap, not elapsed time
	eb.Reset()
	return &Backoff{policy: policy, eb: eb}
}

// Next returns the next sleep duration and advances the underlying
// exponential-backoff state, exactly like a direct NextBackOff() call.
func (b *Backoff) Next() time.Duration {
	d := b.eb.NextBackOff()
	if d == cenkaltibackoff.Stop {
		return b.policy.MaxInterval
	}
	return d
}

// Reset restores the sequence to its first interval, called on every
// successful reconnection.
func (b *Backoff) Reset() {
	b.eb.Reset()
}
