package backoff

import (
	"testing"
	"time"
)

func TestNextStaysWithinBounds(t *testing.T) {
	b := New(DefaultPolicy())
	for i := 0; i < 20; i++ {
		d := b.Next()
		if d <= 0 {
			t.Fatalf("Next() = %v, want > 0", d)
		}
		// RandomizationFactor widens the window on both sides of the
		// current interval; MaxInterval plus its own jitter window is
		// the only hard ceiling cenkalti/backoff enforces.
		if d > 2*DefaultPolicy().MaxInterval {
			t.Fatalf("Next() = %v, want <= %v", d, 2*DefaultPolicy().MaxInterval)
		}
	}
}

func TestNextGrows(t *testing.T) {
	b := New(Policy{InitialInterval: 10 * time.Millisecond, MaxInterval: time.Second, Multiplier: 2, Jitter: 0})
	first := b.Next()
	second := b.Next()
	if second <= first {
		t.Errorf("second = %v, want > first = %v", second, first)
	}
}

func TestResetRestartsSequence(t *testing.T) {
	b := New(Policy{InitialInterval: 10 * time.Millisecond, MaxInterval: time.Second, Multiplier: 2, Jitter: 0})
	first := b.Next()
	b.Next()
	b.Next()
	b.Reset()
	afterReset := b.Next()
	if afterReset != first {
		t.Errorf("afterReset = %v, want %v (same as first)", afterReset, first)
	}
}
