package governance

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TestSessionLimiterMatchesReferenceModel drives the limiter with random
// interleavings of clock advances and requests, checking every decision
// against a straightforward reference model of the sliding window.
func TestSessionLimiterMatchesReferenceModel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxRequests := rapid.IntRange(1, 10).Draw(t, "maxRequests")
		window := time.Duration(rapid.IntRange(1, 120).Draw(t, "windowSecs")) * time.Second

		sl, clock := newTestLimiter(maxRequests, window)

		var admitted []time.Time
		steps := rapid.IntRange(1, 200).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			clock.Advance(time.Duration(rapid.IntRange(0, 30).Draw(t, "advanceSecs")) * time.Second)
			now := clock.Now()

			cutoff := now.Add(-window)
			live := admitted[:0]
			for _, ts := range admitted {
				if ts.After(cutoff) {
					live = append(live, ts)
				}
			}
			admitted = live

			wantAdmit := len(admitted) < maxRequests
			got := sl.Allow("s")
			if got != wantAdmit {
				t.Fatalf("step %d: Allow() = %v, reference model says %v (live=%d, max=%d)",
					i, got, wantAdmit, len(admitted), maxRequests)
			}
			if got {
				admitted = append(admitted, now)
			}
		}
	})
}
