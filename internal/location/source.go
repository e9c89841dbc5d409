// Package location wraps the device positioning capability: a one-shot
// current-position read, a continuous subscription governed by a sampling
// policy, and the foreground/background authorization that gates both.
package location

import (
	"context"
	"errors"
	"time"

	"github.com/NagendraKandula/beacon/internal/geo"
)

// ErrPermissionDenied is returned when the user has not granted the
// positioning authorization an operation needs.
var ErrPermissionDenied = errors.New("location permission denied")

// Source is a positioning capability.
type Source interface {
	// CurrentPosition returns one fresh fix.
	CurrentPosition(ctx context.Context) (geo.Sample, error)

	// Subscribe delivers fixes to fn according to policy until the returned
	// Subscription is removed. fn is called from a single goroutine and must
	// not call Remove on its own subscription.
	Subscribe(policy Policy, fn func(geo.Sample)) (Subscription, error)
}

// Subscription is the handle for a live Subscribe call.
type Subscription interface {
	// Remove stops delivery. No callback runs after Remove returns.
	// Calling Remove more than once is a no-op.
	Remove() error
}

// Policy controls how often a subscription emits.
type Policy struct {
	Interval    time.Duration // minimum time between emissions
	MinDistance float64       // minimum displacement in meters between emissions
}

// Throttle applies a Policy to a stream of fixes. The zero value admits
// everything. Not safe for concurrent use.
type Throttle struct {
	Policy Policy

	last geo.Sample
	seen bool
}

// Admit reports whether s should be emitted and, if so, records it as the
// last emitted fix.
func (t *Throttle) Admit(s geo.Sample) bool {
	if t.seen {
		if t.Policy.Interval > 0 && s.CapturedAt.Sub(t.last.CapturedAt) < t.Policy.Interval {
			return false
		}
		if t.Policy.MinDistance > 0 && geo.Distance(t.last, s) < t.Policy.MinDistance {
			return false
		}
	}
	t.last = s
	t.seen = true
	return true
}

// Reset forgets the last emitted fix.
func (t *Throttle) Reset() {
	t.seen = false
}
