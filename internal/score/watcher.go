// Package score keeps the safety score of the user's current position fresh.
package score

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/NagendraKandula/beacon/internal/ingest"
	"github.com/NagendraKandula/beacon/internal/location"
)

// DefaultInterval is the refresh cadence.
const DefaultInterval = 60 * time.Second

// Lookup rates a position. *ingest.Client implements it.
type Lookup interface {
	LookupDestinationScore(ctx context.Context, lat, lon float64) (*ingest.Score, error)
}

// Reading is the latest score and when it was taken.
type Reading struct {
	ingest.Score
	Lat, Lon float64
	At       time.Time
}

// Watcher refreshes the score on a fixed cadence until its context ends.
type Watcher struct {
	source   location.Source
	lookup   Lookup
	clock    clockwork.Clock
	interval time.Duration
	onUpdate func(Reading)

	mu     sync.Mutex
	latest Reading
	ok     bool
	err    error
}

// NewWatcher creates a Watcher. onUpdate, if non-nil, observes every
// successful refresh.
func NewWatcher(source location.Source, lookup Lookup, clock clockwork.Clock, interval time.Duration, onUpdate func(Reading)) *Watcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{source: source, lookup: lookup, clock: clock, interval: interval, onUpdate: onUpdate}
}

// Run refreshes immediately and then every interval. It blocks until ctx is
// done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	w.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			w.Refresh(ctx)
		}
	}
}

// Refresh takes one reading now.
func (w *Watcher) Refresh(ctx context.Context) {
	pos, err := w.source.CurrentPosition(ctx)
	if err != nil {
		w.fail(err)
		return
	}
	s, err := w.lookup.LookupDestinationScore(ctx, pos.Lat, pos.Lon)
	if err != nil {
		w.fail(err)
		return
	}

	r := Reading{Score: *s, Lat: pos.Lat, Lon: pos.Lon, At: w.clock.Now()}
	w.mu.Lock()
	w.latest, w.ok, w.err = r, true, nil
	w.mu.Unlock()
	if w.onUpdate != nil {
		w.onUpdate(r)
	}
}

func (w *Watcher) fail(err error) {
	log.Printf("score: refresh failed: %v", err)
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}

// Latest returns the last successful reading, if any, and the error of the
// most recent refresh.
func (w *Watcher) Latest() (Reading, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latest, w.ok, w.err
}
