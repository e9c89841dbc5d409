// Package scheduler delivers position fixes while the app is not in use. Each
// wake takes one fix and posts it to the ingestion endpoint; failed deliveries
// are logged and forgotten.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/NagendraKandula/beacon/internal/geo"
	"github.com/NagendraKandula/beacon/internal/ingest"
	"github.com/NagendraKandula/beacon/internal/location"
)

// DefaultInterval is the background cadence.
const DefaultInterval = 30 * time.Second

// ErrNoSession is returned by Arm without a session id.
var ErrNoSession = errors.New("scheduler: no session id")

// Deliverer posts one fix. *ingest.Client implements it.
type Deliverer interface {
	PostLocation(ctx context.Context, r ingest.Report) (*ingest.LocationResponse, error)
}

// Options wires a Scheduler to its collaborators.
type Options struct {
	Source      location.Source
	Permissions location.Permissions
	Deliverer   Deliverer
	Clock       clockwork.Clock
}

// ArmOptions selects what a wake delivers and how often.
type ArmOptions struct {
	SessionID   string
	Interval    time.Duration
	MinDistance float64 // meters; fixes closer than this to the last delivered one are skipped
}

// Stats counts wake outcomes.
type Stats struct {
	Wakes     uint64
	Delivered uint64
	Skipped   uint64
	Failed    uint64
}

// Scheduler is the background delivery task. It is safe for concurrent use.
type Scheduler struct {
	opts Options

	mu       sync.Mutex
	armed    bool
	degraded bool
	args     ArmOptions
	gen      uint64
	cancel   context.CancelFunc
	runCtx   context.Context

	wakeMu  sync.Mutex // one wake at a time; guards last and lastGen
	last    geo.Sample
	lastGen uint64 // gen of the arm that delivered last; zero means none

	wakes     atomic.Uint64
	delivered atomic.Uint64
	skipped   atomic.Uint64
	failed    atomic.Uint64
}

// New creates a disarmed Scheduler.
func New(opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Scheduler{opts: opts}
}

// Arm requests authorization and starts periodic delivery. Denied foreground
// authorization returns location.ErrPermissionDenied without asking for
// background authorization. Denied background authorization leaves the
// scheduler disarmed and degraded; Arm then returns nil. Re-arming with the
// same options is a no-op.
func (s *Scheduler) Arm(ctx context.Context, args ArmOptions) error {
	if args.SessionID == "" {
		return ErrNoSession
	}
	if args.Interval <= 0 {
		args.Interval = DefaultInterval
	}

	s.mu.Lock()
	if s.armed && s.args == args {
		s.mu.Unlock()
		return nil
	}
	gen := s.gen
	s.mu.Unlock()

	if err := location.RequireForeground(ctx, s.opts.Permissions); err != nil {
		return err
	}
	bg, err := s.opts.Permissions.RequestBackground(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		// Disarmed or re-armed while authorization was pending.
		return nil
	}
	s.disarmLocked()
	if !bg {
		log.Printf("scheduler: background location denied, periodic delivery disabled")
		s.degraded = true
		return nil
	}

	s.armed = true
	s.args = args
	s.runCtx, s.cancel = context.WithCancel(context.Background())
	go s.loop(s.runCtx, s.gen, args.Interval)

	log.Printf("scheduler: armed for %s every %v", args.SessionID, args.Interval)
	return nil
}

// Disarm stops periodic delivery and cancels an in-flight delivery without
// waiting for it. It is idempotent and safe on a scheduler never armed.
func (s *Scheduler) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed {
		log.Printf("scheduler: disarmed")
	}
	s.disarmLocked()
}

func (s *Scheduler) disarmLocked() {
	s.gen++
	s.armed = false
	s.degraded = false
	s.args = ArmOptions{}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.runCtx = nil
}

// Armed reports whether periodic delivery is active.
func (s *Scheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// Degraded reports whether the last Arm was refused background authorization.
func (s *Scheduler) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Stats returns wake counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Wakes:     s.wakes.Load(),
		Delivered: s.delivered.Load(),
		Skipped:   s.skipped.Load(),
		Failed:    s.failed.Load(),
	}
}

func (s *Scheduler) loop(ctx context.Context, gen uint64, interval time.Duration) {
	ticker := s.opts.Clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.wake(ctx, gen)
		}
	}
}

// Wake performs one delivery now. It is a no-op unless armed. Wakes are
// serialised; delivery failures are logged, not returned.
func (s *Scheduler) Wake(ctx context.Context) {
	s.mu.Lock()
	if !s.armed {
		s.mu.Unlock()
		return
	}
	runCtx, gen := s.runCtx, s.gen
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()

	s.wake(ctx, gen)
}

// live returns the armed options if gen is still current.
func (s *Scheduler) live(gen uint64) (ArmOptions, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.args, s.armed && gen == s.gen
}

func (s *Scheduler) wake(ctx context.Context, gen uint64) {
	s.wakeMu.Lock()
	defer s.wakeMu.Unlock()

	args, ok := s.live(gen)
	if !ok {
		return
	}
	s.wakes.Add(1)

	sample, err := s.opts.Source.CurrentPosition(ctx)
	if err != nil {
		s.failed.Add(1)
		log.Printf("scheduler: no fix: %v", err)
		return
	}
	if err := sample.Validate(); err != nil {
		s.failed.Add(1)
		log.Printf("scheduler: discarding invalid fix %s: %v", sample, err)
		return
	}
	if s.lastGen == gen && args.MinDistance > 0 && geo.Distance(s.last, sample) < args.MinDistance {
		s.skipped.Add(1)
		return
	}

	if _, ok := s.live(gen); !ok {
		return
	}
	resp, err := s.opts.Deliverer.PostLocation(ctx, ingest.NewReport(sample, args.SessionID))
	if err != nil {
		s.failed.Add(1)
		log.Printf("scheduler: delivery failed: %v", err)
		return
	}
	s.delivered.Add(1)
	s.last, s.lastGen = sample, gen

	if resp != nil && len(resp.Anomalies) > 0 {
		log.Printf("scheduler: anomalies for %s: %v", args.SessionID, resp.Anomalies)
	}
}
