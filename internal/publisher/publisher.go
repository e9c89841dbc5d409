// Package publisher ties the foreground location stream, the telemetry
// channel and the background scheduler to one session. It is driven by the
// screen lifecycle: Mount or Start when it appears, Stop when it goes away.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NagendraKandula/beacon/internal/geo"
	"github.com/NagendraKandula/beacon/internal/location"
	"github.com/NagendraKandula/beacon/internal/notify"
	"github.com/NagendraKandula/beacon/internal/scheduler"
	"github.com/NagendraKandula/beacon/internal/transport"
	"github.com/NagendraKandula/beacon/internal/trip"
)

// ErrIdentityMissing is returned by Start and Mount without a session id or
// server URL.
var ErrIdentityMissing = errors.New("publisher: session id or server url missing")

// ForegroundPolicy is the sampling policy of the live stream.
var ForegroundPolicy = location.Policy{Interval: 5 * time.Second, MinDistance: 5}

// Transport is the telemetry channel. *transport.Client implements it.
type Transport interface {
	Open(endpoint string) error
	Send(s geo.Sample, sessionID string) error
	Close() error
}

// Scheduler is the background delivery task. *scheduler.Scheduler
// implements it.
type Scheduler interface {
	Arm(ctx context.Context, args scheduler.ArmOptions) error
	Disarm()
}

// Options wires a Publisher.
type Options struct {
	Source      location.Source
	Permissions location.Permissions
	Transport   Transport
	Scheduler   Scheduler
	Policy      location.Policy     // zero selects ForegroundPolicy
	Background  scheduler.ArmOptions // SessionID is filled in by Start

	// Notifier receives the prompt shown when publishing cannot start for
	// lack of identity or permission. Nil selects notify.Log.
	Notifier notify.Notifier
}

// Publisher is safe for concurrent use.
type Publisher struct {
	opts Options

	opMu sync.Mutex // serialises Start and Stop

	mu        sync.Mutex
	running   bool
	sessionID string
	serverURL string
	gen       uint64
	sub       location.Subscription

	forwarded atomic.Uint64
}

// New creates a stopped Publisher.
func New(opts Options) *Publisher {
	if opts.Policy == (location.Policy{}) {
		opts.Policy = ForegroundPolicy
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Log{}
	}
	return &Publisher{opts: opts}
}

// Mount resolves the active session and starts publishing for it.
func (p *Publisher) Mount(ctx context.Context, resolver trip.Resolver, serverURL string) error {
	id, err := resolver.ActiveSessionID(ctx)
	if err != nil {
		log.Printf("publisher: no active session: %v", err)
		err = fmt.Errorf("%w: %w", ErrIdentityMissing, err)
		p.explain(err)
		return err
	}
	return p.Start(ctx, id, serverURL)
}

// Start begins publishing for sessionID to the monitoring service at
// serverURL. Calling it again with the same arguments is a no-op; different
// arguments stop the current session first.
func (p *Publisher) Start(ctx context.Context, sessionID, serverURL string) error {
	if sessionID == "" || serverURL == "" {
		log.Printf("publisher: not starting, session id or server url missing")
		p.explain(ErrIdentityMissing)
		return ErrIdentityMissing
	}

	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	same := p.running && p.sessionID == sessionID && p.serverURL == serverURL
	running := p.running
	p.mu.Unlock()
	if same {
		return nil
	}
	if running {
		if err := p.stopLocked(); err != nil {
			log.Printf("publisher: stopping previous session: %v", err)
		}
	}

	if err := location.RequireForeground(ctx, p.opts.Permissions); err != nil {
		p.explain(err)
		return err
	}
	endpoint, err := transport.StreamURL(serverURL)
	if err != nil {
		return err
	}
	if err := p.opts.Transport.Open(endpoint); err != nil {
		return fmt.Errorf("opening telemetry channel: %w", err)
	}

	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.sessionID = sessionID
	p.serverURL = serverURL
	p.mu.Unlock()

	sub, err := p.opts.Source.Subscribe(p.opts.Policy, func(s geo.Sample) { p.forward(gen, s) })
	if err != nil {
		p.stopLocked()
		return fmt.Errorf("subscribing to location: %w", err)
	}

	p.mu.Lock()
	p.sub = sub
	p.running = true
	p.mu.Unlock()

	args := p.opts.Background
	args.SessionID = sessionID
	if err := p.opts.Scheduler.Arm(ctx, args); err != nil {
		log.Printf("publisher: background delivery not armed: %v", err)
	}

	log.Printf("publisher: streaming %s to %s", sessionID, endpoint)
	return nil
}

// explain prompts the user when err is one they can act on.
func (p *Publisher) explain(err error) {
	var body string
	switch {
	case errors.Is(err, ErrIdentityMissing):
		body = "Could not verify tourist ID."
	case errors.Is(err, location.ErrPermissionDenied):
		body = "Location permission is required to share your location."
	default:
		return
	}
	p.opts.Notifier.Notify(notify.Notification{
		Kind:  notify.KindPrompt,
		Title: "Location Sharing Off",
		Body:  body,
		At:    time.Now(),
	})
}

// Stop tears down the subscription, the channel and the scheduler. Every step
// runs even if an earlier one fails; the failures are joined. Stop is safe to
// call before Start and more than once.
func (p *Publisher) Stop() error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.stopLocked()
}

func (p *Publisher) stopLocked() error {
	p.mu.Lock()
	p.gen++
	sub := p.sub
	wasRunning := p.running
	p.sub = nil
	p.running = false
	p.sessionID = ""
	p.serverURL = ""
	p.mu.Unlock()

	var errs []error
	if sub != nil {
		errs = append(errs, isolate("remove subscription", sub.Remove))
	}
	errs = append(errs,
		isolate("close transport", p.opts.Transport.Close),
		isolate("disarm scheduler", func() error {
			p.opts.Scheduler.Disarm()
			return nil
		}),
	)

	if wasRunning {
		log.Printf("publisher: stopped")
	}
	return errors.Join(errs...)
}

// Running reports whether a session is being published and which.
func (p *Publisher) Running() (sessionID string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID, p.running
}

// Forwarded returns the number of samples handed to the transport.
func (p *Publisher) Forwarded() uint64 {
	return p.forwarded.Load()
}

func (p *Publisher) forward(gen uint64, s geo.Sample) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	sessionID := p.sessionID
	p.mu.Unlock()

	p.forwarded.Add(1)
	if err := p.opts.Transport.Send(s, sessionID); err != nil && !errors.Is(err, transport.ErrNotOpen) {
		log.Printf("publisher: sample dropped: %v", err)
	}
}

func isolate(step string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", step, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	return nil
}
