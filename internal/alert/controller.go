// Package alert implements the SOS button: a first press asks for
// confirmation, a second press inside the confirmation window submits an
// emergency record for the active session at the current position.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/NagendraKandula/beacon/internal/emergency"
	"github.com/NagendraKandula/beacon/internal/location"
	"github.com/NagendraKandula/beacon/internal/notify"
	"github.com/NagendraKandula/beacon/internal/trip"
)

// DefaultWindow is how long a first press stays armed.
const DefaultWindow = 30 * time.Second

var (
	// ErrIdentityMissing means no active session could be resolved.
	ErrIdentityMissing = errors.New("could not verify tourist id")

	// ErrSubmission means the emergency sink rejected the record.
	ErrSubmission = errors.New("failed to send sos signal")
)

// Phase is the controller's state.
type Phase int

const (
	Idle Phase = iota
	Armed
	Submitting
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Submitting:
		return "submitting"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Outcome classifies what a press did.
type Outcome int

const (
	// Prompted: the press armed the controller and asked for confirmation.
	Prompted Outcome = iota
	// Sent: the press confirmed and the record was stored.
	Sent
	// Failed: the press confirmed but the submission failed.
	Failed
	// Suppressed: the press was ignored because a submission for the same
	// burst is in flight or already succeeded.
	Suppressed
)

// Result reports one press.
type Result struct {
	Outcome Outcome
	Key     string // generated key when Outcome is Sent
	Err     error  // cause when Outcome is Failed
}

// Options wires a Controller to its collaborators.
type Options struct {
	Window      time.Duration
	Resolver    trip.Resolver
	Source      location.Source
	Permissions location.Permissions
	Sink        emergency.Sink
	Notifier    notify.Notifier
	Clock       clockwork.Clock
}

// Controller is the SOS state machine. It is safe for concurrent use.
type Controller struct {
	opts Options

	mu         sync.Mutex
	phase      Phase
	deadline   time.Time
	timer      clockwork.Timer
	seq        uint64
	quietUntil time.Time

	sent   atomic.Uint64
	failed atomic.Uint64
}

// New creates an idle Controller.
func New(opts Options) *Controller {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Log{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Controller{opts: opts}
}

// Phase returns the current state.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Deadline returns the confirmation deadline while Armed.
func (c *Controller) Deadline() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline, c.phase == Armed
}

// Counts returns the number of successful and failed submissions.
func (c *Controller) Counts() (sent, failed uint64) {
	return c.sent.Load(), c.failed.Load()
}

// Press handles one activation of the SOS button.
func (c *Controller) Press(ctx context.Context) Result {
	c.mu.Lock()
	now := c.opts.Clock.Now()

	if c.phase == Submitting || now.Before(c.quietUntil) {
		c.mu.Unlock()
		return Result{Outcome: Suppressed}
	}

	if c.phase == Armed && now.Before(c.deadline) {
		burst := c.deadline
		c.stopTimerLocked()
		c.phase = Submitting
		c.mu.Unlock()

		key, err := c.submit(ctx)

		c.mu.Lock()
		c.phase = Idle
		c.deadline = time.Time{}
		if err == nil {
			c.quietUntil = burst
		}
		c.mu.Unlock()

		if err != nil {
			c.failed.Add(1)
			log.Printf("sos: submission failed: %v", err)
			c.prompt(notify.KindError, "Error", failureMessage(err))
			return Result{Outcome: Failed, Err: err}
		}
		c.sent.Add(1)
		log.Printf("sos: record %s stored", key)
		c.prompt(notify.KindPrompt, "SOS Sent", "Your emergency signal has been sent to the authorities.")
		c.prompt(notify.KindAlert, "SOS Sent!", "Your emergency signal has been sent to the authorities.")
		return Result{Outcome: Sent, Key: key}
	}

	// Idle, or Armed with the deadline reached: a fresh first press.
	c.stopTimerLocked()
	c.phase = Armed
	c.deadline = now.Add(c.opts.Window)
	seq := c.seq
	c.timer = c.opts.Clock.AfterFunc(c.opts.Window, func() { c.expire(seq) })
	c.mu.Unlock()

	c.prompt(notify.KindPrompt, "Confirm SOS",
		fmt.Sprintf("Press again within %d seconds to send SOS.", int(c.opts.Window/time.Second)))
	return Result{Outcome: Prompted}
}

// Reset returns to Idle and cancels the confirmation timer, e.g. when the
// screen hosting the button goes away.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
	if c.phase == Armed {
		c.phase = Idle
		c.deadline = time.Time{}
	}
}

func (c *Controller) expire(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.seq || c.phase != Armed {
		return
	}
	c.timer = nil
	c.phase = Idle
	c.deadline = time.Time{}
}

func (c *Controller) stopTimerLocked() {
	c.seq++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) submit(ctx context.Context) (string, error) {
	id, err := c.opts.Resolver.ActiveSessionID(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrIdentityMissing, err)
	}
	if id == "" {
		return "", ErrIdentityMissing
	}

	if err := location.RequireForeground(ctx, c.opts.Permissions); err != nil {
		return "", err
	}
	pos, err := c.opts.Source.CurrentPosition(ctx)
	if err != nil {
		return "", fmt.Errorf("current position: %w", err)
	}

	key, err := c.opts.Sink.Push(ctx, emergency.NewRecord(id, pos, c.opts.Clock.Now()))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubmission, err)
	}
	return key, nil
}

func (c *Controller) prompt(kind notify.Kind, title, body string) {
	c.opts.Notifier.Notify(notify.Notification{Kind: kind, Title: title, Body: body, At: c.opts.Clock.Now()})
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, ErrIdentityMissing):
		return "Could not verify tourist ID."
	case errors.Is(err, location.ErrPermissionDenied):
		return "Location permission is required to send SOS."
	default:
		return "Failed to send SOS signal."
	}
}
