// Package notify delivers local, user-facing notifications: unsafe-location
// warnings from the telemetry channel and the prompts of the SOS flow.
package notify

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Kind classifies a notification.
type Kind string

const (
	KindAlert  Kind = "alert"  // system notification (unsafe location, SOS sent)
	KindPrompt Kind = "prompt" // blocking explanatory dialog
	KindError  Kind = "error"  // failure the user must see
)

// Notification is one local notification.
type Notification struct {
	Kind  Kind
	Title string
	Body  string
	At    time.Time
}

// Notifier delivers notifications. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// Func adapts a function to Notifier.
type Func func(Notification)

func (f Func) Notify(n Notification) { f(n) }

// Log writes notifications to the standard logger.
type Log struct{}

func (Log) Notify(n Notification) {
	log.Printf("[%s] %s: %s", n.Kind, n.Title, n.Body)
}

// Multi fans a notification out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(n Notification) {
	for _, nt := range m {
		nt.Notify(n)
	}
}

// Channel buffers notifications for a consumer such as the terminal UI.
// When the buffer is full the notification is dropped and counted, so a slow
// consumer never stalls the telemetry path.
type Channel struct {
	ch      chan Notification
	dropped atomic.Int64

	mu       sync.Mutex
	lastWarn time.Time
}

// NewChannel creates a Channel with the given buffer size.
func NewChannel(size int) *Channel {
	return &Channel{ch: make(chan Notification, size)}
}

func (c *Channel) Notify(n Notification) {
	select {
	case c.ch <- n:
	default:
		total := c.dropped.Add(1)
		c.mu.Lock()
		if c.lastWarn.IsZero() || time.Since(c.lastWarn) >= 10*time.Second {
			log.Printf("notifications dropped: %d (consumer too slow)", total)
			c.lastWarn = time.Now()
		}
		c.mu.Unlock()
	}
}

// C returns the receive side of the buffer.
func (c *Channel) C() <-chan Notification {
	return c.ch
}

// Dropped returns the number of notifications dropped so far.
func (c *Channel) Dropped() int64 {
	return c.dropped.Load()
}
