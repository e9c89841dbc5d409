package devserver

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/NagendraKandula/beacon/internal/emergency"
)

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

// Broadcaster fans tourist fixes and emergencies out to feed observers.
// Fixes are batched for the throttle interval; a full snapshot goes out on
// connect and every snapshot interval.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	maxConns int

	store       *Store
	emergencies *emergency.Memory
	clock       clockwork.Clock
	throttle    time.Duration

	flushMu    sync.Mutex
	pending    []FixPayload
	flushTimer clockwork.Timer

	snapshotTicker clockwork.Ticker
	stop           chan struct{}
	stopOnce       sync.Once
}

// NewBroadcaster starts the snapshot loop. maxConns of zero means unlimited.
func NewBroadcaster(store *Store, emergencies *emergency.Memory, clock clockwork.Clock, throttle, snapshotInterval time.Duration, maxConns int) *Broadcaster {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	b := &Broadcaster{
		clients:        make(map[*client]bool),
		maxConns:       maxConns,
		store:          store,
		emergencies:    emergencies,
		clock:          clock,
		throttle:       throttle,
		snapshotTicker: clock.NewTicker(snapshotInterval),
		stop:           make(chan struct{}),
	}
	go b.snapshotLoop()
	return b
}

// AddClient registers an observer and sends it a snapshot. It returns nil
// when the connection limit is reached; the caller should close conn.
func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := &client{conn: conn, b: b, send: make(chan []byte, 64)}

	data, err := json.Marshal(b.snapshot())
	if err != nil {
		log.Printf("snapshot marshal error: %v", err)
	} else {
		c.send <- data
	}

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil
	}
	b.clients[c] = true
	b.mu.Unlock()

	go c.writePump()
	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

// QueueFix schedules a fix for the next batch.
func (b *Broadcaster) QueueFix(fix FixPayload) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pending = append(b.pending, fix)
	if b.throttle <= 0 {
		go b.flush()
		return
	}
	if b.flushTimer == nil {
		b.flushTimer = b.clock.AfterFunc(b.throttle, b.flush)
	}
}

// Emergency sends an emergency to every observer immediately.
func (b *Broadcaster) Emergency(e emergency.Entry) {
	b.broadcast(FeedMessage{
		Type:    MsgEmergency,
		Payload: EmergencyPayload{Key: e.Key, Record: e.Record},
	})
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	fixes := b.pending
	b.pending = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	for _, fix := range fixes {
		b.broadcast(FeedMessage{Type: MsgFix, Payload: fix})
	}
}

func (b *Broadcaster) snapshot() FeedMessage {
	var entries []emergency.Entry
	if b.emergencies != nil {
		entries = b.emergencies.Entries()
	}
	return FeedMessage{
		Type: MsgSnapshot,
		Payload: SnapshotPayload{
			Tourists:    b.store.GetAll(),
			Emergencies: entries,
		},
	}
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.stop:
			return
		case <-b.snapshotTicker.Chan():
			b.broadcast(b.snapshot())
		}
	}
}

func (b *Broadcaster) broadcast(msg FeedMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		// Sends happen under the read lock so RemoveClient cannot close
		// c.send underneath us.
		slow := false
		b.mu.RLock()
		if b.clients[c] {
			select {
			case c.send <- data:
			default:
				slow = true
			}
		}
		b.mu.RUnlock()
		if slow {
			// Client can't keep up, disconnect it
			log.Printf("feed client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stop ends the snapshot loop and disconnects every observer.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
		b.snapshotTicker.Stop()

		b.flushMu.Lock()
		if b.flushTimer != nil {
			b.flushTimer.Stop()
			b.flushTimer = nil
		}
		b.flushMu.Unlock()

		b.mu.Lock()
		for c := range b.clients {
			delete(b.clients, c)
			close(c.send)
		}
		b.mu.Unlock()
	})
}
