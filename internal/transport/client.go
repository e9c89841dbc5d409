// Package transport keeps the duplex telemetry channel to the monitoring
// service alive. A Client owns at most one WebSocket connection; any close it
// did not ask for schedules exactly one reconnect after a fixed backoff, and
// it keeps doing so until the owner calls Close.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/NagendraKandula/beacon/internal/geo"
	"github.com/NagendraKandula/beacon/internal/notify"
)

const (
	DefaultBackoff      = 5 * time.Second
	DefaultUnsafeLevel  = "🚨 Unsafe"
	defaultWriteTimeout = 10 * time.Second
	handshakeTimeout    = 15 * time.Second
	closeGrace          = time.Second
)

var (
	// ErrNotOpen is returned by Send when the channel is not open. The
	// sample has been dropped.
	ErrNotOpen = errors.New("telemetry channel not open")

	// ErrNoSession is returned by Send for an untagged sample.
	ErrNoSession = errors.New("telemetry sample has no session id")
)

// State is the lifecycle state of the channel.
type State int32

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	Backoff      time.Duration // delay before each reconnect attempt
	UnsafeLevel  string        // risk_level value that raises a local alert
	WriteTimeout time.Duration
	PingInterval time.Duration // zero disables keepalive pings
	PongTimeout  time.Duration // zero disables the read deadline

	Notifier notify.Notifier
	Clock    clockwork.Clock
	Dialer   *websocket.Dialer

	// OnRisk, if set, observes every inbound risk update.
	OnRisk func(RiskUpdate)
}

func (o *Options) setDefaults() {
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.UnsafeLevel == "" {
		o.UnsafeLevel = DefaultUnsafeLevel
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.Notifier == nil {
		o.Notifier = notify.Log{}
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}
	}
}

// Stats is a point-in-time view of the channel.
type Stats struct {
	State      State
	Endpoint   string
	Sent       uint64
	Dropped    uint64
	Received   uint64
	Reconnects uint64
	LastRisk   string
}

// Client is the telemetry channel. It is safe for concurrent use.
type Client struct {
	opts Options

	mu         sync.Mutex
	writeMu    sync.Mutex // serialises data frames in call order
	state      State
	endpoint   string
	owned      bool   // between Open and Close; only an owned client reconnects
	gen        uint64 // bumped on every dial and on Close; stale completions compare against it
	conn       *websocket.Conn
	cancelDial context.CancelFunc
	stopPing   context.CancelFunc
	reconnect  clockwork.Timer
	retrySeq   uint64
	lastRisk   string

	sent       atomic.Uint64
	dropped    atomic.Uint64
	received   atomic.Uint64
	reconnects atomic.Uint64
}

// NewClient creates a disconnected Client.
func NewClient(opts Options) *Client {
	opts.setDefaults()
	return &Client{opts: opts}
}

// Open starts connecting to endpoint, a ws:// or wss:// URL. It returns
// immediately; the handshake runs in the background. Open is a no-op while
// the client is already open or connecting to the same endpoint. A different
// endpoint replaces the current connection.
func (c *Client) Open(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parsing telemetry endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("telemetry endpoint %q: scheme must be ws or wss", endpoint)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.owned && c.endpoint == endpoint && (c.state == Open || c.state == Connecting) {
		return nil
	}
	if c.owned && c.endpoint != endpoint {
		log.Printf("telemetry endpoint changed: %s -> %s", c.endpoint, endpoint)
		if conn := c.detachLocked(); conn != nil {
			go c.closeConn(conn)
		}
	}

	c.owned = true
	c.endpoint = endpoint
	c.stopReconnectLocked()
	c.connectLocked()
	return nil
}

// Send writes one sample when the channel is open. Otherwise the sample is
// dropped and counted; samples are never queued for later.
func (c *Client) Send(s geo.Sample, sessionID string) error {
	if sessionID == "" {
		c.dropped.Add(1)
		return ErrNoSession
	}
	if err := s.Validate(); err != nil {
		c.dropped.Add(1)
		return err
	}

	c.mu.Lock()
	conn, gen, state := c.conn, c.gen, c.state
	c.mu.Unlock()
	if state != Open || conn == nil {
		c.dropped.Add(1)
		return ErrNotOpen
	}

	data, err := json.Marshal(NewMessage(s, sessionID))
	if err != nil {
		c.dropped.Add(1)
		return fmt.Errorf("encoding telemetry frame: %w", err)
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.dropped.Add(1)
		c.lost(gen, conn, err)
		return fmt.Errorf("telemetry write: %w", err)
	}
	c.sent.Add(1)
	return nil
}

// Close shuts the channel down and cancels any pending reconnect or
// in-flight handshake. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	c.owned = false
	conn := c.detachLocked()
	if conn == nil {
		c.state = Disconnected
		c.mu.Unlock()
		return nil
	}
	c.state = Closing
	c.mu.Unlock()

	err := c.closeConn(conn)

	c.mu.Lock()
	if c.state == Closing {
		c.state = Disconnected
	}
	c.mu.Unlock()

	log.Printf("telemetry channel closed by owner")
	return err
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns counters and the current state.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	st := Stats{State: c.state, Endpoint: c.endpoint, LastRisk: c.lastRisk}
	c.mu.Unlock()
	st.Sent = c.sent.Load()
	st.Dropped = c.dropped.Load()
	st.Received = c.received.Load()
	st.Reconnects = c.reconnects.Load()
	return st
}

// detachLocked invalidates every in-flight completion and returns the live
// connection, if any, for the caller to close. Caller must hold c.mu.
func (c *Client) detachLocked() *websocket.Conn {
	c.gen++
	c.stopReconnectLocked()
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if c.stopPing != nil {
		c.stopPing()
		c.stopPing = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = Disconnected
	return conn
}

// connectLocked moves to Connecting and dials in the background. Caller must
// hold c.mu.
func (c *Client) connectLocked() {
	c.gen++
	gen := c.gen
	endpoint := c.endpoint
	c.state = Connecting

	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	c.cancelDial = cancel
	go c.dial(ctx, cancel, gen, endpoint)
}

func (c *Client) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, endpoint string) {
	conn, _, err := c.opts.Dialer.DialContext(ctx, endpoint, nil)
	cancel()

	c.mu.Lock()
	if gen != c.gen || !c.owned {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	c.cancelDial = nil

	if err != nil {
		log.Printf("telemetry dial %s failed: %v (retry in %v)", endpoint, err, c.opts.Backoff)
		c.state = Disconnected
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}

	c.conn = conn
	c.state = Open
	var pingCtx context.Context
	if c.opts.PingInterval > 0 {
		pingCtx, c.stopPing = context.WithCancel(context.Background())
	}
	c.mu.Unlock()

	log.Printf("telemetry channel open: %s", endpoint)
	go c.readLoop(gen, conn)
	if pingCtx != nil {
		go c.pingLoop(pingCtx, gen, conn)
	}
}

func (c *Client) readLoop(gen uint64, conn *websocket.Conn) {
	if c.opts.PongTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		})
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.lost(gen, conn, err)
			return
		}
		c.received.Add(1)
		c.handleMessage(gen, data)
	}
}

func (c *Client) handleMessage(gen uint64, data []byte) {
	var update RiskUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		log.Printf("telemetry: failed to parse server message: %v", err)
		return
	}
	if update.RiskLevel == "" {
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.lastRisk = update.RiskLevel
	c.mu.Unlock()

	if c.opts.OnRisk != nil {
		c.opts.OnRisk(update)
	}
	if update.RiskLevel == c.opts.UnsafeLevel {
		c.opts.Notifier.Notify(notify.Notification{
			Kind:  notify.KindAlert,
			Title: "⚠️ Unsafe Location Detected",
			Body:  "Be careful! Your current movement is flagged as unsafe.",
			At:    c.opts.Clock.Now(),
		})
	}
}

func (c *Client) pingLoop(ctx context.Context, gen uint64, conn *websocket.Conn) {
	ticker := c.opts.Clock.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout))
			if err != nil {
				c.lost(gen, conn, err)
				return
			}
		}
	}
}

// lost handles a close the owner did not request: read or write failure,
// remote close frame, network loss. Stale reports from an older connection
// are ignored.
func (c *Client) lost(gen uint64, conn *websocket.Conn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.conn != conn {
		return
	}
	c.conn = nil
	c.state = Disconnected
	if c.stopPing != nil {
		c.stopPing()
		c.stopPing = nil
	}
	conn.Close()

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		log.Printf("telemetry channel closed (code: %d, reason: %s), reconnecting in %v",
			closeErr.Code, reasonOrNA(closeErr.Text), c.opts.Backoff)
	} else {
		log.Printf("telemetry channel lost: %v, reconnecting in %v", err, c.opts.Backoff)
	}
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the single reconnect timer. Caller must hold
// c.mu.
func (c *Client) scheduleReconnectLocked() {
	if !c.owned || c.reconnect != nil {
		return
	}
	c.retrySeq++
	seq := c.retrySeq
	c.reconnect = c.opts.Clock.AfterFunc(c.opts.Backoff, func() { c.fireReconnect(seq) })
}

func (c *Client) fireReconnect(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq != c.retrySeq || c.reconnect == nil {
		return
	}
	c.reconnect = nil
	if !c.owned || c.state != Disconnected {
		return
	}
	c.reconnects.Add(1)
	log.Printf("telemetry reconnecting to %s", c.endpoint)
	c.connectLocked()
}

func (c *Client) stopReconnectLocked() {
	c.retrySeq++
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Client) closeConn(conn *websocket.Conn) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client shutdown")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace)); err != nil &&
		!errors.Is(err, websocket.ErrCloseSent) {
		log.Printf("telemetry close frame: %v", err)
	}
	return conn.Close()
}

func reasonOrNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
