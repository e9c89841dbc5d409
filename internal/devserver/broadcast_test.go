package devserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/NagendraKandula/beacon/internal/emergency"
)

// dialTestWS creates a test HTTP server that upgrades to WebSocket and returns
// the server-side connection plus the client side. The caller must close the
// server and both connections.
func dialTestWS(t *testing.T) (*httptest.Server, *websocket.Conn, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- c
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}

	select {
	case serverConn := <-connCh:
		return srv, serverConn, clientConn
	case <-time.After(2 * time.Second):
		srv.Close()
		t.Fatal("timed out waiting for server-side WebSocket connection")
		return nil, nil, nil
	}
}

func readFeed(t *testing.T, conn *websocket.Conn) (MessageType, json.RawMessage) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type    MessageType     `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read feed: %v", err)
	}
	return msg.Type, msg.Payload
}

func newTestBroadcaster(t *testing.T, throttle time.Duration, maxConns int) (*Broadcaster, *Store, *emergency.Memory, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := NewStore()
	sink := emergency.NewMemory(nil)
	b := NewBroadcaster(store, sink, clock, throttle, time.Hour, maxConns)
	t.Cleanup(b.Stop)
	return b, store, sink, clock
}

func TestAddClientSendsSnapshot(t *testing.T) {
	b, store, _, _ := newTestBroadcaster(t, time.Hour, 0)
	store.RecordFix("trip-42", 1, 2, time.Now(), "Safe", "")

	srv, serverConn, clientConn := dialTestWS(t)
	defer srv.Close()
	defer clientConn.Close()

	if c := b.AddClient(serverConn); c == nil {
		t.Fatal("AddClient returned nil under no limit")
	}

	typ, payload := readFeed(t, clientConn)
	if typ != MsgSnapshot {
		t.Fatalf("first message = %q, want snapshot", typ)
	}
	var snap SnapshotPayload
	if err := json.Unmarshal(payload, &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Tourists) != 1 || snap.Tourists[0].ID != "trip-42" {
		t.Errorf("snapshot tourists = %+v", snap.Tourists)
	}
}

func TestQueueFixIsThrottled(t *testing.T) {
	b, _, _, clock := newTestBroadcaster(t, 100*time.Millisecond, 0)

	srv, serverConn, clientConn := dialTestWS(t)
	defer srv.Close()
	defer clientConn.Close()
	b.AddClient(serverConn)
	readFeed(t, clientConn) // snapshot

	b.QueueFix(FixPayload{TouristID: "a"})
	b.QueueFix(FixPayload{TouristID: "b"})
	clock.Advance(100 * time.Millisecond)

	for _, want := range []string{"a", "b"} {
		typ, payload := readFeed(t, clientConn)
		var fix FixPayload
		json.Unmarshal(payload, &fix)
		if typ != MsgFix || fix.TouristID != want {
			t.Errorf("got %q %+v, want fix for %s", typ, fix, want)
		}
	}
}

func TestEmergencyBroadcast(t *testing.T) {
	b, _, _, _ := newTestBroadcaster(t, time.Hour, 0)

	srv, serverConn, clientConn := dialTestWS(t)
	defer srv.Close()
	defer clientConn.Close()
	b.AddClient(serverConn)
	readFeed(t, clientConn)

	b.Emergency(emergency.Entry{Key: "k1", Record: emergency.Record{TouristID: "trip-42"}})

	typ, payload := readFeed(t, clientConn)
	var e EmergencyPayload
	json.Unmarshal(payload, &e)
	if typ != MsgEmergency || e.Key != "k1" || e.Record.TouristID != "trip-42" {
		t.Errorf("got %q %+v", typ, e)
	}
}

func TestAddClient_MaxConnections(t *testing.T) {
	const maxConns = 2
	b, _, _, _ := newTestBroadcaster(t, time.Hour, maxConns)

	for i := 0; i < maxConns; i++ {
		srv, serverConn, clientConn := dialTestWS(t)
		defer srv.Close()
		defer clientConn.Close()
		if c := b.AddClient(serverConn); c == nil {
			t.Fatalf("client %d rejected below the limit", i)
		}
	}

	srv, serverConn, clientConn := dialTestWS(t)
	defer srv.Close()
	defer clientConn.Close()
	defer serverConn.Close()
	if c := b.AddClient(serverConn); c != nil {
		t.Fatal("client accepted over the limit")
	}
	if got := b.ClientCount(); got != maxConns {
		t.Errorf("ClientCount = %d, want %d", got, maxConns)
	}
}

// TestWritePump_RemovesClientOnWriteError verifies that a write error in
// writePump removes the dead client from the broadcaster.
func TestWritePump_RemovesClientOnWriteError(t *testing.T) {
	srv, serverConn, clientConn := dialTestWS(t)
	defer srv.Close()
	clientConn.Close()

	b, _, _, _ := newTestBroadcaster(t, time.Hour, 0)

	// Build a client directly so we control when writePump starts.
	c := &client{
		conn: serverConn,
		b:    b,
		send: make(chan []byte, 64),
	}
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	// Close the connection so any write attempt will immediately fail.
	serverConn.Close()
	c.send <- []byte(`{"type":"test"}`)
	go c.writePump()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.ClientCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client not removed after write error; ClientCount = %d", b.ClientCount())
}

func TestSlowClientIsDisconnected(t *testing.T) {
	b, _, _, _ := newTestBroadcaster(t, time.Hour, 0)

	// A client whose writePump never runs: its buffer fills up.
	c := &client{b: b, send: make(chan []byte, 1)}
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	b.Emergency(emergency.Entry{Key: "1"})
	b.Emergency(emergency.Entry{Key: "2"})

	if got := b.ClientCount(); got != 0 {
		t.Errorf("ClientCount = %d, want slow client removed", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	b, _, _, _ := newTestBroadcaster(t, time.Hour, 0)
	b.Stop()
	b.Stop()
	if b.ClientCount() != 0 {
		t.Error("clients left after Stop")
	}
}
