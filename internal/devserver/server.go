// Package devserver is a local stand-in for the safety-monitoring service. It
// accepts the telemetry stream and background fixes, classifies positions
// against high-risk zones, stores emergency records, and mirrors everything
// to observers on a feed socket.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/NagendraKandula/beacon/internal/emergency"
	"github.com/NagendraKandula/beacon/internal/geo"
	"github.com/NagendraKandula/beacon/internal/ingest"
	"github.com/NagendraKandula/beacon/internal/transport"
)

type Options struct {
	Zones            []geo.Zone
	SafeLevel        string
	UnsafeLevel      string
	AuthToken        string
	Clock            clockwork.Clock
	Throttle         time.Duration
	SnapshotInterval time.Duration
	MaxFeedClients   int
}

type Server struct {
	opts        Options
	classifier  Classifier
	clock       clockwork.Clock
	store       *Store
	sink        *emergency.Memory
	broadcaster *Broadcaster
	upgrader    websocket.Upgrader
	router      *mux.Router
}

func New(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.SafeLevel == "" {
		opts.SafeLevel = "✅ Safe"
	}
	if opts.UnsafeLevel == "" {
		opts.UnsafeLevel = transport.DefaultUnsafeLevel
	}
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = 30 * time.Second
	}

	s := &Server{
		opts:       opts,
		classifier: Classifier{Zones: opts.Zones, SafeLevel: opts.SafeLevel, UnsafeLevel: opts.UnsafeLevel},
		clock:      opts.Clock,
		store:      NewStore(),
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	s.sink = emergency.NewMemory(func(e emergency.Entry) { s.broadcaster.Emergency(e) })
	s.broadcaster = NewBroadcaster(s.store, s.sink, opts.Clock, opts.Throttle, opts.SnapshotInterval, opts.MaxFeedClients)
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	r.HandleFunc(transport.StreamPath, s.handleStream).Methods("GET")
	r.HandleFunc(ingest.LocationPath, s.handleLocation).Methods("POST")
	r.HandleFunc(ingest.ScorePath, s.handleScore).Methods("POST")
	r.HandleFunc(ingest.PushTokenPath, s.handlePushToken).Methods("POST")
	r.HandleFunc("/"+emergency.Collection+".json", s.handlePushEmergency).Methods("POST")
	r.HandleFunc("/"+emergency.Collection+".json", s.handleListEmergencies).Methods("GET")

	r.HandleFunc("/ws/feed", s.handleFeed).Methods("GET")
	r.HandleFunc("/api/tourists", s.handleTourists).Methods("GET")
	r.HandleFunc("/api/tourists/{id}", s.handleTourist).Methods("GET")

	r.Use(s.authorize)
	return r
}

// Handler returns the HTTP handler with security headers applied.
func (s *Server) Handler() http.Handler {
	return securityHeaders(s.router)
}

func (s *Server) Store() *Store { return s.store }

func (s *Server) Emergencies() *emergency.Memory { return s.sink }

// Close stops background work and disconnects feed observers.
func (s *Server) Close() {
	s.broadcaster.Stop()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"tourists":     len(s.store.GetAll()),
		"active":       s.store.ActiveCount(s.clock.Now().Add(-5 * time.Minute)),
		"feed_clients": s.broadcaster.ClientCount(),
		"emergencies":  s.sink.Len(),
	})
}

// handleStream serves the duplex telemetry channel: every fix is answered
// with the position's risk level.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("stream upgrade error: %v", err)
		return
	}
	log.Printf("telemetry client connected: %s", r.RemoteAddr)

	go func() {
		defer func() {
			conn.Close()
			log.Printf("telemetry client disconnected: %s", r.RemoteAddr)
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg transport.Message
			if err := json.Unmarshal(data, &msg); err != nil || msg.TouristID == "" {
				log.Printf("stream: ignoring malformed frame from %s", r.RemoteAddr)
				continue
			}
			fix := s.accept(msg.TouristID, msg.Lat, msg.Lon, msg.Timestamp, "stream")
			reply := transport.RiskUpdate{RiskLevel: fix.RiskLevel, TouristID: fix.TouristID, Zone: fix.Zone}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var rep ingest.Report
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if rep.TouristID == "" {
		http.Error(w, "tourist_id required", http.StatusBadRequest)
		return
	}
	if err := (geo.Sample{Lat: rep.Lat, Lon: rep.Lon}).Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fix := s.accept(rep.TouristID, rep.Lat, rep.Lon, rep.Timestamp, "background")
	writeJSON(w, http.StatusOK, ingest.LocationResponse{Status: "ok", Anomalies: fix.Anomalies})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.classifier.Score(req.Latitude, req.Longitude))
}

func (s *Server) handlePushToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TouristID string `json:"tourist_id"`
		Token     string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TouristID == "" || req.Token == "" {
		http.Error(w, "tourist_id and token required", http.StatusBadRequest)
		return
	}
	s.store.SetPushToken(req.TouristID, req.Token)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePushEmergency(w http.ResponseWriter, r *http.Request) {
	var rec emergency.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil || rec.TouristID == "" {
		http.Error(w, `{"error":"Invalid data"}`, http.StatusBadRequest)
		return
	}
	key, err := s.sink.Push(r.Context(), rec)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Printf("SOS from %s at (%.6f, %.6f): %s", rec.TouristID, rec.Location.Latitude, rec.Location.Longitude, key)
	writeJSON(w, http.StatusOK, map[string]string{"name": key})
}

func (s *Server) handleListEmergencies(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]emergency.Record)
	for _, e := range s.sink.Entries() {
		out[e.Key] = e.Record
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("feed upgrade error: %v", err)
		return
	}

	c := s.broadcaster.AddClient(conn)
	if c == nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many observers"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	log.Printf("feed client connected: %s", r.RemoteAddr)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Printf("feed client disconnected: %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleTourists(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.GetAll())
}

func (s *Server) handleTourist(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	st, ok := s.store.Get(vars["id"])
	if !ok {
		http.Error(w, "tourist not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// accept records a fix, classifies it and queues it for observers.
func (s *Server) accept(touristID string, lat, lon float64, timestamp, via string) FixPayload {
	at, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		at = s.clock.Now()
	}
	level, zone := s.classifier.Classify(lat, lon)
	prev, seen := s.store.RecordFix(touristID, lat, lon, at, level, zone)

	fix := FixPayload{
		TouristID: touristID,
		Lat:       lat,
		Lon:       lon,
		Timestamp: geo.Timestamp(at),
		Via:       via,
		RiskLevel: level,
		Zone:      zone,
		Anomalies: anomalies(prev, seen, lat, lon, at, zone),
	}
	s.broadcaster.QueueFix(fix)
	return fix
}

// authorize accepts the token as a Bearer header or the auth query
// parameter used by Realtime Database clients.
func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AuthToken == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if r.URL.Query().Get("auth") == s.opts.AuthToken {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.opts.AuthToken {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves handler until ctx is done, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, host string, port int, handler http.Handler) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
