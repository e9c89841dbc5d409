package transport

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/NagendraKandula/beacon/internal/geo"
)

// StreamPath is the telemetry channel path on the monitoring service.
const StreamPath = "/ws/gps"

// Message is the outbound telemetry frame.
type Message struct {
	TouristID string  `json:"tourist_id"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Timestamp string  `json:"timestamp"`
}

// NewMessage builds the frame for one sample.
func NewMessage(s geo.Sample, sessionID string) Message {
	return Message{
		TouristID: sessionID,
		Lat:       s.Lat,
		Lon:       s.Lon,
		Timestamp: geo.Timestamp(s.CapturedAt),
	}
}

// RiskUpdate is the inbound frame: the service's classification of the
// latest position.
type RiskUpdate struct {
	RiskLevel string `json:"risk_level"`
	TouristID string `json:"tourist_id,omitempty"`
	Zone      string `json:"zone,omitempty"`
}

// StreamURL maps a monitoring service base URL to its telemetry channel:
// http becomes ws, https becomes wss, and a bare host is treated as http.
func StreamURL(serverURL string) (string, error) {
	raw := strings.TrimSpace(serverURL)
	if raw == "" {
		return "", fmt.Errorf("empty server url")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q has no host", serverURL)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + StreamPath
	return u.String(), nil
}
