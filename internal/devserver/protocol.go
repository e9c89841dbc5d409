package devserver

import (
	"github.com/NagendraKandula/beacon/internal/emergency"
)

type MessageType string

const (
	MsgSnapshot  MessageType = "snapshot"
	MsgFix       MessageType = "fix"
	MsgEmergency MessageType = "emergency"
)

// FeedMessage is what observers on /ws/feed receive.
type FeedMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	Tourists    []*TouristState   `json:"tourists"`
	Emergencies []emergency.Entry `json:"emergencies"`
}

// FixPayload is one accepted position, from either delivery path.
type FixPayload struct {
	TouristID string   `json:"tourist_id"`
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	Timestamp string   `json:"timestamp"`
	Via       string   `json:"via"` // "stream" or "background"
	RiskLevel string   `json:"risk_level"`
	Zone      string   `json:"zone,omitempty"`
	Anomalies []string `json:"anomalies,omitempty"`
}

type EmergencyPayload struct {
	Key    string           `json:"key"`
	Record emergency.Record `json:"record"`
}
