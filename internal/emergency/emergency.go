// Package emergency submits SOS records to an append-only collection. Each
// submission returns the key the collection generated for it.
package emergency

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NagendraKandula/beacon/internal/geo"
)

// Collection is the name of the append-only collection.
const Collection = "efirs"

// Location is the position carried by a Record.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Record is one emergency signal.
type Record struct {
	TouristID string   `json:"tourist_id"`
	Location  Location `json:"location"`
	Timestamp int64    `json:"timestamp"` // Unix milliseconds
}

// NewRecord builds the record for a session at a position.
func NewRecord(touristID string, s geo.Sample, at time.Time) Record {
	return Record{
		TouristID: touristID,
		Location:  Location{Latitude: s.Lat, Longitude: s.Lon},
		Timestamp: at.UnixMilli(),
	}
}

// Sink appends records.
type Sink interface {
	Push(ctx context.Context, r Record) (string, error)
}

// Entry is a stored record with its key.
type Entry struct {
	Key string
	Record
}

// Memory is an in-process Sink.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	onPush  func(Entry)
}

// NewMemory returns an empty sink. onPush, if non-nil, observes every
// appended entry.
func NewMemory(onPush func(Entry)) *Memory {
	return &Memory{onPush: onPush}
}

func (m *Memory) Push(ctx context.Context, r Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e := Entry{Key: uuid.NewString(), Record: r}
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	if m.onPush != nil {
		m.onPush(e)
	}
	return e.Key, nil
}

// Entries returns a copy of everything pushed so far, oldest first.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// Len returns the number of records pushed.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
