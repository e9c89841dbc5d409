package devserver

import (
	"sort"
	"sync"
	"time"
)

// TouristState is the server's view of one session.
type TouristState struct {
	ID        string    `json:"id"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	LastSeen  time.Time `json:"last_seen"`
	RiskLevel string    `json:"risk_level"`
	Zone      string    `json:"zone,omitempty"`
	Fixes     int       `json:"fixes"`
	PushToken string    `json:"push_token,omitempty"`
}

// Store holds the latest state of every tourist seen.
type Store struct {
	mu       sync.RWMutex
	tourists map[string]*TouristState
}

func NewStore() *Store {
	return &Store{
		tourists: make(map[string]*TouristState),
	}
}

func (s *Store) Get(id string) (*TouristState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.tourists[id]
	if !ok {
		return nil, false
	}
	copy := *st
	return &copy, true
}

// GetAll returns copies ordered by id.
func (s *Store) GetAll() []*TouristState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*TouristState, 0, len(s.tourists))
	for _, st := range s.tourists {
		copy := *st
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// RecordFix stores a position and returns the previous state, if any.
func (s *Store) RecordFix(id string, lat, lon float64, at time.Time, risk, zone string) (prev TouristState, seen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tourists[id]
	if !ok {
		st = &TouristState{ID: id}
		s.tourists[id] = st
	} else if st.Fixes > 0 {
		prev, seen = *st, true
	}
	st.Lat, st.Lon, st.LastSeen = lat, lon, at
	st.RiskLevel, st.Zone = risk, zone
	st.Fixes++
	return prev, seen
}

func (s *Store) SetPushToken(id, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tourists[id]
	if !ok {
		st = &TouristState{ID: id}
		s.tourists[id] = st
	}
	st.PushToken = token
}

// ActiveCount returns the number of tourists seen since the cutoff.
func (s *Store) ActiveCount(since time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, st := range s.tourists {
		if !st.LastSeen.Before(since) {
			count++
		}
	}
	return count
}
