package geo

import (
	"math"
	"testing"
	"time"
)

func TestHaversine(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		tolerance              float64
	}{
		{"same point", 26.1445, 91.7362, 26.1445, 91.7362, 0, 1e-9},
		{"one degree of latitude", 0, 0, 1, 0, 111195, 50},
		{"paris to london", 48.8566, 2.3522, 51.5074, -0.1278, 343560, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Haversine(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("Haversine() = %.1f, want %.1f ±%.0f", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestSampleValidate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		sample  Sample
		wantErr bool
	}{
		{"valid", Sample{Lat: 26.14, Lon: 91.73, Accuracy: 5, CapturedAt: now}, false},
		{"poles and antimeridian", Sample{Lat: -90, Lon: 180, CapturedAt: now}, false},
		{"latitude out of range", Sample{Lat: 91, Lon: 0, CapturedAt: now}, true},
		{"longitude out of range", Sample{Lat: 0, Lon: -181, CapturedAt: now}, true},
		{"negative accuracy", Sample{Lat: 0, Lon: 0, Accuracy: -1, CapturedAt: now}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sample.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestZoneContainsAndNearest(t *testing.T) {
	zones := []Zone{
		{Name: "market", Lat: 26.1800, Lon: 91.7500, Radius: 300},
		{Name: "riverbank", Lat: 26.1900, Lon: 91.7400, Radius: 500},
	}

	if !zones[0].Contains(26.1801, 91.7501) {
		t.Error("point next to market centre should be inside")
	}
	if zones[0].Contains(26.1445, 91.7362) {
		t.Error("point kilometres away should be outside")
	}

	z, edge, ok := Nearest(zones, 26.1801, 91.7501)
	if !ok {
		t.Fatal("Nearest() ok = false with non-empty zones")
	}
	if z.Name != "market" {
		t.Errorf("Nearest() = %q, want market", z.Name)
	}
	if edge >= 0 {
		t.Errorf("edge distance = %.1f, want negative inside zone", edge)
	}

	if _, _, ok := Nearest(nil, 0, 0); ok {
		t.Error("Nearest(nil) ok = true, want false")
	}
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2026, 3, 1, 14, 30, 5, 123456789, time.FixedZone("IST", 5*3600+1800))
	if got, want := Timestamp(ts), "2026-03-01T09:00:05.123Z"; got != want {
		t.Errorf("Timestamp() = %q, want %q", got, want)
	}
}
