// Package geo holds the position types shared by the location, transport and
// alerting packages, plus the small amount of spherical math they need.
package geo

import (
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
)

const earthRadiusMeters = 6371008.8

// isoMillis is the UTC millisecond ISO 8601 form the monitoring service
// parses.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

var validate = validator.New()

// Sample is a single position fix. Samples are ephemeral: they are produced by
// a location source and consumed immediately by a delivery path.
type Sample struct {
	Lat        float64   `json:"lat" validate:"latitude"`
	Lon        float64   `json:"lon" validate:"longitude"`
	Accuracy   float64   `json:"accuracy,omitempty" validate:"gte=0"` // meters
	CapturedAt time.Time `json:"captured_at"`
}

// Validate rejects out-of-range coordinates and negative accuracy.
func (s Sample) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid sample (%.6f, %.6f): %w", s.Lat, s.Lon, err)
	}
	return nil
}

func (s Sample) String() string {
	return fmt.Sprintf("(%.6f, %.6f ±%.0fm @ %s)", s.Lat, s.Lon, s.Accuracy, s.CapturedAt.Format(time.RFC3339))
}

// Timestamp formats t in UTC with millisecond precision, e.g.
// "2026-03-01T09:00:00.000Z".
func Timestamp(t time.Time) string {
	return t.UTC().Format(isoMillis)
}

// Distance returns the great-circle distance in meters between two samples.
func Distance(a, b Sample) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

// Haversine returns the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}
