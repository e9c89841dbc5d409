package devserver

import (
	"fmt"
	"math"
	"time"

	"github.com/NagendraKandula/beacon/internal/geo"
	"github.com/NagendraKandula/beacon/internal/ingest"
)

const (
	cautionRadius = 1000.0 // meters outside a zone's edge that still lower the score
	maxPlausible  = 55.0   // m/s; faster movement between fixes is flagged
)

// Classifier rates positions against the configured high-risk zones.
type Classifier struct {
	Zones       []geo.Zone
	SafeLevel   string
	UnsafeLevel string
}

// Classify returns the risk level of a position and the zone it lies in.
func (c Classifier) Classify(lat, lon float64) (level, zone string) {
	for _, z := range c.Zones {
		if z.Contains(lat, lon) {
			return c.UnsafeLevel, z.Name
		}
	}
	return c.SafeLevel, ""
}

// Score rates a position from 0 (worst) to 100.
func (c Classifier) Score(lat, lon float64) ingest.Score {
	z, edge, ok := geo.Nearest(c.Zones, lat, lon)
	switch {
	case !ok || edge >= cautionRadius:
		s := ingest.Score{Score: 95, Level: "Safe"}
		if ok {
			s.District = z.Name
		}
		return s
	case edge <= 0:
		return ingest.Score{
			Score:    20,
			Level:    "High Risk",
			Reasons:  []string{fmt.Sprintf("inside high-risk zone %s", z.Name)},
			District: z.Name,
		}
	default:
		return ingest.Score{
			Score:    math.Round(50 + 40*edge/cautionRadius),
			Level:    "Moderate",
			Reasons:  []string{fmt.Sprintf("%.0f m from high-risk zone %s", edge, z.Name)},
			District: z.Name,
		}
	}
}

// anomalies compares a fix with the previous one for the same tourist.
func anomalies(prev TouristState, seen bool, lat, lon float64, at time.Time, zone string) []string {
	var out []string
	if zone != "" && (!seen || prev.Zone != zone) {
		out = append(out, "entered high-risk zone "+zone)
	}
	if seen {
		dt := at.Sub(prev.LastSeen).Seconds()
		if dt > 0 && geo.Haversine(prev.Lat, prev.Lon, lat, lon)/dt > maxPlausible {
			out = append(out, "implausible speed")
		}
	}
	return out
}
