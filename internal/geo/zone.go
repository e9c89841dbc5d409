package geo

// Zone is a circular high-risk area.
type Zone struct {
	Name   string  `yaml:"name" json:"name,omitempty"`
	Lat    float64 `yaml:"lat" json:"lat" validate:"latitude"`
	Lon    float64 `yaml:"lon" json:"lon" validate:"longitude"`
	Radius float64 `yaml:"radius" json:"radius" validate:"gt=0"` // meters
}

// Contains reports whether the point lies inside the zone.
func (z Zone) Contains(lat, lon float64) bool {
	return Haversine(z.Lat, z.Lon, lat, lon) <= z.Radius
}

// Nearest returns the zone whose boundary is closest to the point and the
// distance in meters from the point to that boundary (negative when inside).
// ok is false when zones is empty.
func Nearest(zones []Zone, lat, lon float64) (zone Zone, edge float64, ok bool) {
	for i, z := range zones {
		d := Haversine(z.Lat, z.Lon, lat, lon) - z.Radius
		if i == 0 || d < edge {
			zone, edge, ok = z, d, true
		}
	}
	return zone, edge, ok
}
