package location

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"gopkg.in/yaml.v3"

	"github.com/NagendraKandula/beacon/internal/geo"
)

const defaultTickInterval = time.Second

// Waypoint is one vertex of a simulated route.
type Waypoint struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

// Route describes a path walked at constant speed by a Track.
type Route struct {
	Speed     float64    `yaml:"speed"`    // meters per second
	Accuracy  float64    `yaml:"accuracy"` // reported horizontal accuracy in meters
	Loop      bool       `yaml:"loop"`     // walk back and forth instead of stopping at the end
	Waypoints []Waypoint `yaml:"waypoints"`
}

// LoadRoute reads a YAML route file.
func LoadRoute(path string) (Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Route{}, err
	}
	route := Route{Speed: 1.4, Accuracy: 10}
	if err := yaml.Unmarshal(data, &route); err != nil {
		return Route{}, fmt.Errorf("parsing route %s: %w", path, err)
	}
	return route, nil
}

// Track is a simulated Source that walks a Route from the moment it is
// created. It stands in for device positioning on hosts without GPS.
type Track struct {
	clock      clockwork.Clock
	route      Route
	cumulative []float64 // distance from the first waypoint to each waypoint
	start      time.Time

	mu   sync.Mutex
	subs map[*trackSubscription]struct{}
}

// NewTrack creates a Track for route using clock for time.
func NewTrack(route Route, clock clockwork.Clock) (*Track, error) {
	if len(route.Waypoints) == 0 {
		return nil, errors.New("route has no waypoints")
	}
	for i, wp := range route.Waypoints {
		s := geo.Sample{Lat: wp.Lat, Lon: wp.Lon}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("waypoint %d: %w", i, err)
		}
	}
	if route.Speed < 0 {
		return nil, fmt.Errorf("negative route speed %v", route.Speed)
	}

	cumulative := make([]float64, len(route.Waypoints))
	for i := 1; i < len(route.Waypoints); i++ {
		a, b := route.Waypoints[i-1], route.Waypoints[i]
		cumulative[i] = cumulative[i-1] + geo.Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
	}

	return &Track{
		clock:      clock,
		route:      route,
		cumulative: cumulative,
		start:      clock.Now(),
		subs:       make(map[*trackSubscription]struct{}),
	}, nil
}

// CurrentPosition returns the simulated position now.
func (t *Track) CurrentPosition(ctx context.Context) (geo.Sample, error) {
	if err := ctx.Err(); err != nil {
		return geo.Sample{}, err
	}
	return t.positionAt(t.clock.Now()), nil
}

// Subscribe emits one fix immediately and then one per policy interval,
// subject to the policy's displacement threshold.
func (t *Track) Subscribe(policy Policy, fn func(geo.Sample)) (Subscription, error) {
	if fn == nil {
		return nil, errors.New("nil subscription callback")
	}
	interval := policy.Interval
	if interval <= 0 {
		interval = defaultTickInterval
	}

	s := &trackSubscription{
		track:   t,
		ticker:  t.clock.NewTicker(interval),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	t.mu.Lock()
	t.subs[s] = struct{}{}
	t.mu.Unlock()

	go s.run(policy, fn)
	return s, nil
}

// Active returns the number of live subscriptions.
func (t *Track) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (t *Track) positionAt(now time.Time) geo.Sample {
	wps := t.route.Waypoints
	sample := geo.Sample{
		Lat:        wps[0].Lat,
		Lon:        wps[0].Lon,
		Accuracy:   t.route.Accuracy,
		CapturedAt: now,
	}

	total := t.cumulative[len(t.cumulative)-1]
	if total == 0 || t.route.Speed == 0 {
		return sample
	}

	traveled := t.route.Speed * now.Sub(t.start).Seconds()
	if t.route.Loop {
		traveled = math.Mod(traveled, 2*total)
		if traveled > total {
			traveled = 2*total - traveled
		}
	} else if traveled > total {
		traveled = total
	}

	for i := 1; i < len(wps); i++ {
		if traveled > t.cumulative[i] {
			continue
		}
		leg := t.cumulative[i] - t.cumulative[i-1]
		frac := 0.0
		if leg > 0 {
			frac = (traveled - t.cumulative[i-1]) / leg
		}
		sample.Lat = wps[i-1].Lat + (wps[i].Lat-wps[i-1].Lat)*frac
		sample.Lon = wps[i-1].Lon + (wps[i].Lon-wps[i-1].Lon)*frac
		return sample
	}

	last := wps[len(wps)-1]
	sample.Lat, sample.Lon = last.Lat, last.Lon
	return sample
}

type trackSubscription struct {
	track   *Track
	ticker  clockwork.Ticker
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func (s *trackSubscription) run(policy Policy, fn func(geo.Sample)) {
	defer close(s.stopped)

	throttle := Throttle{Policy: Policy{MinDistance: policy.MinDistance}}
	emit := func() {
		sample := s.track.positionAt(s.track.clock.Now())
		if throttle.Admit(sample) {
			fn(sample)
		}
	}

	emit()
	for {
		select {
		case <-s.done:
			return
		case <-s.ticker.Chan():
			select {
			case <-s.done:
				return
			default:
			}
			emit()
		}
	}
}

func (s *trackSubscription) Remove() error {
	s.once.Do(func() {
		close(s.done)
		<-s.stopped
		s.ticker.Stop()

		s.track.mu.Lock()
		delete(s.track.subs, s)
		s.track.mu.Unlock()
	})
	return nil
}
