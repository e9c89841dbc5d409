package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/NagendraKandula/beacon/internal/geo"
	"github.com/NagendraKandula/beacon/internal/ingest"
	"github.com/NagendraKandula/beacon/internal/location"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fixedSource returns whatever position is set.
type fixedSource struct {
	mu    sync.Mutex
	pos   geo.Sample
	calls int
}

func (f *fixedSource) set(lat, lon float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = geo.Sample{Lat: lat, Lon: lon, CapturedAt: epoch}
}

func (f *fixedSource) CurrentPosition(ctx context.Context) (geo.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.pos, ctx.Err()
}

func (f *fixedSource) Subscribe(location.Policy, func(geo.Sample)) (location.Subscription, error) {
	return nil, errors.New("not supported")
}

type countingPermissions struct {
	foreground, background bool
	bgRequests             atomic.Int32
}

func (p *countingPermissions) RequestForeground(context.Context) (bool, error) {
	return p.foreground, nil
}

func (p *countingPermissions) RequestBackground(context.Context) (bool, error) {
	p.bgRequests.Add(1)
	return p.background, nil
}

// gatedPermissions holds RequestBackground until release is closed.
type gatedPermissions struct {
	entered chan struct{}
	release chan struct{}
}

func (p *gatedPermissions) RequestForeground(context.Context) (bool, error) { return true, nil }

func (p *gatedPermissions) RequestBackground(context.Context) (bool, error) {
	close(p.entered)
	<-p.release
	return true, nil
}

type recordingDeliverer struct {
	mu      sync.Mutex
	reports []ingest.Report
	err     error
	block   bool
	entered chan struct{}
}

func (d *recordingDeliverer) PostLocation(ctx context.Context, r ingest.Report) (*ingest.LocationResponse, error) {
	if d.block {
		close(d.entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.reports = append(d.reports, r)
	return &ingest.LocationResponse{}, nil
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reports)
}

func newTestScheduler(perms location.Permissions, d Deliverer) (*Scheduler, *fixedSource, *clockwork.FakeClock) {
	src := &fixedSource{}
	src.set(26.1445, 91.7362)
	clock := clockwork.NewFakeClockAt(epoch)
	s := New(Options{Source: src, Permissions: perms, Deliverer: d, Clock: clock})
	return s, src, clock
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestArmForegroundDenied(t *testing.T) {
	perms := &countingPermissions{foreground: false, background: true}
	s, _, _ := newTestScheduler(perms, &recordingDeliverer{})

	err := s.Arm(context.Background(), ArmOptions{SessionID: "trip-42"})
	if !errors.Is(err, location.ErrPermissionDenied) {
		t.Fatalf("Arm() = %v, want ErrPermissionDenied", err)
	}
	if got := perms.bgRequests.Load(); got != 0 {
		t.Errorf("background requested %d times after foreground denial", got)
	}
	if s.Armed() {
		t.Error("scheduler armed after denial")
	}
}

func TestArmBackgroundDeniedDegrades(t *testing.T) {
	d := &recordingDeliverer{}
	s, src, _ := newTestScheduler(&countingPermissions{foreground: true}, d)

	if err := s.Arm(context.Background(), ArmOptions{SessionID: "trip-42"}); err != nil {
		t.Fatalf("Arm() = %v, want nil", err)
	}
	if s.Armed() || !s.Degraded() {
		t.Fatalf("Armed=%v Degraded=%v, want disarmed and degraded", s.Armed(), s.Degraded())
	}

	s.Wake(context.Background())
	if src.calls != 0 || d.count() != 0 {
		t.Errorf("degraded scheduler did work: %d fixes, %d deliveries", src.calls, d.count())
	}
}

func TestArmRequiresSession(t *testing.T) {
	s, _, _ := newTestScheduler(location.NewStaticPermissions(true, true), &recordingDeliverer{})
	if err := s.Arm(context.Background(), ArmOptions{}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Arm() = %v, want ErrNoSession", err)
	}
}

func TestWakeWithoutArmIsNoop(t *testing.T) {
	d := &recordingDeliverer{}
	s, src, _ := newTestScheduler(location.NewStaticPermissions(true, true), d)

	s.Wake(context.Background())
	if src.calls != 0 || d.count() != 0 || s.Stats().Wakes != 0 {
		t.Errorf("unarmed wake did work")
	}
}

func TestPeriodicDelivery(t *testing.T) {
	d := &recordingDeliverer{}
	s, _, clock := newTestScheduler(location.NewStaticPermissions(true, true), d)
	defer s.Disarm()

	if err := s.Arm(context.Background(), ArmOptions{SessionID: "trip-42", Interval: 30 * time.Second}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatal(err)
	}

	clock.Advance(29 * time.Second)
	time.Sleep(30 * time.Millisecond)
	if d.count() != 0 {
		t.Fatalf("delivered before the first interval elapsed")
	}

	clock.Advance(time.Second)
	waitFor(t, "first delivery", func() bool { return d.count() == 1 })

	d.mu.Lock()
	got := d.reports[0]
	d.mu.Unlock()
	want := ingest.Report{TouristID: "trip-42", Lat: 26.1445, Lon: 91.7362, Timestamp: "2026-03-01T09:00:00.000Z"}
	if got != want {
		t.Errorf("report = %+v, want %+v", got, want)
	}
}

func TestMinDistanceSkipsSmallMoves(t *testing.T) {
	d := &recordingDeliverer{}
	s, src, _ := newTestScheduler(location.NewStaticPermissions(true, true), d)
	defer s.Disarm()

	if err := s.Arm(context.Background(), ArmOptions{SessionID: "trip-42", Interval: time.Hour, MinDistance: 50}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	s.Wake(ctx)
	s.Wake(ctx)
	src.set(26.1455, 91.7362) // ~111 m north
	s.Wake(ctx)

	st := s.Stats()
	if st.Delivered != 2 || st.Skipped != 1 || st.Wakes != 3 {
		t.Errorf("stats = %+v, want 2 delivered, 1 skipped, 3 wakes", st)
	}
}

func TestDeliveryFailureIsSwallowed(t *testing.T) {
	d := &recordingDeliverer{err: errors.New("connection refused")}
	s, _, _ := newTestScheduler(location.NewStaticPermissions(true, true), d)
	defer s.Disarm()

	if err := s.Arm(context.Background(), ArmOptions{SessionID: "trip-42", Interval: time.Hour}); err != nil {
		t.Fatal(err)
	}
	s.Wake(context.Background())

	if got := s.Stats().Failed; got != 1 {
		t.Errorf("Failed = %d, want 1", got)
	}
	if !s.Armed() {
		t.Error("delivery failure disarmed the scheduler")
	}
}

func TestDisarmCancelsInFlightDelivery(t *testing.T) {
	d := &recordingDeliverer{block: true, entered: make(chan struct{})}
	s, _, _ := newTestScheduler(location.NewStaticPermissions(true, true), d)

	if err := s.Arm(context.Background(), ArmOptions{SessionID: "trip-42", Interval: time.Hour}); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		s.Wake(context.Background())
		close(done)
	}()
	<-d.entered

	s.Disarm()
	s.Disarm()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight delivery not cancelled by Disarm")
	}
	if s.Armed() {
		t.Error("still armed after Disarm")
	}
}

func TestDisarmDuringPendingArm(t *testing.T) {
	perms := &gatedPermissions{entered: make(chan struct{}), release: make(chan struct{})}
	d := &recordingDeliverer{}
	s, src, _ := newTestScheduler(perms, d)

	done := make(chan error, 1)
	go func() {
		done <- s.Arm(context.Background(), ArmOptions{SessionID: "trip-42"})
	}()

	<-perms.entered
	s.Disarm()
	close(perms.release)

	if err := <-done; err != nil {
		t.Fatalf("Arm() = %v, want nil", err)
	}
	if s.Armed() || s.Degraded() {
		t.Fatalf("Armed=%v Degraded=%v after Disarm, want both false", s.Armed(), s.Degraded())
	}

	s.Wake(context.Background())
	if src.calls != 0 || d.count() != 0 {
		t.Errorf("disarmed scheduler did work: %d fixes, %d deliveries", src.calls, d.count())
	}
}

func TestDisarmNeverArmed(t *testing.T) {
	s, _, _ := newTestScheduler(location.NewStaticPermissions(true, true), &recordingDeliverer{})
	s.Disarm()
	s.Disarm()
}

func TestWakeDeliversToIngestEndpoint(t *testing.T) {
	got := make(chan ingest.Report, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rep ingest.Report
		json.NewDecoder(r.Body).Decode(&rep)
		got <- rep
		w.Write([]byte(`{"anomalies":["route deviation"]}`))
	}))
	defer srv.Close()

	s, _, _ := newTestScheduler(location.NewStaticPermissions(true, true), ingest.NewClient(srv.URL, ""))
	defer s.Disarm()
	if err := s.Arm(context.Background(), ArmOptions{SessionID: "trip-7", Interval: time.Hour}); err != nil {
		t.Fatal(err)
	}
	s.Wake(context.Background())

	select {
	case rep := <-got:
		if rep.TouristID != "trip-7" {
			t.Errorf("tourist_id = %q", rep.TouristID)
		}
	default:
		t.Fatal("no report reached the ingest endpoint")
	}
	if s.Stats().Delivered != 1 {
		t.Errorf("Delivered = %d, want 1", s.Stats().Delivered)
	}
}
