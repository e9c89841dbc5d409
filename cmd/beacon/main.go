package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"

	"github.com/NagendraKandula/beacon/internal/alert"
	"github.com/NagendraKandula/beacon/internal/config"
	"github.com/NagendraKandula/beacon/internal/emergency"
	"github.com/NagendraKandula/beacon/internal/ingest"
	"github.com/NagendraKandula/beacon/internal/location"
	"github.com/NagendraKandula/beacon/internal/notify"
	"github.com/NagendraKandula/beacon/internal/publisher"
	"github.com/NagendraKandula/beacon/internal/scheduler"
	"github.com/NagendraKandula/beacon/internal/score"
	"github.com/NagendraKandula/beacon/internal/store"
	"github.com/NagendraKandula/beacon/internal/transport"
	"github.com/NagendraKandula/beacon/internal/trip"
	"github.com/NagendraKandula/beacon/internal/tui/app"
)

const defaultServerURL = "http://127.0.0.1:8000"

func main() {
	configPath := flag.StringP("config", "c", "config.yaml", "Path to config file")
	envFile := flag.String("env-file", ".env", "Path to a dotenv file")
	headless := flag.Bool("headless", false, "Run without the terminal UI")
	serverURL := flag.String("server", "", "Override the monitoring service URL")
	session := flag.String("session", "", "Override the trip id")
	route := flag.String("route", "", "Override the simulated route file")
	logFile := flag.String("log-file", "beacon.log", "Log file used while the terminal UI is running")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Fatalf("Failed to load %s: %v", *envFile, err)
	}
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		log.Fatalf("Failed to apply environment: %v", err)
	}
	if *serverURL != "" {
		cfg.Server.URL = *serverURL
	}
	if *session != "" {
		cfg.Session.ID = *session
	}
	if *route != "" {
		cfg.Location.Route = *route
	}
	if cfg.Server.URL == "" {
		cfg.Server.URL = defaultServerURL
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	if !*headless {
		f, err := tea.LogToFile(*logFile, "beacon")
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer f.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *headless); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, headless bool) error {
	clock := clockwork.NewRealClock()

	rt, err := loadRoute(cfg.Location.Route)
	if err != nil {
		return err
	}
	source, err := location.NewTrack(rt, clock)
	if err != nil {
		return fmt.Errorf("building location source: %w", err)
	}
	perms := location.NewStaticPermissions(cfg.Location.Foreground, cfg.Location.Background)

	var db *sql.DB
	if cfg.Database.DSN != "" {
		db, err = store.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := store.EnsureSchema(ctx, db); err != nil {
			return err
		}
	}

	var resolver trip.Resolver = trip.Static(cfg.Session.ID)
	if cfg.Session.ID == "" && db != nil {
		resolver = &trip.Cached{Resolver: trip.NewPostgres(db)}
	}

	sink, err := emergencySink(cfg, db)
	if err != nil {
		return err
	}

	var notifications *notify.Channel
	var notifier notify.Notifier = notify.Log{}
	if !headless {
		notifications = notify.NewChannel(32)
		notifier = notify.Multi{notify.Log{}, notifications}
	}

	rest := ingest.NewClient(cfg.Server.URL, cfg.Server.Token)

	tc := transport.NewClient(transport.Options{
		Backoff:      cfg.Stream.Backoff,
		UnsafeLevel:  cfg.Stream.UnsafeLevel,
		PingInterval: cfg.Stream.PingInterval,
		PongTimeout:  cfg.Stream.PongTimeout,
		Notifier:     notifier,
		Clock:        clock,
	})
	defer tc.Close()

	sched := scheduler.New(scheduler.Options{
		Source:      source,
		Permissions: perms,
		Deliverer:   rest,
		Clock:       clock,
	})
	defer sched.Disarm()

	pub := publisher.New(publisher.Options{
		Source:      source,
		Permissions: perms,
		Transport:   tc,
		Scheduler:   sched,
		Policy: location.Policy{
			Interval:    cfg.Stream.Interval,
			MinDistance: cfg.Stream.MinDistance,
		},
		Background: scheduler.ArmOptions{
			Interval:    cfg.Background.Interval,
			MinDistance: cfg.Background.MinDistance,
		},
		Notifier: notifier,
	})

	sos := alert.New(alert.Options{
		Window:      cfg.Alert.Window,
		Resolver:    resolver,
		Source:      source,
		Permissions: perms,
		Sink:        sink,
		Notifier:    notifier,
		Clock:       clock,
	})
	defer sos.Reset()

	if err := pub.Mount(ctx, resolver, cfg.Server.URL); err != nil {
		log.Printf("Telemetry not started: %v", err)
	}
	defer func() {
		if err := pub.Stop(); err != nil {
			log.Printf("Stopping telemetry: %v", err)
		}
	}()

	sessionID, _ := pub.Running()
	if cfg.Push.Token != "" && sessionID != "" {
		if err := rest.SavePushToken(ctx, sessionID, cfg.Push.Token); err != nil {
			log.Printf("Saving push token: %v", err)
		}
	}

	var watcher *score.Watcher
	if cfg.Score.Enabled {
		watcher = score.NewWatcher(source, rest, clock, cfg.Score.Interval, func(r score.Reading) {
			log.Printf("Safety score %.0f (%s) at %.5f,%.5f", r.Score.Score, r.Level, r.Lat, r.Lon)
		})
		go watcher.Run(ctx)
	}

	if headless {
		log.Printf("Running headless for session %q against %s", sessionID, cfg.Server.URL)
		<-ctx.Done()
		log.Println("Shutting down...")
		return nil
	}

	deps := app.Deps{
		Session:       sessionID,
		UnsafeLevel:   cfg.Stream.UnsafeLevel,
		Telemetry:     tc,
		Background:    sched,
		SOS:           sos,
		Notifications: notifications.C(),
		Clock:         clock,
	}
	if watcher != nil {
		deps.Scores = watcher
	}

	p := tea.NewProgram(app.New(deps), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("terminal UI: %w", err)
	}
	return nil
}

func loadRoute(path string) (location.Route, error) {
	if path == "" {
		return defaultRoute(), nil
	}
	rt, err := location.LoadRoute(path)
	if err != nil {
		return location.Route{}, fmt.Errorf("loading route: %w", err)
	}
	return rt, nil
}

// defaultRoute walks along the Brahmaputra riverfront in Guwahati.
func defaultRoute() location.Route {
	return location.Route{
		Speed:    1.4,
		Accuracy: 10,
		Loop:     true,
		Waypoints: []location.Waypoint{
			{Lat: 26.1865, Lon: 91.7445},
			{Lat: 26.1890, Lon: 91.7480},
			{Lat: 26.1902, Lon: 91.7512},
			{Lat: 26.1911, Lon: 91.7553},
		},
	}
}

func emergencySink(cfg *config.Config, db *sql.DB) (emergency.Sink, error) {
	switch cfg.Emergency.Sink {
	case "rtdb":
		return emergency.NewRealtimeDB(cfg.Emergency.RTDBURL, cfg.Emergency.RTDBAuth), nil
	case "postgres":
		if db == nil {
			return nil, errors.New("emergency sink postgres needs a database")
		}
		return emergency.NewPostgres(db), nil
	default:
		return emergency.NewMemory(func(e emergency.Entry) {
			log.Printf("SOS %s stored locally for %s", e.Key, e.Record.TouristID)
		}), nil
	}
}
