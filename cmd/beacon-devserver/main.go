package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/NagendraKandula/beacon/internal/config"
	"github.com/NagendraKandula/beacon/internal/devserver"
)

func main() {
	configPath := flag.StringP("config", "c", "config.yaml", "Path to config file")
	envFile := flag.String("env-file", ".env", "Path to a dotenv file")
	host := flag.String("host", "", "Override listen host")
	port := flag.IntP("port", "p", 0, "Override listen port")
	maxFeed := flag.Int("max-feed-clients", 0, "Limit concurrent dashboard feed connections (0 = unlimited)")
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
	if *host != "" {
		cfg.DevServer.Host = *host
	}
	if *port > 0 {
		cfg.DevServer.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	srv := devserver.New(devserver.Options{
		Zones:          cfg.DevServer.Zones,
		SafeLevel:      cfg.DevServer.SafeLevel,
		UnsafeLevel:    cfg.DevServer.UnsafeLevel,
		AuthToken:      cfg.Server.Token,
		MaxFeedClients: *maxFeed,
	})
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Monitoring stand-in with %d risk zones", len(cfg.DevServer.Zones))
	if err := devserver.ListenAndServe(ctx, cfg.DevServer.Host, cfg.DevServer.Port, srv.Handler()); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Shutting down...")
}
