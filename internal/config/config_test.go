package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/NagendraKandula/beacon/internal/geo"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
server:
  url: "https://safety.example.org"
session:
  id: "trip-42"
stream:
  backoff: 2s
  unsafe_level: "UNSAFE"
emergency:
  sink: rtdb
  rtdb_url: "https://beacon-demo.firebaseio.com"
devserver:
  port: 9000
  zones:
    - name: riverbank
      lat: 26.19
      lon: 91.75
      radius: 400
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.URL != "https://safety.example.org" {
		t.Errorf("Server.URL = %q", cfg.Server.URL)
	}
	if cfg.Session.ID != "trip-42" {
		t.Errorf("Session.ID = %q, want trip-42", cfg.Session.ID)
	}
	if cfg.Stream.Backoff != 2*time.Second {
		t.Errorf("Stream.Backoff = %v, want 2s", cfg.Stream.Backoff)
	}
	if cfg.Stream.UnsafeLevel != "UNSAFE" {
		t.Errorf("Stream.UnsafeLevel = %q", cfg.Stream.UnsafeLevel)
	}
	if cfg.Emergency.Sink != "rtdb" {
		t.Errorf("Emergency.Sink = %q, want rtdb", cfg.Emergency.Sink)
	}
	if len(cfg.DevServer.Zones) != 1 || cfg.DevServer.Zones[0].Radius != 400 {
		t.Errorf("DevServer.Zones = %+v", cfg.DevServer.Zones)
	}

	// Defaults should still be applied for unspecified fields.
	if cfg.Stream.Interval != 5*time.Second {
		t.Errorf("Stream.Interval = %v, want default 5s", cfg.Stream.Interval)
	}
	if cfg.Alert.Window != 30*time.Second {
		t.Errorf("Alert.Window = %v, want default 30s", cfg.Alert.Window)
	}
	if cfg.DevServer.Host != "127.0.0.1" {
		t.Errorf("DevServer.Host = %q, want default", cfg.DevServer.Host)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() on missing file should return error")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}

	// Should return defaults.
	if cfg.Stream.Backoff != 5*time.Second {
		t.Errorf("Stream.Backoff = %v, want default 5s", cfg.Stream.Backoff)
	}
	if cfg.Background.Interval != 30*time.Second {
		t.Errorf("Background.Interval = %v, want default 30s", cfg.Background.Interval)
	}
	if cfg.Emergency.Sink != "memory" {
		t.Errorf("Emergency.Sink = %q, want memory", cfg.Emergency.Sink)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(":::not valid yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath); err == nil {
		t.Fatal("Load() with invalid YAML should return error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero backoff", mutate: func(c *Config) { c.Stream.Backoff = 0 }, wantErr: "Backoff"},
		{name: "unknown sink", mutate: func(c *Config) { c.Emergency.Sink = "carrier-pigeon" }, wantErr: "Sink"},
		{name: "rtdb without url", mutate: func(c *Config) { c.Emergency.Sink = "rtdb" }, wantErr: "rtdb_url"},
		{name: "bad rtdb url", mutate: func(c *Config) {
			c.Emergency.Sink = "rtdb"
			c.Emergency.RTDBURL = "not a url"
		}, wantErr: "RTDBURL"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Emergency.Sink = "postgres" }, wantErr: "database.dsn"},
		{name: "zone off the globe", mutate: func(c *Config) {
			c.DevServer.Zones = []geo.Zone{{Name: "x", Lat: 123, Lon: 0, Radius: 10}}
		}, wantErr: "Lat"},
		{name: "zone without radius", mutate: func(c *Config) {
			c.DevServer.Zones = []geo.Zone{{Name: "x", Lat: 1, Lon: 1}}
		}, wantErr: "Radius"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvServerURL:   "http://10.0.0.5:8000",
		EnvSessionID:   "trip-7",
		EnvRTDBURL:     "https://beacon-demo.firebaseio.com",
		EnvRTDBAuth:    "secret",
		EnvPushToken:   "ExponentPushToken[abc]",
		EnvDevPort:     "9100",
		EnvDatabaseDSN: "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := defaultConfig()
	cfg.Database.DSN = "postgres://from-file"
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.URL != "http://10.0.0.5:8000" || cfg.Session.ID != "trip-7" {
		t.Errorf("server/session = %q, %q", cfg.Server.URL, cfg.Session.ID)
	}
	if cfg.Emergency.Sink != "rtdb" || cfg.Emergency.RTDBAuth != "secret" {
		t.Errorf("Emergency = %+v, want rtdb sink", cfg.Emergency)
	}
	if cfg.Push.Token != "ExponentPushToken[abc]" {
		t.Errorf("Push.Token = %q", cfg.Push.Token)
	}
	if cfg.DevServer.Port != 9100 {
		t.Errorf("DevServer.Port = %d, want 9100", cfg.DevServer.Port)
	}
	if cfg.Database.DSN != "postgres://from-file" {
		t.Errorf("empty env var overrode Database.DSN: %q", cfg.Database.DSN)
	}
}

func TestApplyEnvBadPort(t *testing.T) {
	cfg := defaultConfig()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		if k == EnvDevPort {
			return "eighty", true
		}
		return "", false
	})
	if err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("BEACON_TEST_ONLY_VAR=from-dotenv\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BEACON_TEST_ONLY_VAR", "")
	os.Unsetenv("BEACON_TEST_ONLY_VAR")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile() error: %v", err)
	}
	if got := os.Getenv("BEACON_TEST_ONLY_VAR"); got != "from-dotenv" {
		t.Errorf("BEACON_TEST_ONLY_VAR = %q", got)
	}
	if err := LoadEnvFile(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing file: %v", err)
	}
}
