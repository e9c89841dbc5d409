package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/NagendraKandula/beacon/internal/geo"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Session    SessionConfig    `yaml:"session"`
	Database   DatabaseConfig   `yaml:"database"`
	Location   LocationConfig   `yaml:"location"`
	Stream     StreamConfig     `yaml:"stream"`
	Background BackgroundConfig `yaml:"background"`
	Alert      AlertConfig      `yaml:"alert"`
	Emergency  EmergencyConfig  `yaml:"emergency"`
	Score      ScoreConfig      `yaml:"score"`
	Push       PushConfig       `yaml:"push"`
	DevServer  DevServerConfig  `yaml:"devserver"`
}

// ServerConfig locates the monitoring service.
type ServerConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type SessionConfig struct {
	ID string `yaml:"id"` // fixed trip id; empty means look it up in the database
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type LocationConfig struct {
	Route      string `yaml:"route"` // simulated route file
	Foreground bool   `yaml:"foreground"`
	Background bool   `yaml:"background"`
}

type StreamConfig struct {
	Interval     time.Duration `yaml:"interval" validate:"gt=0"`
	MinDistance  float64       `yaml:"min_distance" validate:"gte=0"`
	Backoff      time.Duration `yaml:"backoff" validate:"gt=0"`
	PingInterval time.Duration `yaml:"ping_interval" validate:"gte=0"`
	PongTimeout  time.Duration `yaml:"pong_timeout" validate:"gte=0"`
	UnsafeLevel  string        `yaml:"unsafe_level" validate:"required"`
}

type BackgroundConfig struct {
	Interval    time.Duration `yaml:"interval" validate:"gt=0"`
	MinDistance float64       `yaml:"min_distance" validate:"gte=0"`
}

type AlertConfig struct {
	Window time.Duration `yaml:"window" validate:"gt=0"`
}

type EmergencyConfig struct {
	Sink     string `yaml:"sink" validate:"oneof=memory rtdb postgres"`
	RTDBURL  string `yaml:"rtdb_url" validate:"omitempty,url"`
	RTDBAuth string `yaml:"rtdb_auth"`
}

type ScoreConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
}

type PushConfig struct {
	Token string `yaml:"token"`
}

type DevServerConfig struct {
	Host        string     `yaml:"host" validate:"required"`
	Port        int        `yaml:"port" validate:"gt=0,lte=65535"`
	SafeLevel   string     `yaml:"safe_level" validate:"required"`
	UnsafeLevel string     `yaml:"unsafe_level" validate:"required"`
	Zones       []geo.Zone `yaml:"zones" validate:"dive"`
}

func defaultConfig() *Config {
	return &Config{
		Location: LocationConfig{
			Foreground: true,
			Background: true,
		},
		Stream: StreamConfig{
			Interval:     5 * time.Second,
			MinDistance:  5,
			Backoff:      5 * time.Second,
			PingInterval: 30 * time.Second,
			PongTimeout:  90 * time.Second,
			UnsafeLevel:  "🚨 Unsafe",
		},
		Background: BackgroundConfig{
			Interval:    30 * time.Second,
			MinDistance: 10,
		},
		Alert: AlertConfig{
			Window: 30 * time.Second,
		},
		Emergency: EmergencyConfig{
			Sink: "memory",
		},
		Score: ScoreConfig{
			Enabled:  true,
			Interval: 60 * time.Second,
		},
		DevServer: DevServerConfig{
			Host:        "127.0.0.1",
			Port:        8000,
			SafeLevel:   "✅ Safe",
			UnsafeLevel: "🚨 Unsafe",
		},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// LoadEnvFile adds the variables in a dotenv file to the process
// environment. Variables already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Environment variables that override the file.
const (
	EnvServerURL   = "BEACON_SERVER_URL"
	EnvServerToken = "BEACON_SERVER_TOKEN"
	EnvSessionID   = "BEACON_SESSION_ID"
	EnvDatabaseDSN = "BEACON_DATABASE_DSN"
	EnvRTDBURL     = "BEACON_RTDB_URL"
	EnvRTDBAuth    = "BEACON_RTDB_AUTH"
	EnvPushToken   = "BEACON_PUSH_TOKEN"
	EnvDevPort     = "BEACON_DEVSERVER_PORT"
)

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv
// outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for env, dst := range map[string]*string{
		EnvServerURL:   &c.Server.URL,
		EnvServerToken: &c.Server.Token,
		EnvSessionID:   &c.Session.ID,
		EnvDatabaseDSN: &c.Database.DSN,
		EnvRTDBURL:     &c.Emergency.RTDBURL,
		EnvRTDBAuth:    &c.Emergency.RTDBAuth,
		EnvPushToken:   &c.Push.Token,
	} {
		if v, ok := lookup(env); ok && v != "" {
			*dst = v
		}
	}
	if c.Emergency.RTDBURL != "" && c.Emergency.Sink == "memory" {
		c.Emergency.Sink = "rtdb"
	}

	if v, ok := lookup(EnvDevPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDevPort, err)
		}
		c.DevServer.Port = port
	}
	return nil
}

var validate = validator.New()

// Validate checks ranges and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch {
	case c.Emergency.Sink == "postgres" && c.Database.DSN == "":
		return errors.New("invalid config: emergency sink postgres needs database.dsn")
	case c.Emergency.Sink == "rtdb" && c.Emergency.RTDBURL == "":
		return errors.New("invalid config: emergency sink rtdb needs emergency.rtdb_url")
	}
	return nil
}
