package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Storage backends understood by OpenDatabase.
const (
	BackendLevelDB = "leveldb"
	BackendMemory  = "memory"
)

type Config struct {
	ServiceName    string    `toml:"ServiceName"`
	Environment    string    `toml:"Environment"`
	LogLevel       string    `toml:"LogLevel"`
	DataDir        string    `toml:"DataDir"`
	Backend        string    `toml:"Backend"`
	ListenAddress  string    `toml:"ListenAddress"`
	AllowedOrigins []string  `toml:"AllowedOrigins"` // CORS; empty allows any origin
	MetricsEnabled bool      `toml:"MetricsEnabled"`
	StrictAmounts  bool      `toml:"StrictAmounts"`
	Journal        bool      `toml:"Journal"`        // receipt history and idempotency keys
	RequestTimeout int       `toml:"RequestTimeout"` // seconds
	Telemetry      Telemetry `toml:"telemetry"`
	RateLimit      RateLimit `toml:"ratelimit"`
}

// RateLimit throttles transaction submission per client. A zero
// RequestsPerMinute disables throttling.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// Telemetry configures OTLP trace export. An empty endpoint disables it.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Default returns the configuration written when no file exists.
func Default() *Config {
	return &Config{
		ServiceName:    "escrowchain",
		Environment:    "local",
		LogLevel:       "info",
		DataDir:        "./escrow-data",
		Backend:        BackendLevelDB,
		ListenAddress:  ":8080",
		MetricsEnabled: true,
		StrictAmounts:  false,
		Journal:        true,
		RequestTimeout: 10,
		RateLimit: RateLimit{
			RequestsPerMinute: 600,
			Burst:             20,
		},
	}
}

// Load loads the configuration from the given path, creating a default file if
// none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RequestTimeoutDuration converts RequestTimeout into a duration.
func (c *Config) RequestTimeoutDuration() time.Duration {
	if c == nil || c.RequestTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.RequestTimeout) * time.Second
}

func (c *Config) normalize() {
	c.ServiceName = strings.TrimSpace(c.ServiceName)
	if c.ServiceName == "" {
		c.ServiceName = "escrowchain"
	}
	c.Environment = strings.TrimSpace(c.Environment)
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = BackendLevelDB
	}
	c.DataDir = strings.TrimSpace(c.DataDir)
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
