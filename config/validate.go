package config

import (
	"fmt"
	"strings"
)

func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	switch cfg.Backend {
	case BackendLevelDB:
		if strings.TrimSpace(cfg.DataDir) == "" {
			return fmt.Errorf("config: DataDir required for %s backend", BackendLevelDB)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unsupported backend %q", cfg.Backend)
	}
	if cfg.RequestTimeout < 0 {
		return fmt.Errorf("config: RequestTimeout must not be negative")
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("config: telemetry SampleRatio must be within [0,1]")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("config: ratelimit values must not be negative")
	}
	return nil
}
