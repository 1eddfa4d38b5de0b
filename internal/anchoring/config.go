package anchoring

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Guard kinds accepted in Config.Guard.
const (
	GuardMemory = "memory"
	GuardRedis  = "redis"
)

// Config bounds anchoring attempts.
type Config struct {
	Enabled       bool   `toml:"enabled"`
	Timeout       string `toml:"timeout"`
	MaxConcurrent int    `toml:"max_concurrent"`
	Guard         string `toml:"guard"`
	GuardTTL      string `toml:"guard_ttl"`
}

// Env maps config fields to environment variable names.
type Env struct {
	Enabled       string
	Timeout       string
	MaxConcurrent string
	Guard         string
}

// TimeoutDuration returns Timeout as a time.Duration.
func (c *Config) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// GuardTTLDuration returns GuardTTL as a time.Duration.
func (c *Config) GuardTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.GuardTTL)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	if c.Timeout == "" {
		c.Timeout = "20s"
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 4
	}
	if c.Guard == "" {
		c.Guard = GuardMemory
	}
	if c.GuardTTL == "" {
		c.GuardTTL = "720h"
	}

	if env != nil {
		if v := lookup(env.Enabled); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				c.Enabled = b
			}
		}
		if v := lookup(env.Timeout); v != "" {
			c.Timeout = v
		}
		if v := lookup(env.Guard); v != "" {
			c.Guard = v
		}
		if v := lookup(env.MaxConcurrent); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.MaxConcurrent = n
			}
		}
	}

	if d, err := time.ParseDuration(c.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	if _, err := time.ParseDuration(c.GuardTTL); err != nil {
		return fmt.Errorf("invalid guard_ttl: %w", err)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1")
	}
	if c.Guard != GuardMemory && c.Guard != GuardRedis {
		return fmt.Errorf("unknown guard %q", c.Guard)
	}
	return nil
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Enabled {
		c.Enabled = true
	}
	if overlay.Timeout != "" {
		c.Timeout = overlay.Timeout
	}
	if overlay.MaxConcurrent != 0 {
		c.MaxConcurrent = overlay.MaxConcurrent
	}
	if overlay.Guard != "" {
		c.Guard = overlay.Guard
	}
	if overlay.GuardTTL != "" {
		c.GuardTTL = overlay.GuardTTL
	}
}

func lookup(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
