package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ServerEnv names the environment variables that override ServerConfig.
type ServerEnv struct {
	Host              string
	Port              string
	ReadTimeout       string
	ReadHeaderTimeout string
	WriteTimeout      string
	IdleTimeout       string
	DrainTimeout      string
}

var serverEnv = &ServerEnv{
	Host:              "HERBTRACE_SERVER_HOST",
	Port:              "HERBTRACE_SERVER_PORT",
	ReadTimeout:       "HERBTRACE_SERVER_READ_TIMEOUT",
	ReadHeaderTimeout: "HERBTRACE_SERVER_READ_HEADER_TIMEOUT",
	WriteTimeout:      "HERBTRACE_SERVER_WRITE_TIMEOUT",
	IdleTimeout:       "HERBTRACE_SERVER_IDLE_TIMEOUT",
	DrainTimeout:      "HERBTRACE_SERVER_DRAIN_TIMEOUT",
}

// ServerConfig holds HTTP listener parameters. Read and write timeouts bound a
// whole request, so they must leave room for image and report uploads.
// DrainTimeout bounds how long in-flight requests get once shutdown starts.
type ServerConfig struct {
	Host              string `toml:"host"`
	Port              int    `toml:"port"`
	ReadTimeout       string `toml:"read_timeout"`
	ReadHeaderTimeout string `toml:"read_header_timeout"`
	WriteTimeout      string `toml:"write_timeout"`
	IdleTimeout       string `toml:"idle_timeout"`
	DrainTimeout      string `toml:"drain_timeout"`
}

func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *ServerConfig) ReadTimeoutDuration() time.Duration       { return duration(c.ReadTimeout) }
func (c *ServerConfig) ReadHeaderTimeoutDuration() time.Duration { return duration(c.ReadHeaderTimeout) }
func (c *ServerConfig) WriteTimeoutDuration() time.Duration      { return duration(c.WriteTimeout) }
func (c *ServerConfig) IdleTimeoutDuration() time.Duration       { return duration(c.IdleTimeout) }
func (c *ServerConfig) DrainTimeoutDuration() time.Duration      { return duration(c.DrainTimeout) }

// Finalize applies defaults, environment overrides, then validation.
func (c *ServerConfig) Finalize(env *ServerEnv) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

func (c *ServerConfig) Merge(overlay *ServerConfig) {
	if overlay.Host != "" {
		c.Host = overlay.Host
	}
	if overlay.Port != 0 {
		c.Port = overlay.Port
	}
	for _, f := range []struct{ dst, src *string }{
		{&c.ReadTimeout, &overlay.ReadTimeout},
		{&c.ReadHeaderTimeout, &overlay.ReadHeaderTimeout},
		{&c.WriteTimeout, &overlay.WriteTimeout},
		{&c.IdleTimeout, &overlay.IdleTimeout},
		{&c.DrainTimeout, &overlay.DrainTimeout},
	} {
		if *f.src != "" {
			*f.dst = *f.src
		}
	}
}

func (c *ServerConfig) loadDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == "" {
		c.ReadTimeout = "2m"
	}
	if c.ReadHeaderTimeout == "" {
		c.ReadHeaderTimeout = "10s"
	}
	if c.WriteTimeout == "" {
		c.WriteTimeout = "2m"
	}
	if c.IdleTimeout == "" {
		c.IdleTimeout = "90s"
	}
	if c.DrainTimeout == "" {
		c.DrainTimeout = "15s"
	}
}

func (c *ServerConfig) loadEnv(env *ServerEnv) {
	if v := os.Getenv(env.Host); v != "" {
		c.Host = v
	}
	if v := os.Getenv(env.Port); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	for _, f := range []struct {
		dst *string
		key string
	}{
		{&c.ReadTimeout, env.ReadTimeout},
		{&c.ReadHeaderTimeout, env.ReadHeaderTimeout},
		{&c.WriteTimeout, env.WriteTimeout},
		{&c.IdleTimeout, env.IdleTimeout},
		{&c.DrainTimeout, env.DrainTimeout},
	} {
		if v := os.Getenv(f.key); v != "" {
			*f.dst = v
		}
	}
}

func (c *ServerConfig) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	for name, v := range map[string]string{
		"read_timeout":        c.ReadTimeout,
		"read_header_timeout": c.ReadHeaderTimeout,
		"write_timeout":       c.WriteTimeout,
		"idle_timeout":        c.IdleTimeout,
		"drain_timeout":       c.DrainTimeout,
	} {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("invalid %s: %q", name, v)
		}
	}
	return nil
}

func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
