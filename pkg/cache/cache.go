// Package cache owns the shared Redis client.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JaimeStill/herbtrace/pkg/lifecycle"
)

// Config holds Redis connection parameters.
type Config struct {
	Address  string `toml:"address"`
	Password string `toml:"password"`
	Database int    `toml:"database"`
	Prefix   string `toml:"prefix"`
	Timeout  string `toml:"timeout"`
	PoolSize int    `toml:"pool_size"`
}

// Env maps config fields to environment variable names.
type Env struct {
	Address  string
	Password string
	Database string
	Prefix   string
	Timeout  string
}

// TimeoutDuration returns Timeout as a time.Duration.
func (c *Config) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	if c.Address == "" {
		c.Address = "localhost:6379"
	}
	if c.Prefix == "" {
		c.Prefix = "herbtrace:"
	}
	if c.Timeout == "" {
		c.Timeout = "3s"
	}
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}

	if env != nil {
		if v := lookup(env.Address); v != "" {
			c.Address = v
		}
		if v := lookup(env.Password); v != "" {
			c.Password = v
		}
		if v := lookup(env.Prefix); v != "" {
			c.Prefix = v
		}
		if v := lookup(env.Timeout); v != "" {
			c.Timeout = v
		}
		if v := lookup(env.Database); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.Database = n
			}
		}
	}

	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	if c.Database < 0 {
		return fmt.Errorf("database must be non-negative")
	}
	return nil
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Address != "" {
		c.Address = overlay.Address
	}
	if overlay.Password != "" {
		c.Password = overlay.Password
	}
	if overlay.Database != 0 {
		c.Database = overlay.Database
	}
	if overlay.Prefix != "" {
		c.Prefix = overlay.Prefix
	}
	if overlay.Timeout != "" {
		c.Timeout = overlay.Timeout
	}
	if overlay.PoolSize != 0 {
		c.PoolSize = overlay.PoolSize
	}
}

// System exposes the Redis client with the configured key namespace.
type System interface {
	Client() *redis.Client
	// Key joins parts under the configured prefix.
	Key(parts ...string) string
	Timeout() time.Duration
	Start(lc *lifecycle.Coordinator) error
}

type cache struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// New builds the client. The connection is opened lazily by go-redis.
func New(cfg *Config, logger *slog.Logger) System {
	timeout := cfg.TimeoutDuration()
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	return &cache{
		client:  client,
		prefix:  cfg.Prefix,
		timeout: timeout,
		logger:  logger.With("system", "cache"),
	}
}

func (c *cache) Client() *redis.Client      { return c.client }
func (c *cache) Timeout() time.Duration     { return c.timeout }
func (c *cache) Key(parts ...string) string { return c.prefix + strings.Join(parts, ":") }

func (c *cache) Start(lc *lifecycle.Coordinator) error {
	lc.OnStartup(func() {
		ctx, cancel := context.WithTimeout(lc.Context(), c.timeout)
		defer cancel()

		if err := c.client.Ping(ctx).Err(); err != nil {
			c.logger.Error("redis ping failed", "error", err)
			return
		}
		c.logger.Info("redis connection established")
	})

	lc.OnClose(func() {
		if err := c.client.Close(); err != nil {
			c.logger.Error("redis close failed", "error", err)
		}
	})

	return nil
}

func lookup(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
