// Package config loads the herbtrace service configuration from TOML files
// and HERBTRACE_* environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/JaimeStill/herbtrace/internal/anchoring"
	"github.com/JaimeStill/herbtrace/internal/auth"
	"github.com/JaimeStill/herbtrace/internal/eventstore"
	"github.com/JaimeStill/herbtrace/internal/ledger"
	"github.com/JaimeStill/herbtrace/internal/profiles"
	"github.com/JaimeStill/herbtrace/pkg/cache"
	"github.com/JaimeStill/herbtrace/pkg/database"
	"github.com/JaimeStill/herbtrace/pkg/storage"
	"github.com/JaimeStill/herbtrace/pkg/telemetry"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvHerbtraceEnv             = "HERBTRACE_ENV"
	EnvHerbtraceConfig          = "HERBTRACE_CONFIG"
	EnvHerbtraceShutdownTimeout = "HERBTRACE_SHUTDOWN_TIMEOUT"
	EnvHerbtraceVersion         = "HERBTRACE_VERSION"
)

var storeEnv = &eventstore.Env{
	Backend: "HERBTRACE_STORE_BACKEND",
	Path:    "HERBTRACE_STORE_PATH",
}

var databaseEnv = &database.Env{
	Host:            "HERBTRACE_DB_HOST",
	Port:            "HERBTRACE_DB_PORT",
	Name:            "HERBTRACE_DB_NAME",
	User:            "HERBTRACE_DB_USER",
	Password:        "HERBTRACE_DB_PASSWORD",
	SSLMode:         "HERBTRACE_DB_SSL_MODE",
	MaxOpenConns:    "HERBTRACE_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "HERBTRACE_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "HERBTRACE_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "HERBTRACE_DB_CONN_TIMEOUT",
}

var storageEnv = &storage.Env{
	Provider:              "HERBTRACE_STORAGE_PROVIDER",
	UploadTimeout:         "HERBTRACE_STORAGE_UPLOAD_TIMEOUT",
	LocalRoot:             "HERBTRACE_STORAGE_LOCAL_ROOT",
	AzureContainerName:    "HERBTRACE_STORAGE_CONTAINER_NAME",
	AzureConnectionString: "HERBTRACE_STORAGE_CONNECTION_STRING",
	AzureAccountURL:       "HERBTRACE_STORAGE_ACCOUNT_URL",
	S3Bucket:              "HERBTRACE_STORAGE_S3_BUCKET",
	S3Region:              "HERBTRACE_STORAGE_S3_REGION",
	S3Endpoint:            "HERBTRACE_STORAGE_S3_ENDPOINT",
	S3UsePathStyle:        "HERBTRACE_STORAGE_S3_USE_PATH_STYLE",
	S3AccessKeyID:         "HERBTRACE_STORAGE_S3_ACCESS_KEY_ID",
	S3SecretAccessKey:     "HERBTRACE_STORAGE_S3_SECRET_ACCESS_KEY",
}

var ledgerEnv = &ledger.Env{
	Provider:  "HERBTRACE_LEDGER_PROVIDER",
	URL:       "HERBTRACE_LEDGER_URL",
	Channel:   "HERBTRACE_LEDGER_CHANNEL",
	Chaincode: "HERBTRACE_LEDGER_CHAINCODE",
	Token:     "HERBTRACE_LEDGER_TOKEN",
	Timeout:   "HERBTRACE_LEDGER_TIMEOUT",
}

var anchoringEnv = &anchoring.Env{
	Enabled:       "HERBTRACE_ANCHORING_ENABLED",
	Timeout:       "HERBTRACE_ANCHORING_TIMEOUT",
	MaxConcurrent: "HERBTRACE_ANCHORING_MAX_CONCURRENT",
	Guard:         "HERBTRACE_ANCHORING_GUARD",
}

var cacheEnv = &cache.Env{
	Address:  "HERBTRACE_CACHE_ADDRESS",
	Password: "HERBTRACE_CACHE_PASSWORD",
	Database: "HERBTRACE_CACHE_DATABASE",
	Prefix:   "HERBTRACE_CACHE_PREFIX",
	Timeout:  "HERBTRACE_CACHE_TIMEOUT",
}

var telemetryEnv = &telemetry.Env{
	Enabled:  "HERBTRACE_TELEMETRY_ENABLED",
	Endpoint: "HERBTRACE_TELEMETRY_ENDPOINT",
	Insecure: "HERBTRACE_TELEMETRY_INSECURE",
}

var authEnv = &auth.Env{
	Mode:     "HERBTRACE_AUTH_MODE",
	Issuer:   "HERBTRACE_AUTH_ISSUER",
	JWKSURL:  "HERBTRACE_AUTH_JWKS_URL",
	ClientID: "HERBTRACE_AUTH_CLIENT_ID",
}

// Config is the root configuration for the herbtrace service.
type Config struct {
	Server          ServerConfig       `toml:"server"`
	API             APIConfig          `toml:"api"`
	Store           eventstore.Config  `toml:"store"`
	Database        database.Config    `toml:"database"`
	Storage         storage.Config     `toml:"storage"`
	Ledger          ledger.Config      `toml:"ledger"`
	Anchoring       anchoring.Config   `toml:"anchoring"`
	Cache           cache.Config       `toml:"cache"`
	Telemetry       telemetry.Config   `toml:"telemetry"`
	Auth            auth.Config        `toml:"auth"`
	Profiles        []profiles.Profile `toml:"profiles"`
	ShutdownTimeout string             `toml:"shutdown_timeout"`
	Version         string             `toml:"version"`
}

// Env returns the HERBTRACE_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvHerbtraceEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// Load reads the base config (HERBTRACE_CONFIG, or config.toml in the working
// directory) if present, applies any environment overlay, and finalizes all
// values. Without a base file, defaults and environment variables provide all
// configuration.
func Load() (*Config, error) {
	return LoadFile(basePath())
}

// LoadFile is Load with an explicit base file path.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(path); err == nil {
		loaded, err := load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs. A
// non-empty overlay profile list replaces the base list.
func (c *Config) Merge(overlay *Config) {
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	if len(overlay.Profiles) > 0 {
		c.Profiles = overlay.Profiles
	}
	c.Server.Merge(&overlay.Server)
	c.API.Merge(&overlay.API)
	c.Store.Merge(&overlay.Store)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.Ledger.Merge(&overlay.Ledger)
	c.Anchoring.Merge(&overlay.Anchoring)
	c.Cache.Merge(&overlay.Cache)
	c.Telemetry.Merge(&overlay.Telemetry)
	c.Auth.Merge(&overlay.Auth)
}

func (c *Config) finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Server.Finalize(serverEnv); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.API.Finalize(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Store.Finalize(storeEnv); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if c.Store.Backend == eventstore.BackendPostgres {
		if err := c.Database.Finalize(databaseEnv); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if err := c.Storage.Finalize(storageEnv); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Ledger.Finalize(ledgerEnv); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if err := c.Anchoring.Finalize(anchoringEnv); err != nil {
		return fmt.Errorf("anchoring: %w", err)
	}
	if c.Anchoring.Enabled && !c.Ledger.Enabled() {
		return fmt.Errorf("anchoring: enabled but ledger provider is %q", c.Ledger.Provider)
	}
	if err := c.Cache.Finalize(cacheEnv); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.Telemetry.Finalize(telemetryEnv); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if err := c.Auth.Finalize(authEnv); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}

func (c *Config) loadDefaults() {
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvHerbtraceShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
	if v := os.Getenv(EnvHerbtraceVersion); v != "" {
		c.Version = v
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func basePath() string {
	if v := os.Getenv(EnvHerbtraceConfig); v != "" {
		return v
	}
	return BaseConfigFile
}

func overlayPath() string {
	if env := os.Getenv(EnvHerbtraceEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
