package storage

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Provider names accepted in Config.Provider.
const (
	ProviderLocal = "local"
	ProviderAzure = "azure"
	ProviderS3    = "s3"
)

// Config selects and configures the content-addressed object store.
type Config struct {
	Provider      string      `toml:"provider"`
	UploadTimeout string      `toml:"upload_timeout"`
	Local         LocalConfig `toml:"local"`
	Azure         AzureConfig `toml:"azure"`
	S3            S3Config    `toml:"s3"`
}

// LocalConfig roots objects in a directory on disk.
type LocalConfig struct {
	Root string `toml:"root"`
}

// AzureConfig addresses an Azure Blob Storage container. A connection string
// takes precedence; otherwise AccountURL is used with DefaultAzureCredential.
type AzureConfig struct {
	ContainerName    string `toml:"container_name"`
	ConnectionString string `toml:"connection_string"`
	AccountURL       string `toml:"account_url"`
}

// S3Config addresses an S3 (or S3-compatible) bucket.
type S3Config struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	UsePathStyle    bool   `toml:"use_path_style"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
}

// Env maps config fields to environment variable names.
type Env struct {
	Provider              string
	UploadTimeout         string
	LocalRoot             string
	AzureContainerName    string
	AzureConnectionString string
	AzureAccountURL       string
	S3Bucket              string
	S3Region              string
	S3Endpoint            string
	S3UsePathStyle        string
	S3AccessKeyID         string
	S3SecretAccessKey     string
}

// UploadTimeoutDuration returns UploadTimeout as a time.Duration.
func (c *Config) UploadTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.UploadTimeout)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	set(&c.Provider, overlay.Provider)
	set(&c.UploadTimeout, overlay.UploadTimeout)
	set(&c.Local.Root, overlay.Local.Root)
	set(&c.Azure.ContainerName, overlay.Azure.ContainerName)
	set(&c.Azure.ConnectionString, overlay.Azure.ConnectionString)
	set(&c.Azure.AccountURL, overlay.Azure.AccountURL)
	set(&c.S3.Bucket, overlay.S3.Bucket)
	set(&c.S3.Region, overlay.S3.Region)
	set(&c.S3.Endpoint, overlay.S3.Endpoint)
	set(&c.S3.AccessKeyID, overlay.S3.AccessKeyID)
	set(&c.S3.SecretAccessKey, overlay.S3.SecretAccessKey)
	if overlay.S3.UsePathStyle {
		c.S3.UsePathStyle = true
	}
}

func (c *Config) loadDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderLocal
	}
	if c.UploadTimeout == "" {
		c.UploadTimeout = "30s"
	}
	if c.Local.Root == "" {
		c.Local.Root = "data/objects"
	}
	if c.Azure.ContainerName == "" {
		c.Azure.ContainerName = "attachments"
	}
}

func (c *Config) loadEnv(env *Env) {
	setEnv(&c.Provider, env.Provider)
	setEnv(&c.UploadTimeout, env.UploadTimeout)
	setEnv(&c.Local.Root, env.LocalRoot)
	setEnv(&c.Azure.ContainerName, env.AzureContainerName)
	setEnv(&c.Azure.ConnectionString, env.AzureConnectionString)
	setEnv(&c.Azure.AccountURL, env.AzureAccountURL)
	setEnv(&c.S3.Bucket, env.S3Bucket)
	setEnv(&c.S3.Region, env.S3Region)
	setEnv(&c.S3.Endpoint, env.S3Endpoint)
	setEnv(&c.S3.AccessKeyID, env.S3AccessKeyID)
	setEnv(&c.S3.SecretAccessKey, env.S3SecretAccessKey)
	if env.S3UsePathStyle != "" {
		if b, err := strconv.ParseBool(os.Getenv(env.S3UsePathStyle)); err == nil {
			c.S3.UsePathStyle = b
		}
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.UploadTimeout); err != nil {
		return fmt.Errorf("invalid upload_timeout: %w", err)
	}

	switch c.Provider {
	case ProviderLocal:
		if c.Local.Root == "" {
			return fmt.Errorf("local.root required")
		}
	case ProviderAzure:
		if c.Azure.ConnectionString == "" && c.Azure.AccountURL == "" {
			return fmt.Errorf("azure.connection_string or azure.account_url required")
		}
	case ProviderS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket required")
		}
	default:
		return fmt.Errorf("unknown storage provider %q", c.Provider)
	}
	return nil
}

func set(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setEnv(dst *string, name string) {
	if name == "" {
		return
	}
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}
