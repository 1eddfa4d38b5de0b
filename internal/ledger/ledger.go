// Package ledger is the client side of the append-only ledger contract that
// mirrors batch events for independent verification.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

var (
	// ErrGateway indicates the ledger gateway rejected or failed a call.
	ErrGateway = errors.New("ledger gateway error")
	// ErrNoReceipt indicates a submit that returned no transaction id.
	ErrNoReceipt = errors.New("ledger returned no transaction id")
	// ErrDisabled indicates the ledger provider is turned off.
	ErrDisabled = errors.New("ledger disabled")
)

// Entry is one event as stored by the ledger contract.
type Entry struct {
	EventType   string `json:"eventType"`
	BatchID     string `json:"batchId"`
	PayloadJSON string `json:"payloadJson"`
	IPFSHash    string `json:"ipfsHash"`
	Timestamp   string `json:"timestamp"`
}

// Receipt identifies the ledger transaction that recorded an event.
type Receipt struct {
	TxID string `json:"txId"`
}

// Client invokes the ledger contract.
type Client interface {
	AddEvent(ctx context.Context, eventType, batchID, payloadJSON, ipfsHash string) (Receipt, error)
	GetEvents(ctx context.Context, batchID string) ([]Entry, error)
}

// Provider names accepted in Config.Provider.
const (
	ProviderGateway  = "gateway"
	ProviderDisabled = "disabled"
)

// Config selects and addresses the ledger.
type Config struct {
	Provider  string `toml:"provider"`
	URL       string `toml:"url"`
	Channel   string `toml:"channel"`
	Chaincode string `toml:"chaincode"`
	Token     string `toml:"token"`
	Timeout   string `toml:"timeout"`
}

// Env maps config fields to environment variable names.
type Env struct {
	Provider  string
	URL       string
	Channel   string
	Chaincode string
	Token     string
	Timeout   string
}

// TimeoutDuration returns Timeout as a time.Duration.
func (c *Config) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// Enabled reports whether a real ledger is configured.
func (c *Config) Enabled() bool {
	return c.Provider != ProviderDisabled
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	if c.Provider == "" {
		c.Provider = ProviderDisabled
	}
	if c.Channel == "" {
		c.Channel = "mychannel"
	}
	if c.Chaincode == "" {
		c.Chaincode = "trace"
	}
	if c.Timeout == "" {
		c.Timeout = "15s"
	}

	if env != nil {
		for dst, name := range map[*string]string{
			&c.Provider:  env.Provider,
			&c.URL:       env.URL,
			&c.Channel:   env.Channel,
			&c.Chaincode: env.Chaincode,
			&c.Token:     env.Token,
			&c.Timeout:   env.Timeout,
		} {
			if name == "" {
				continue
			}
			if v := os.Getenv(name); v != "" {
				*dst = v
			}
		}
	}

	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	switch c.Provider {
	case ProviderDisabled:
		return nil
	case ProviderGateway:
		if c.URL == "" {
			return fmt.Errorf("url required for gateway provider")
		}
		return nil
	}
	return fmt.Errorf("unknown ledger provider %q", c.Provider)
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	for dst, v := range map[*string]string{
		&c.Provider:  overlay.Provider,
		&c.URL:       overlay.URL,
		&c.Channel:   overlay.Channel,
		&c.Chaincode: overlay.Chaincode,
		&c.Token:     overlay.Token,
		&c.Timeout:   overlay.Timeout,
	} {
		if v != "" {
			*dst = v
		}
	}
}

// New returns the client for cfg.Provider. A disabled ledger yields a client
// whose calls fail with ErrDisabled.
func New(cfg *Config, logger *slog.Logger) (Client, error) {
	switch cfg.Provider {
	case ProviderGateway:
		return NewGateway(cfg, &http.Client{Timeout: cfg.TimeoutDuration()}, logger), nil
	case ProviderDisabled:
		return disabled{}, nil
	}
	return nil, fmt.Errorf("unknown ledger provider %q", cfg.Provider)
}

type disabled struct{}

func (disabled) AddEvent(context.Context, string, string, string, string) (Receipt, error) {
	return Receipt{}, ErrDisabled
}

func (disabled) GetEvents(context.Context, string) ([]Entry, error) {
	return nil, ErrDisabled
}
