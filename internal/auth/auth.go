// Package auth establishes the submitting identity of an HTTP request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/JaimeStill/herbtrace/pkg/handlers"
)

// ErrUnauthenticated indicates a request without a verifiable identity.
var ErrUnauthenticated = errors.New("authentication required")

// Modes accepted in Config.Mode.
const (
	ModeHeader = "header"
	ModeOIDC   = "oidc"
)

// Config selects how identities are established.
type Config struct {
	Mode     string `toml:"mode"`
	Header   string `toml:"header"`
	Issuer   string `toml:"issuer"`
	JWKSURL  string `toml:"jwks_url"`
	ClientID string `toml:"client_id"`
	Claim    string `toml:"claim"`
}

// Env maps config fields to environment variable names.
type Env struct {
	Mode     string
	Issuer   string
	JWKSURL  string
	ClientID string
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	if c.Mode == "" {
		c.Mode = ModeHeader
	}
	if c.Header == "" {
		c.Header = "X-Herbtrace-Identity"
	}
	if c.Claim == "" {
		c.Claim = "preferred_username"
	}

	if env != nil {
		for dst, name := range map[*string]string{
			&c.Mode:     env.Mode,
			&c.Issuer:   env.Issuer,
			&c.JWKSURL:  env.JWKSURL,
			&c.ClientID: env.ClientID,
		} {
			if name == "" {
				continue
			}
			if v := os.Getenv(name); v != "" {
				*dst = v
			}
		}
	}

	switch c.Mode {
	case ModeHeader:
		return nil
	case ModeOIDC:
		if c.Issuer == "" || c.JWKSURL == "" {
			return fmt.Errorf("oidc mode requires issuer and jwks_url")
		}
		return nil
	}
	return fmt.Errorf("unknown auth mode %q", c.Mode)
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	for dst, v := range map[*string]string{
		&c.Mode:     overlay.Mode,
		&c.Header:   overlay.Header,
		&c.Issuer:   overlay.Issuer,
		&c.JWKSURL:  overlay.JWKSURL,
		&c.ClientID: overlay.ClientID,
		&c.Claim:    overlay.Claim,
	} {
		if v != "" {
			*dst = v
		}
	}
}

// Authenticator extracts the identity from a request.
type Authenticator interface {
	Identify(r *http.Request) (string, error)
}

// New builds the authenticator for cfg.Mode.
func New(ctx context.Context, cfg *Config) (Authenticator, error) {
	switch cfg.Mode {
	case ModeHeader:
		return HeaderAuthenticator{Header: cfg.Header}, nil
	case ModeOIDC:
		keys := oidc.NewRemoteKeySet(ctx, cfg.JWKSURL)
		verifier := oidc.NewVerifier(cfg.Issuer, keys, &oidc.Config{
			ClientID:          cfg.ClientID,
			SkipClientIDCheck: cfg.ClientID == "",
		})
		return &OIDCAuthenticator{verifier: verifier, claim: cfg.Claim}, nil
	}
	return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
}

// HeaderAuthenticator trusts an identity header set by an upstream proxy.
type HeaderAuthenticator struct {
	Header string
}

func (a HeaderAuthenticator) Identify(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(a.Header))
	if id == "" {
		return "", ErrUnauthenticated
	}
	return id, nil
}

// OIDCAuthenticator verifies a bearer ID token and reads the identity claim.
type OIDCAuthenticator struct {
	verifier *oidc.IDTokenVerifier
	claim    string
}

func (a *OIDCAuthenticator) Identify(r *http.Request) (string, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return "", ErrUnauthenticated
	}

	token, err := a.verifier.Verify(r.Context(), raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	id, _ := claims[a.claim].(string)
	if id == "" {
		return "", fmt.Errorf("%w: claim %q missing", ErrUnauthenticated, a.claim)
	}
	return id, nil
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns the identity stored by Require.
func IdentityFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(identityKey{}).(string)
	return id, ok && id != ""
}

// Require wraps handlers so they only run for identified requests.
func Require(a Authenticator, logger *slog.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Identify(r)
			if err != nil {
				handlers.RespondError(w, logger, http.StatusUnauthorized, ErrUnauthenticated)
				return
			}
			next(w, r.WithContext(WithIdentity(r.Context(), id)))
		}
	}
}
