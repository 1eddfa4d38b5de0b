// Package infrastructure provides core service initialization for application startup.
// It assembles the event store, object storage, ledger client, anchoring service and
// the other shared systems that domain modules require.
package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/JaimeStill/herbtrace/internal/anchoring"
	"github.com/JaimeStill/herbtrace/internal/auth"
	"github.com/JaimeStill/herbtrace/internal/config"
	"github.com/JaimeStill/herbtrace/internal/eventstore"
	"github.com/JaimeStill/herbtrace/internal/ledger"
	"github.com/JaimeStill/herbtrace/internal/profiles"
	"github.com/JaimeStill/herbtrace/pkg/cache"
	"github.com/JaimeStill/herbtrace/pkg/database"
	"github.com/JaimeStill/herbtrace/pkg/lifecycle"
	"github.com/JaimeStill/herbtrace/pkg/storage"
	"github.com/JaimeStill/herbtrace/pkg/telemetry"
)

// Infrastructure holds the core systems required by all domain modules.
// Database is nil unless the store backend is postgres, Cache is nil unless
// the anchoring guard is redis, and Anchoring is nil while the ledger is
// disabled.
type Infrastructure struct {
	Lifecycle *lifecycle.Coordinator
	Logger    *slog.Logger
	Database  database.System
	Store     eventstore.Store
	Storage   storage.System
	Cache     cache.System
	Telemetry telemetry.System
	Ledger    ledger.Client
	Anchoring *anchoring.Service
	Profiles  *profiles.Registry
	Auth      auth.Authenticator

	// AnchoringEnabled reports whether new stage events are dispatched for anchoring.
	AnchoringEnabled bool
}

// New creates an Infrastructure from the application configuration.
// It initializes all systems but does not start them; call Start separately.
func New(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	lc := lifecycle.New()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	infra := &Infrastructure{
		Lifecycle:        lc,
		Logger:           logger,
		AnchoringEnabled: cfg.Anchoring.Enabled,
	}

	registry, err := profiles.NewRegistry(cfg.Profiles)
	if err != nil {
		return nil, fmt.Errorf("profiles init failed: %w", err)
	}
	infra.Profiles = registry

	if cfg.Store.Backend == eventstore.BackendPostgres {
		db, err := database.New(&cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("database init failed: %w", err)
		}
		infra.Database = db
	}

	store, err := eventstore.New(&cfg.Store, func() (*eventstore.PostgresStore, error) {
		return eventstore.NewPostgres(infra.Database.Connection(), logger), nil
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("event store init failed: %w", err)
	}
	infra.Store = store

	objects, err := storage.New(ctx, &cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}
	infra.Storage = objects

	tel, err := telemetry.New(ctx, &cfg.Telemetry, cfg.Version, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	infra.Telemetry = tel

	client, err := ledger.New(&cfg.Ledger, logger)
	if err != nil {
		return nil, fmt.Errorf("ledger init failed: %w", err)
	}
	infra.Ledger = client

	if cfg.Ledger.Enabled() {
		guard, err := infra.newGuard(cfg)
		if err != nil {
			return nil, err
		}
		infra.Anchoring = anchoring.New(
			&cfg.Anchoring,
			store,
			client,
			guard,
			tel.Tracer("github.com/JaimeStill/herbtrace/internal/anchoring"),
			lc,
			logger,
		)
	}

	authn, err := auth.New(ctx, &cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth init failed: %w", err)
	}
	infra.Auth = authn

	return infra, nil
}

func (i *Infrastructure) newGuard(cfg *config.Config) (anchoring.Guard, error) {
	switch cfg.Anchoring.Guard {
	case anchoring.GuardRedis:
		i.Cache = cache.New(&cfg.Cache, i.Logger)
		return anchoring.NewRedisGuard(i.Cache, cfg.Anchoring.GuardTTLDuration()), nil
	case anchoring.GuardMemory:
		return anchoring.NewMemoryGuard(), nil
	}
	return nil, fmt.Errorf("unknown anchoring guard %q", cfg.Anchoring.Guard)
}

// Start registers all infrastructure systems with the lifecycle coordinator.
func (i *Infrastructure) Start() error {
	if i.Database != nil {
		if err := i.Database.Start(i.Lifecycle); err != nil {
			return fmt.Errorf("database start failed: %w", err)
		}
	}
	if err := i.Storage.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("storage start failed: %w", err)
	}
	if i.Cache != nil {
		if err := i.Cache.Start(i.Lifecycle); err != nil {
			return fmt.Errorf("cache start failed: %w", err)
		}
	}
	if err := i.Telemetry.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("telemetry start failed: %w", err)
	}
	return nil
}
