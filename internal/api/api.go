// Package api mounts the batch submission, provenance query and object
// download routes under the configured base path.
package api

import (
	"net/http"

	"github.com/JaimeStill/herbtrace/internal/config"
	"github.com/JaimeStill/herbtrace/internal/infrastructure"
	"github.com/JaimeStill/herbtrace/pkg/middleware"
	"github.com/JaimeStill/herbtrace/pkg/module"
	"github.com/JaimeStill/herbtrace/pkg/routes"
)

func NewModule(cfg *config.Config, infra *infrastructure.Infrastructure) (*module.Module, error) {
	runtime := NewRuntime(cfg, infra)
	domain := NewDomain(runtime)

	mux := http.NewServeMux()
	routes.Register(
		mux,
		domain.Batches.Handler(runtime.MaxUploadSize).Routes(),
		domain.Queries.Handler().Routes(),
		newObjectsHandler(runtime.Storage, runtime.Logger).routes(),
	)

	m := module.New(cfg.API.BasePath, mux)
	m.Use(middleware.CORS(&cfg.API.CORS))
	m.Use(middleware.Logger(runtime.Logger))

	runtime.Logger.Info("api module ready",
		"base_path", cfg.API.BasePath,
		"anchoring", runtime.AnchoringEnabled,
		"profiles", len(runtime.Profiles.Identities()),
	)
	return m, nil
}
