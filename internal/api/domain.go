package api

import (
	"github.com/JaimeStill/herbtrace/internal/batches"
	"github.com/JaimeStill/herbtrace/internal/queries"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Batches batches.System
	Queries queries.System
}

// NewDomain creates all domain systems from the API runtime.
func NewDomain(runtime *Runtime) *Domain {
	var opts []batches.Option
	if runtime.AnchoringEnabled && runtime.Anchoring != nil {
		opts = append(opts, batches.WithDispatcher(runtime.Anchoring))
	}

	batchesSystem := batches.New(
		runtime.Store,
		runtime.Storage,
		runtime.Profiles,
		runtime.Auth,
		runtime.Logger,
		opts...,
	)

	queriesSystem := queries.New(
		runtime.Store,
		runtime.Logger,
		runtime.Pagination,
	)

	return &Domain{
		Batches: batchesSystem,
		Queries: queriesSystem,
	}
}
