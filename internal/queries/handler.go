package queries

import (
	"log/slog"
	"net/http"

	"github.com/JaimeStill/herbtrace/internal/events"
	"github.com/JaimeStill/herbtrace/internal/profiles"
	"github.com/JaimeStill/herbtrace/pkg/handlers"
	"github.com/JaimeStill/herbtrace/pkg/pagination"
	"github.com/JaimeStill/herbtrace/pkg/routes"
)

// Handler provides the public read endpoints.
type Handler struct {
	sys        System
	logger     *slog.Logger
	pagination pagination.Config
}

// NewHandler creates a Handler with the given system, logger and pagination config.
func NewHandler(sys System, logger *slog.Logger, pagination pagination.Config) *Handler {
	return &Handler{
		sys:        sys,
		logger:     logger.With("handler", "queries"),
		pagination: pagination,
	}
}

// Routes returns the route group for read endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Routes: []routes.Route{
			{Method: "GET", Pattern: "/dashboard/{role}", Handler: h.Pending},
			{Method: "GET", Pattern: "/batches/{id}/timeline", Handler: h.Timeline},
			{Method: "GET", Pattern: "/batches/{id}/trail", Handler: h.Trail},
			{Method: "GET", Pattern: "/events", Handler: h.Events},
		},
	}
}

// Pending lists batches awaiting work by the role in the path.
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	result, err := h.sys.PendingForRole(r.Context(), profiles.Role(r.PathValue("role")))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, result)
}

// Timeline returns the full provenance log of the batch in the path.
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	result, err := h.sys.Timeline(r.Context(), r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, result)
}

// Trail returns the located events of the batch in the path.
func (h *Handler) Trail(w http.ResponseWriter, r *http.Request) {
	result, err := h.sys.GeoTrail(r.Context(), r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, result)
}

// Events returns a page of the flattened event view, optionally filtered by batch_id.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page := pagination.PageRequestFromQuery(query, h.pagination)

	var filter *string
	if id := query.Get("batch_id"); id != "" {
		filter = &id
	}

	all, err := h.sys.AllEvents(r.Context(), filter)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, pagination.Paginate(events.Records(all), page))
}
