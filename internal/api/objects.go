package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/JaimeStill/herbtrace/pkg/handlers"
	"github.com/JaimeStill/herbtrace/pkg/routes"
	"github.com/JaimeStill/herbtrace/pkg/storage"
)

// objectsHandler serves stored attachments by content hash.
type objectsHandler struct {
	store  storage.System
	logger *slog.Logger
}

func newObjectsHandler(store storage.System, logger *slog.Logger) *objectsHandler {
	return &objectsHandler{
		store:  store,
		logger: logger.With("handler", "objects"),
	}
}

func (h *objectsHandler) routes() routes.Group {
	return routes.Group{
		Prefix: "/objects",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "/{hash}", Handler: h.download},
		},
	}
}

func (h *objectsHandler) download(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")

	body, err := h.store.Get(r.Context(), hash)
	if err != nil {
		handlers.RespondError(w, h.logger, storage.MapHTTPStatus(err), err)
		return
	}
	defer body.Close()

	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, body)
}
