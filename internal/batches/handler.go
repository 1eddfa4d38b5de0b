package batches

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/JaimeStill/herbtrace/internal/auth"
	"github.com/JaimeStill/herbtrace/internal/events"
	"github.com/JaimeStill/herbtrace/pkg/formatting"
	"github.com/JaimeStill/herbtrace/pkg/handlers"
	"github.com/JaimeStill/herbtrace/pkg/routes"
)

// Handler provides the HTTP endpoints for batch submissions.
type Handler struct {
	sys           System
	authn         auth.Authenticator
	logger        *slog.Logger
	maxUploadSize int64
}

// NewHandler creates a Handler. Every route requires an identity resolved by authn.
func NewHandler(sys System, authn auth.Authenticator, logger *slog.Logger, maxUploadSize int64) *Handler {
	return &Handler{
		sys:           sys,
		authn:         authn,
		logger:        logger.With("handler", "batches"),
		maxUploadSize: maxUploadSize,
	}
}

// Routes returns the route group for batch submissions.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/batches",
		Wrap:   auth.Require(h.authn, h.logger),
		Routes: []routes.Route{
			{Method: "POST", Pattern: "", Handler: h.Collect},
			{Method: "POST", Pattern: "/{id}/processing", Handler: h.Process},
			{Method: "POST", Pattern: "/{id}/quality", Handler: h.Test},
			{Method: "POST", Pattern: "/{id}/geo", Handler: h.RecordGeo},
		},
	}
}

// Collect accepts a multipart form with species, otherSpecies, quality,
// latitude, longitude and an optional "image" file.
func (h *Handler) Collect(w http.ResponseWriter, r *http.Request) {
	if err := h.parseForm(w, r); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	loc, err := formLocation(r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	image, err := formAttachment(r, "image")
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	cmd := CollectCommand{
		Species:      r.FormValue("species"),
		OtherSpecies: r.FormValue("otherSpecies"),
		Quality:      r.FormValue("quality"),
		Location:     loc,
		Image:        image,
	}

	e, err := h.sys.Collect(r.Context(), identity(r), cmd)
	h.respond(w, e, err)
}

// Process accepts a JSON ProcessCommand body for the batch in the path.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	var cmd ProcessCommand
	if err := h.decodeJSON(w, r, &cmd); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	cmd.BatchID = r.PathValue("id")

	e, err := h.sys.Process(r.Context(), identity(r), cmd)
	h.respond(w, e, err)
}

// Test accepts a multipart form with resultStatus, latitude, longitude and an
// optional "report" file for the batch in the path.
func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	if err := h.parseForm(w, r); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	loc, err := formLocation(r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	report, err := formAttachment(r, "report")
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	cmd := TestCommand{
		BatchID:      r.PathValue("id"),
		ResultStatus: r.FormValue("resultStatus"),
		Location:     loc,
		Report:       report,
	}

	e, err := h.sys.Test(r.Context(), identity(r), cmd)
	h.respond(w, e, err)
}

// RecordGeo accepts a JSON GeoCommand body for the batch in the path.
func (h *Handler) RecordGeo(w http.ResponseWriter, r *http.Request) {
	var cmd GeoCommand
	if err := h.decodeJSON(w, r, &cmd); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	cmd.BatchID = r.PathValue("id")

	e, err := h.sys.RecordGeo(r.Context(), identity(r), cmd)
	h.respond(w, e, err)
}

func (h *Handler) respond(w http.ResponseWriter, e events.Event, err error) {
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusCreated, events.Record{Event: e})
}

// decodeJSON reads a JSON body of at most maxUploadSize bytes into v.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w (%s)", ErrFileTooLarge, formatting.FormatBytes(h.maxUploadSize))
	}
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

// parseForm accepts multipart and url-encoded bodies up to maxUploadSize.
func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	// ParseMultipartForm hides ParseForm errors behind ErrNotMultipart, so
	// url-encoded bodies are parsed directly.
	var err error
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		err = r.ParseMultipartForm(h.maxUploadSize)
	} else {
		err = r.ParseForm()
	}
	if err == nil {
		return nil
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
		return fmt.Errorf("%w (%s)", ErrFileTooLarge, formatting.FormatBytes(h.maxUploadSize))
	}
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

func identity(r *http.Request) string {
	id, _ := auth.IdentityFrom(r.Context())
	return id
}

func formLocation(r *http.Request) (Location, error) {
	lat, err := formFloat(r, "latitude")
	if err != nil {
		return Location{}, err
	}
	long, err := formFloat(r, "longitude")
	if err != nil {
		return Location{}, err
	}
	return Location{Latitude: lat, Longitude: long}, nil
}

func formFloat(r *http.Request, field string) (*float64, error) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number", ErrValidation, field)
	}
	return &v, nil
}

func formAttachment(r *http.Request, field string) (*Attachment, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return &Attachment{Data: data, ContentType: header.Header.Get("Content-Type")}, nil
}
