package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/labconnect/lcp-gateway/internal/adapters"
	"github.com/labconnect/lcp-gateway/internal/directory"
	"github.com/labconnect/lcp-gateway/internal/models"
	"github.com/labconnect/lcp-gateway/internal/registry"
	"github.com/labconnect/lcp-gateway/internal/storage"
)

// Handler exposes the device directory over HTTP. It validates request
// shape and maps errors to status codes; business logic lives in the
// directory and below.
type Handler struct {
	directory *directory.Service
	logger    zerolog.Logger
}

// NewHandler creates the HTTP handler set.
func NewHandler(directory *directory.Service, logger zerolog.Logger) *Handler {
	return &Handler{directory: directory, logger: logger}
}

// Routes returns the directory's HTTP mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /devices", h.registerDevice)
	mux.HandleFunc("GET /devices", h.listDevices)
	mux.HandleFunc("GET /devices/{id}", h.getDevice)
	mux.HandleFunc("DELETE /devices/{id}", h.archiveDevice)
	mux.HandleFunc("POST /devices/{id}/reactivate", h.reactivateDevice)
	mux.HandleFunc("GET /devices/{id}/data", h.queryData)
	mux.HandleFunc("GET /devices/{id}/data/latest", h.latestData)
	mux.HandleFunc("POST /devices/{id}/fetch", h.fetchNow)
	mux.HandleFunc("POST /devices/{id}/commands", h.sendCommand)
	mux.HandleFunc("GET /health", h.health)
	return mux
}

func (h *Handler) registerDevice(w http.ResponseWriter, r *http.Request) {
	var record models.DeviceRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !record.Transport.Valid() {
		h.writeError(w, http.StatusBadRequest, "protocol must be one of bus, stream, polled-http")
		return
	}

	registered, err := h.directory.Register(r.Context(), record)
	if err != nil {
		h.writeMappedError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, registered)
}

func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	records, err := h.directory.List(r.Context())
	if err != nil {
		h.writeMappedError(w, err)
		return
	}
	if records == nil {
		records = []models.DeviceRecord{}
	}
	h.writeJSON(w, http.StatusOK, records)
}

func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request) {
	record, err := h.directory.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeMappedError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

func (h *Handler) archiveDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.directory.Archive(r.Context(), r.PathValue("id")); err != nil {
		h.writeMappedError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

func (h *Handler) reactivateDevice(w http.ResponseWriter, r *http.Request) {
	record, err := h.directory.Reactivate(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeMappedError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

func (h *Handler) queryData(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "from must be an RFC 3339 timestamp")
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "to must be an RFC 3339 timestamp")
		return
	}

	points, err := h.directory.QueryData(r.Context(), r.PathValue("id"), from, to)
	if err != nil {
		h.writeMappedError(w, err)
		return
	}
	if points == nil {
		points = []models.DataPoint{}
	}
	h.writeJSON(w, http.StatusOK, points)
}

func (h *Handler) latestData(w http.ResponseWriter, r *http.Request) {
	point, err := h.directory.LatestData(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeMappedError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, point)
}

func (h *Handler) fetchNow(w http.ResponseWriter, r *http.Request) {
	point, err := h.directory.FetchNow(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeMappedError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, point)
}

type commandRequest struct {
	Command    string                 `json:"command"`
	Parameters map[string]interface{} `json:"parameters"`
}

func (h *Handler) sendCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	outcome, err := h.directory.SendCommand(r.Context(), r.PathValue("id"), req.Command, req.Parameters)
	if err != nil {
		h.writeMappedError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to write response body")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeMappedError translates the gateway's error taxonomy to HTTP status
// codes. Callers' faults map to 4xx, transport faults to 502.
func (h *Handler) writeMappedError(w http.ResponseWriter, err error) {
	var (
		validationErr  *registry.ValidationError
		unsupported    *registry.UnsupportedTransportError
		conflict       *registry.TransportConflictError
		missingDetail  *adapters.MissingDetailError
		detailConflict *adapters.DetailConflictError
		commandErr     *adapters.CommandError
		connErr        *adapters.ConnectionError
	)

	switch {
	case errors.As(err, &validationErr), errors.As(err, &unsupported), errors.As(err, &missingDetail),
		errors.Is(err, adapters.ErrDestinationMissing):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &conflict), errors.As(err, &detailConflict),
		errors.Is(err, registry.ErrDeviceArchived), errors.Is(err, registry.ErrDeviceNotArchived):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrDeviceNotFound), errors.Is(err, storage.ErrNotFound), errors.Is(err, adapters.ErrDeviceNotRegistered):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, adapters.ErrCapabilityNotSupported):
		h.writeError(w, http.StatusMethodNotAllowed, err.Error())
	case errors.Is(err, adapters.ErrTimeout):
		h.writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &commandErr), errors.As(err, &connErr):
		h.writeError(w, http.StatusBadGateway, err.Error())
	default:
		// Unclassified errors may carry internals (DSNs, addresses); the
		// detail belongs in the log, not the response.
		h.logger.Error().Err(err).Msg("Unhandled error on HTTP boundary")
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}
