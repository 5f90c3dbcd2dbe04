package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	dErrors "credrep/pkg/domain-errors"
	"credrep/pkg/platform/httputil"
	"credrep/pkg/requestcontext"
)

// Service defines the key/value operations exposed to the frontend.
type Service interface {
	GetData(ctx context.Context, key string) ([]byte, error)
	SetData(ctx context.Context, key string, value []byte) error
	IsAvailable(ctx context.Context) bool
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the routes. Keys may contain slashes.
func (h *Handler) Register(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.Get("/datastore/status", h.HandleStatus)
	r.Get("/data/*", h.HandleGet)
	r.With(requireAuth).Put("/data/*", h.HandleSet)
}

// DataResponse carries the value base64 encoded, as encoding/json does for []byte.
type DataResponse struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

type SetDataRequest struct {
	Value []byte `json:"value"`
}

type StatusResponse struct {
	Available bool `json:"available"`
}

// HandleGet handles GET /data/{key}. Unknown keys return an empty value.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	v, err := h.service.GetData(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, DataResponse{Key: key, Value: v})
}

// HandleSet handles PUT /data/{key}.
func (h *Handler) HandleSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := chi.URLParam(r, "*")
	var req SetDataRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Value == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "value is required"))
		return
	}
	if err := h.service.SetData(ctx, key, req.Value); err != nil {
		h.logger.WarnContext(ctx, "set data failed",
			"request_id", requestcontext.RequestID(ctx),
			"key", key,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleStatus handles GET /datastore/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	available := h.service.IsAvailable(r.Context())
	status := http.StatusOK
	if !available {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, StatusResponse{Available: available})
}
