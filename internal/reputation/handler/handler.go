package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"credrep/internal/fhe"
	"credrep/internal/reputation/models"
	id "credrep/pkg/domain"
	"credrep/pkg/platform/httputil"
	"credrep/pkg/requestcontext"
)

// Service defines the profile operations exposed over HTTP.
type Service interface {
	Recompute(ctx context.Context, subject id.Address) (*models.Profile, error)
	Get(ctx context.Context, subject id.Address) (*models.Profile, error)
	Metric(ctx context.Context, subject id.Address, metric models.Metric) (*models.MetricValue, error)
	AllMetrics(ctx context.Context, subject id.Address) ([]*models.MetricValue, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.Get("/profiles/{address}", h.HandleGet)
	r.With(requireAuth).Post("/profiles/{address}/recompute", h.HandleRecompute)
	r.Get("/profiles/{address}/metrics", h.HandleAllMetrics)
	r.Get("/profiles/{address}/metrics/{metric}", h.HandleMetric)
}

type ProfileResponse struct {
	Subject         string         `json:"subject"`
	TotalScore      fhe.Ciphertext `json:"total_score"`
	TrustLevel      fhe.Ciphertext `json:"trust_level"`
	CredentialCount fhe.Ciphertext `json:"credential_count"`
	UpdatedAt       time.Time      `json:"updated_at"`
	RecomputedAt    *time.Time     `json:"recomputed_at,omitempty"`
}

func FromProfile(p *models.Profile) ProfileResponse {
	return ProfileResponse{
		Subject:         p.Subject.Hex(),
		TotalScore:      p.TotalScore,
		TrustLevel:      p.TrustLevel,
		CredentialCount: p.CredentialCount,
		UpdatedAt:       p.UpdatedAt,
		RecomputedAt:    p.RecomputedAt,
	}
}

type MetricResponse struct {
	Subject string         `json:"subject"`
	Metric  string         `json:"metric"`
	Value   fhe.Ciphertext `json:"value"`
}

type MetricsResponse struct {
	Subject string           `json:"subject"`
	Metrics []MetricResponse `json:"metrics"`
}

func fromMetric(v *models.MetricValue) MetricResponse {
	return MetricResponse{Subject: v.Subject.Hex(), Metric: string(v.Metric), Value: v.Value}
}

// HandleGet handles GET /profiles/{address}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	subject, err := httputil.AddressParam(r, "address")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := h.service.Get(r.Context(), subject)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromProfile(p))
}

// HandleRecompute handles POST /profiles/{address}/recompute.
func (h *Handler) HandleRecompute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	subject, err := httputil.AddressParam(r, "address")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := h.service.Recompute(ctx, subject)
	if err != nil {
		h.logger.WarnContext(ctx, "recompute failed",
			"request_id", requestcontext.RequestID(ctx),
			"subject", subject.Hex(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "profile recomputed",
		"request_id", requestcontext.RequestID(ctx),
		"subject", subject.Hex(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromProfile(p))
}

// HandleAllMetrics handles GET /profiles/{address}/metrics.
func (h *Handler) HandleAllMetrics(w http.ResponseWriter, r *http.Request) {
	subject, err := httputil.AddressParam(r, "address")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	values, err := h.service.AllMetrics(r.Context(), subject)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := MetricsResponse{Subject: subject.Hex(), Metrics: make([]MetricResponse, 0, len(values))}
	for _, v := range values {
		resp.Metrics = append(resp.Metrics, fromMetric(v))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleMetric handles GET /profiles/{address}/metrics/{metric}.
func (h *Handler) HandleMetric(w http.ResponseWriter, r *http.Request) {
	subject, err := httputil.AddressParam(r, "address")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	metric, err := models.ParseMetric(chi.URLParam(r, "metric"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	v, err := h.service.Metric(r.Context(), subject, metric)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromMetric(v))
}
