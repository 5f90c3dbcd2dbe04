package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"credrep/internal/proof/models"
	id "credrep/pkg/domain"
	"credrep/pkg/platform/httputil"
	"credrep/pkg/requestcontext"
)

// Service defines the proof ledger operations exposed over HTTP.
type Service interface {
	Generate(ctx context.Context, subject id.Address, threshold uint32) (*models.ProofRecord, error)
	GenerateComposite(ctx context.Context, subject id.Address, thresholds []uint32) (*models.ProofRecord, error)
	GenerateTimeBound(ctx context.Context, subject id.Address, threshold uint32, validity time.Duration) (*models.ProofRecord, error)
	Get(ctx context.Context, proofID id.ProofID) (*models.ProofRecord, error)
	ListBySubject(ctx context.Context, subject id.Address) ([]*models.ProofRecord, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.With(requireAuth).Post("/proofs", h.HandleGenerate)
	r.With(requireAuth).Post("/proofs/composite", h.HandleGenerateComposite)
	r.With(requireAuth).Post("/proofs/time-bound", h.HandleGenerateTimeBound)
	r.Get("/proofs/{id}", h.HandleGet)
	r.Get("/subjects/{address}/proofs", h.HandleListBySubject)
}

// HandleGenerate handles POST /proofs.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[GenerateProofRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	rec, err := h.service.Generate(ctx, req.subject, *req.Threshold)
	h.respond(ctx, w, rec, err, "single")
}

// HandleGenerateComposite handles POST /proofs/composite.
func (h *Handler) HandleGenerateComposite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[CompositeProofRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	rec, err := h.service.GenerateComposite(ctx, req.subject, req.Thresholds)
	h.respond(ctx, w, rec, err, "composite")
}

// HandleGenerateTimeBound handles POST /proofs/time-bound.
func (h *Handler) HandleGenerateTimeBound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[TimeBoundProofRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	rec, err := h.service.GenerateTimeBound(ctx, req.subject, *req.Threshold, req.validity())
	h.respond(ctx, w, rec, err, "time_bound")
}

func (h *Handler) respond(ctx context.Context, w http.ResponseWriter, rec *models.ProofRecord, err error, kind string) {
	if err != nil {
		h.logger.WarnContext(ctx, "proof generation failed",
			"request_id", requestcontext.RequestID(ctx),
			"kind", kind,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromRecord(rec))
}

// HandleGet handles GET /proofs/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	proofID, err := httputil.ProofIDParam(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.service.Get(r.Context(), proofID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRecord(rec))
}

// HandleListBySubject handles GET /subjects/{address}/proofs.
func (h *Handler) HandleListBySubject(w http.ResponseWriter, r *http.Request) {
	subject, err := httputil.AddressParam(r, "address")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	recs, err := h.service.ListBySubject(r.Context(), subject)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := ProofListResponse{Proofs: make([]ProofResponse, 0, len(recs))}
	for _, rec := range recs {
		resp.Proofs = append(resp.Proofs, FromRecord(rec))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
