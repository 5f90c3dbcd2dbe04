package handler

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"credrep/internal/reveal/models"
	id "credrep/pkg/domain"
	dErrors "credrep/pkg/domain-errors"
	"credrep/pkg/platform/httputil"
	"credrep/pkg/requestcontext"
)

// Service defines the reveal router operations exposed over HTTP.
type Service interface {
	RequestReveal(ctx context.Context, proofID id.ProofID) (*models.RevealReceipt, error)
	OnRevealCallback(ctx context.Context, requestID id.RequestID, cleartexts, attestation []byte) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the routes. The oracle callback is authenticated by its
// attestation, not by a caller token.
func (h *Handler) Register(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.With(requireAuth).Post("/proofs/{id}/reveal", h.HandleRequestReveal)
	r.Post("/oracle/callback", h.HandleCallback)
}

type RevealReceiptResponse struct {
	RequestID string `json:"request_id"`
	ProofID   uint64 `json:"proof_id"`
}

// CallbackRequest carries a decryption result. Byte fields are hex encoded,
// with or without a 0x prefix. RequestID is a decimal string so that 64-bit
// ids survive JSON number handling.
type CallbackRequest struct {
	RequestID   string `json:"request_id"`
	Cleartexts  string `json:"cleartexts"`
	Attestation string `json:"attestation"`

	requestID   id.RequestID
	cleartexts  []byte
	attestation []byte
}

func (r *CallbackRequest) Validate() error {
	reqID, err := id.ParseRequestID(r.RequestID)
	if err != nil {
		return err
	}
	r.requestID = reqID
	if r.cleartexts, err = decodeHex(r.Cleartexts); err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "cleartexts must be hex")
	}
	if r.attestation, err = decodeHex(r.Attestation); err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "attestation must be hex")
	}
	return nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}

// HandleRequestReveal handles POST /proofs/{id}/reveal. It returns as soon as
// the oracle has queued the job.
func (h *Handler) HandleRequestReveal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	proofID, err := httputil.ProofIDParam(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	receipt, err := h.service.RequestReveal(ctx, proofID)
	if err != nil {
		h.logger.WarnContext(ctx, "reveal request failed",
			"request_id", requestcontext.RequestID(ctx),
			"proof_id", proofID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, RevealReceiptResponse{
		RequestID: receipt.RequestID.String(),
		ProofID:   uint64(receipt.ProofID),
	})
}

// HandleCallback handles POST /oracle/callback.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[CallbackRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := h.service.OnRevealCallback(ctx, req.requestID, req.cleartexts, req.attestation); err != nil {
		h.logger.WarnContext(ctx, "oracle callback rejected",
			"request_id", requestID,
			"decryption_request", req.RequestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
