package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"credrep/internal/auth/models"
	id "credrep/pkg/domain"
	"credrep/pkg/platform/httputil"
	"credrep/pkg/requestcontext"
)

// Service defines the admin token operations.
type Service interface {
	MintCallerToken(ctx context.Context, caller id.Address) (*models.IssuedToken, error)
	RevokeTokens(ctx context.Context, jtis []string) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the admin routes. requireAdmin guards all of them.
func (h *Handler) Register(r chi.Router, requireAdmin func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(requireAdmin)
		r.Post("/admin/tokens", h.HandleMint)
		r.Post("/admin/tokens/revoke", h.HandleRevoke)
	})
}

type MintTokenRequest struct {
	Caller string `json:"caller"`

	caller id.Address
}

func (r *MintTokenRequest) Validate() error {
	addr, err := id.ParseAddress(r.Caller)
	if err != nil {
		return err
	}
	r.caller = addr
	return nil
}

type MintTokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	TokenID     string    `json:"token_id"`
	Caller      string    `json:"caller"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type RevokeTokensRequest struct {
	TokenIDs []string `json:"token_ids"`
}

// HandleMint handles POST /admin/tokens.
func (h *Handler) HandleMint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[MintTokenRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	issued, err := h.service.MintCallerToken(ctx, req.caller)
	if err != nil {
		h.logger.ErrorContext(ctx, "mint caller token failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, MintTokenResponse{
		AccessToken: issued.Token,
		TokenType:   "Bearer",
		TokenID:     issued.TokenID,
		Caller:      issued.Caller.Hex(),
		ExpiresAt:   issued.ExpiresAt,
	})
}

// HandleRevoke handles POST /admin/tokens/revoke.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req RevokeTokensRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.RevokeTokens(ctx, req.TokenIDs); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
