package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"credrep/internal/credential/models"
	id "credrep/pkg/domain"
	"credrep/pkg/platform/httputil"
	"credrep/pkg/requestcontext"
)

// Service defines the credential store operations exposed over HTTP.
type Service interface {
	AuthorizeIssuer(ctx context.Context, issuer id.Address) (*models.TrustedIssuer, error)
	RevokeIssuer(ctx context.Context, issuer id.Address) error
	ListIssuers(ctx context.Context) ([]*models.TrustedIssuer, error)
	Issue(ctx context.Context, cmd models.IssueCommand) (*models.Credential, error)
	Revoke(ctx context.Context, credID id.CredentialID) (*models.Credential, error)
	Get(ctx context.Context, credID id.CredentialID) (*models.Credential, error)
	ListBySubject(ctx context.Context, subject id.Address) ([]*models.Credential, error)
}

// Handler wires issuer and credential endpoints to the credential service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the routes. Mutations go through requireAuth.
func (h *Handler) Register(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.Get("/issuers", h.HandleListIssuers)
	r.With(requireAuth).Post("/issuers", h.HandleAuthorizeIssuer)
	r.With(requireAuth).Delete("/issuers/{address}", h.HandleRevokeIssuer)

	r.With(requireAuth).Post("/credentials", h.HandleIssue)
	r.Get("/credentials/{id}", h.HandleGet)
	r.With(requireAuth).Post("/credentials/{id}/revoke", h.HandleRevoke)
	r.Get("/subjects/{address}/credentials", h.HandleListBySubject)
}

// HandleAuthorizeIssuer handles POST /issuers.
func (h *Handler) HandleAuthorizeIssuer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[AuthorizeIssuerRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	issuer, err := h.service.AuthorizeIssuer(ctx, req.parsed)
	if err != nil {
		h.logger.WarnContext(ctx, "authorize issuer failed",
			"request_id", requestID,
			"issuer", req.Address,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromIssuer(issuer))
}

// HandleRevokeIssuer handles DELETE /issuers/{address}.
func (h *Handler) HandleRevokeIssuer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	addr, err := httputil.AddressParam(r, "address")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.RevokeIssuer(ctx, addr); err != nil {
		h.logger.WarnContext(ctx, "revoke issuer failed",
			"request_id", requestcontext.RequestID(ctx),
			"issuer", addr.Hex(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListIssuers handles GET /issuers.
func (h *Handler) HandleListIssuers(w http.ResponseWriter, r *http.Request) {
	issuers, err := h.service.ListIssuers(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := IssuerListResponse{Issuers: make([]IssuerResponse, 0, len(issuers))}
	for _, i := range issuers {
		resp.Issuers = append(resp.Issuers, FromIssuer(i))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleIssue handles POST /credentials.
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[IssueCredentialRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	cred, err := h.service.Issue(ctx, req.parsed)
	if err != nil {
		h.logger.WarnContext(ctx, "issue credential failed",
			"request_id", requestID,
			"subject", req.Subject,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromCredential(cred))
}

// HandleRevoke handles POST /credentials/{id}/revoke.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	credID, err := httputil.CredentialIDParam(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	cred, err := h.service.Revoke(ctx, credID)
	if err != nil {
		h.logger.WarnContext(ctx, "revoke credential failed",
			"request_id", requestcontext.RequestID(ctx),
			"credential_id", credID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromCredential(cred))
}

// HandleGet handles GET /credentials/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	credID, err := httputil.CredentialIDParam(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	cred, err := h.service.Get(r.Context(), credID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromCredential(cred))
}

// HandleListBySubject handles GET /subjects/{address}/credentials.
func (h *Handler) HandleListBySubject(w http.ResponseWriter, r *http.Request) {
	subject, err := httputil.AddressParam(r, "address")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	creds, err := h.service.ListBySubject(r.Context(), subject)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromCredentials(creds))
}
