package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gateway-control-plane/internal/handler"
	"github.com/gateway-control-plane/internal/httputil"
	"github.com/gateway-control-plane/internal/model"
	"github.com/gateway-control-plane/internal/service"
)

// --- List API Keys ---

type ListAPIKeysHandler struct {
	svc *service.APIKeyService
}

func NewListAPIKeysHandler(svc *service.APIKeyService) *ListAPIKeysHandler {
	return &ListAPIKeysHandler{svc: svc}
}

type listAPIKeysResponse struct {
	APIKeys []*model.APIKey `json:"api_keys"`
	Total   int             `json:"total"`
	Page    int             `json:"page"`
	PerPage int             `json:"per_page"`
}

func (h *ListAPIKeysHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	page, perPage, err := httputil.ParsePagination(r.URL.Query().Get("page"), r.URL.Query().Get("per_page"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	keys, err := h.svc.List(r.Context())
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, listAPIKeysResponse{
		APIKeys: httputil.Paginate(keys, page, perPage),
		Total:   len(keys),
		Page:    page,
		PerPage: perPage,
	})
}

// --- Create API Key ---

type CreateAPIKeyHandler struct {
	svc *service.APIKeyService
}

func NewCreateAPIKeyHandler(svc *service.APIKeyService) *CreateAPIKeyHandler {
	return &CreateAPIKeyHandler{svc: svc}
}

type createAPIKeyRequest struct {
	Name string `json:"name"`
}

func (h *CreateAPIKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		handler.RespondInvalidBody(w)
		return
	}

	key, err := h.svc.Issue(r.Context(), req.Name)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusCreated, key)
}

// --- Revoke API Key ---

type RevokeAPIKeyHandler struct {
	svc *service.APIKeyService
}

func NewRevokeAPIKeyHandler(svc *service.APIKeyService) *RevokeAPIKeyHandler {
	return &RevokeAPIKeyHandler{svc: svc}
}

func (h *RevokeAPIKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "Invalid API key ID")
	if !ok {
		return
	}

	if err := h.svc.Revoke(r.Context(), id); err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": "revoked",
	})
}

// --- Helpers ---

func parseID(w http.ResponseWriter, r *http.Request, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", message)
		return uuid.Nil, false
	}
	return id, true
}
