package admin

import (
	"net/http"

	"github.com/gateway-control-plane/internal/handler"
	"github.com/gateway-control-plane/internal/httputil"
	"github.com/gateway-control-plane/internal/model"
	"github.com/gateway-control-plane/internal/service"
)

// --- List Webhooks ---

type ListWebhooksHandler struct {
	svc *service.WebhookService
}

func NewListWebhooksHandler(svc *service.WebhookService) *ListWebhooksHandler {
	return &ListWebhooksHandler{svc: svc}
}

type listWebhooksResponse struct {
	Webhooks []*model.Webhook `json:"webhooks"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PerPage  int              `json:"per_page"`
}

func (h *ListWebhooksHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	page, perPage, err := httputil.ParsePagination(r.URL.Query().Get("page"), r.URL.Query().Get("per_page"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	webhooks, err := h.svc.List(r.Context())
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, listWebhooksResponse{
		Webhooks: httputil.Paginate(webhooks, page, perPage),
		Total:    len(webhooks),
		Page:     page,
		PerPage:  perPage,
	})
}

// --- Create Webhook ---

type CreateWebhookHandler struct {
	svc *service.WebhookService
}

func NewCreateWebhookHandler(svc *service.WebhookService) *CreateWebhookHandler {
	return &CreateWebhookHandler{svc: svc}
}

type createWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

func (h *CreateWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		handler.RespondInvalidBody(w)
		return
	}

	webhook, err := h.svc.Register(r.Context(), req.URL, req.Events)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusCreated, webhook)
}

// --- Get Webhook ---

type GetWebhookHandler struct {
	svc *service.WebhookService
}

func NewGetWebhookHandler(svc *service.WebhookService) *GetWebhookHandler {
	return &GetWebhookHandler{svc: svc}
}

func (h *GetWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "Invalid webhook ID")
	if !ok {
		return
	}

	webhook, err := h.svc.Get(r.Context(), id)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, webhook)
}

// --- Update Webhook ---

type UpdateWebhookHandler struct {
	svc *service.WebhookService
}

func NewUpdateWebhookHandler(svc *service.WebhookService) *UpdateWebhookHandler {
	return &UpdateWebhookHandler{svc: svc}
}

type updateWebhookRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *UpdateWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "Invalid webhook ID")
	if !ok {
		return
	}

	var req updateWebhookRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		handler.RespondInvalidBody(w)
		return
	}
	if req.Enabled == nil {
		service.RespondError(w, service.NewValidation("enabled is required"))
		return
	}

	webhook, err := h.svc.SetEnabled(r.Context(), id, *req.Enabled)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, webhook)
}

// --- Delete Webhook ---

type DeleteWebhookHandler struct {
	svc *service.WebhookService
}

func NewDeleteWebhookHandler(svc *service.WebhookService) *DeleteWebhookHandler {
	return &DeleteWebhookHandler{svc: svc}
}

func (h *DeleteWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "Invalid webhook ID")
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": "deleted",
	})
}

// --- Test Webhook ---

type TestWebhookHandler struct {
	delivery *service.DeliveryService
}

func NewTestWebhookHandler(delivery *service.DeliveryService) *TestWebhookHandler {
	return &TestWebhookHandler{delivery: delivery}
}

func (h *TestWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "Invalid webhook ID")
	if !ok {
		return
	}

	result, err := h.delivery.TestDelivery(r.Context(), id)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, result)
}
