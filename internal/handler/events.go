package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"

	"github.com/gateway-control-plane/internal/httputil"
	"github.com/gateway-control-plane/internal/middleware"
	"github.com/gateway-control-plane/internal/service"
	"github.com/gateway-control-plane/internal/validation"
)

// EventsHandler accepts events from gateway clients and fans them out to
// subscribed webhooks.
type EventsHandler struct {
	delivery *service.DeliveryService
}

func NewEventsHandler(delivery *service.DeliveryService) *EventsHandler {
	return &EventsHandler{delivery: delivery}
}

type publishEventRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req publishEventRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		RespondInvalidBody(w)
		return
	}

	event := strings.TrimSpace(req.Event)
	if event == "" {
		service.RespondError(w, service.NewValidation("event is required"))
		return
	}
	if !validation.IsSubscribableEvent(event) {
		service.RespondError(w, service.NewValidation(fmt.Sprintf("event %q is not supported", event)))
		return
	}

	receipt, err := h.delivery.Dispatch(r.Context(), event, req.Data)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	logEvent := hlog.FromRequest(r).Info().Str("event", receipt.Event).Int("matched", receipt.Matched)
	if key := middleware.GetAPIKey(r.Context()); key != nil {
		logEvent = logEvent.Str("api_key_id", key.ID.String())
	}
	logEvent.Msg("event accepted")
	RespondJSON(w, http.StatusAccepted, receipt)
}
