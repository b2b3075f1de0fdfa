package admin

import (
	"net/http"

	"github.com/gateway-control-plane/internal/handler"
	"github.com/gateway-control-plane/internal/httputil"
	"github.com/gateway-control-plane/internal/sandbox"
	"github.com/gateway-control-plane/internal/service"
)

// SandboxHandler lets an operator fire a single ad-hoc HTTP request. Transport
// failures are part of the result, so every executed request answers 200.
type SandboxHandler struct {
	executor *sandbox.Executor
}

func NewSandboxHandler(executor *sandbox.Executor) *SandboxHandler {
	return &SandboxHandler{executor: executor}
}

type sandboxRequest struct {
	Method  string `json:"method"`
	URL     string `json:"url"`
	Headers string `json:"headers"`
	Body    string `json:"body"`
}

type sandboxResponse struct {
	*sandbox.Response
	Display string `json:"display"`
}

func (h *SandboxHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req sandboxRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		handler.RespondInvalidBody(w)
		return
	}

	resp, err := h.executor.ExecuteRaw(r.Context(), req.Method, req.URL, req.Headers, req.Body)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, sandboxResponse{Response: resp, Display: resp.Display()})
}
