package maintenance

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/relaynode/relaynode/pkg/common"
	"github.com/relaynode/relaynode/pkg/errors"
	"github.com/relaynode/relaynode/pkg/session"
)

// Proxy forwards maintenance requests to the host agent.
type Proxy interface {
	Restart(ctx context.Context) (json.RawMessage, error)
	Update(ctx context.Context) (json.RawMessage, error)
}

// MaintenanceHandler relays owner requests to the maintenance agent and
// passes its answer through unchanged.
type MaintenanceHandler struct {
	proxy    Proxy
	sessions *session.Manager
}

func NewMaintenanceHandler(proxy Proxy, sessions *session.Manager) *MaintenanceHandler {
	return &MaintenanceHandler{proxy: proxy, sessions: sessions}
}

// Restart asks the agent to restart the node service.
func (h *MaintenanceHandler) Restart(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, h.proxy.Restart)
}

// Update asks the agent to update the node service.
func (h *MaintenanceHandler) Update(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, h.proxy.Update)
}

func (h *MaintenanceHandler) relay(w http.ResponseWriter, r *http.Request, call func(context.Context) (json.RawMessage, error)) {
	var req common.SessionRequest
	if err := common.ParseJSONBodyReturn(w, r, &req); err != nil {
		return
	}
	token, apiErr := common.ParseSessionID(req.SessionID)
	if apiErr != nil {
		errors.WriteErrorResponse(w, apiErr)
		return
	}
	if _, err := h.sessions.Match(token); err != nil {
		errors.WriteError(w, err)
		return
	}

	data, err := call(r.Context())
	if err != nil {
		errors.WriteError(w, err)
		return
	}
	common.WriteSuccessResponse(w, data)
}
