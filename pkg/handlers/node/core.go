package node

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/relaynode/relaynode/pkg/common"
	"github.com/relaynode/relaynode/pkg/errors"
)

// ConfigRequest carries the engine configuration for start and restart.
type ConfigRequest struct {
	SessionID *string `json:"session_id"`
	Config    *string `json:"config"`
}

// Start starts the core with the submitted configuration.
func (h *NodeHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.withConfig(w, r, h.controller.Start)
}

// Restart restarts the core with the submitted configuration.
func (h *NodeHandler) Restart(w http.ResponseWriter, r *http.Request) {
	h.withConfig(w, r, h.controller.Restart)
}

// Stop stops the core. Stopping a stopped core succeeds.
func (h *NodeHandler) Stop(w http.ResponseWriter, r *http.Request) {
	var req common.SessionRequest
	if err := common.ParseJSONBodyReturn(w, r, &req); err != nil {
		return
	}
	token, apiErr := common.ParseSessionID(req.SessionID)
	if apiErr != nil {
		errors.WriteErrorResponse(w, apiErr)
		return
	}
	if err := h.controller.Stop(token); err != nil {
		errors.WriteError(w, err)
		return
	}
	h.writeStatus(w)
}

func (h *NodeHandler) withConfig(w http.ResponseWriter, r *http.Request, run func(token uuid.UUID, config string) error) {
	var req ConfigRequest
	if err := common.ParseJSONBodyReturn(w, r, &req); err != nil {
		return
	}
	token, apiErr := common.ParseSessionID(req.SessionID)
	if apiErr != nil {
		errors.WriteErrorResponse(w, apiErr)
		return
	}
	if req.Config == nil {
		errors.WriteErrorResponse(w, errors.NewFieldError("config", "field required"))
		return
	}

	if err := run(token, *req.Config); err != nil {
		errors.WriteError(w, err)
		return
	}
	h.writeStatus(w)
}
