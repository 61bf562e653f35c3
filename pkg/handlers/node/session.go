package node

import (
	"net/http"

	"github.com/relaynode/relaynode/pkg/common"
	"github.com/relaynode/relaynode/pkg/errors"
)

// Base reports node status without authentication.
func (h *NodeHandler) Base(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w)
}

// Connect hands the node to the caller, taking it from any previous owner.
func (h *NodeHandler) Connect(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Connect(remoteHost(r))

	resp := h.status()
	resp.SessionID = s.Token.String()
	common.WriteSuccessResponse(w, resp)
}

// Disconnect releases ownership and stops the core.
func (h *NodeHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.sessions.Disconnect()
	h.writeStatus(w)
}

// Ping validates the caller's token.
func (h *NodeHandler) Ping(w http.ResponseWriter, r *http.Request) {
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
	common.WriteSuccessResponse(w, common.Empty{})
}
