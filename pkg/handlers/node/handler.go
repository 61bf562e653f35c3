package node

import (
	"net"
	"net/http"

	"github.com/relaynode/relaynode/pkg/common"
	"github.com/relaynode/relaynode/pkg/engine"
	"github.com/relaynode/relaynode/pkg/history"
	"github.com/relaynode/relaynode/pkg/lifecycle"
	"github.com/relaynode/relaynode/pkg/session"
)

// StatusResponse is returned by every operation that reports node state.
type StatusResponse struct {
	Connected   bool   `json:"connected"`
	Started     bool   `json:"started"`
	CoreVersion string `json:"core_version"`
	NodeVersion string `json:"node_version"`
	State       string `json:"state"`
	SessionID   string `json:"session_id,omitempty"`
}

// NodeHandler serves the session and core lifecycle operations.
type NodeHandler struct {
	engine      engine.Engine
	sessions    *session.Manager
	controller  *lifecycle.Controller
	history     *history.Ledger
	nodeVersion string
}

// NewNodeHandler creates a node handler. ledger may be nil.
func NewNodeHandler(e engine.Engine, sessions *session.Manager, controller *lifecycle.Controller, ledger *history.Ledger, nodeVersion string) *NodeHandler {
	return &NodeHandler{
		engine:      e,
		sessions:    sessions,
		controller:  controller,
		history:     ledger,
		nodeVersion: nodeVersion,
	}
}

func (h *NodeHandler) status() StatusResponse {
	return StatusResponse{
		Connected:   h.sessions.Connected(),
		Started:     h.engine.Started(),
		CoreVersion: h.engine.Version(),
		NodeVersion: h.nodeVersion,
		State:       string(h.controller.State()),
	}
}

func (h *NodeHandler) writeStatus(w http.ResponseWriter) {
	common.WriteSuccessResponse(w, h.status())
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
