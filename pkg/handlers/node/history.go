package node

import (
	"net/http"

	"github.com/relaynode/relaynode/pkg/common"
	"github.com/relaynode/relaynode/pkg/errors"
	"github.com/relaynode/relaynode/pkg/history"
)

const maxHistoryLimit = 200

type HistoryRequest struct {
	SessionID *string `json:"session_id"`
	Limit     int     `json:"limit,omitempty"`
}

type HistoryResponse struct {
	Entries []history.Entry `json:"entries"`
}

// UpdateHistory lists the most recent core and asset updates.
func (h *NodeHandler) UpdateHistory(w http.ResponseWriter, r *http.Request) {
	var req HistoryRequest
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
	if req.Limit < 0 || req.Limit > maxHistoryLimit {
		errors.WriteErrorResponse(w, errors.NewFieldError("limit", "limit must be between 0 and 200"))
		return
	}
	if h.history == nil {
		errors.WriteErrorResponse(w, errors.NewServiceUnavailableError("Update history is not available on this node."))
		return
	}

	entries, err := h.history.Recent(r.Context(), req.Limit)
	if err != nil {
		errors.WriteError(w, err)
		return
	}
	common.WriteSuccessResponse(w, HistoryResponse{Entries: entries})
}
