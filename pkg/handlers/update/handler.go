package update

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/relaynode/relaynode/pkg/common"
	"github.com/relaynode/relaynode/pkg/errors"
	"github.com/relaynode/relaynode/pkg/updater"
)

// Installer performs core and asset updates.
type Installer interface {
	UpdateCore(ctx context.Context, version string) (*updater.CoreResult, error)
	UpdateGeo(ctx context.Context, files []updater.GeoFile) (*updater.GeoResult, error)
}

type CoreRequest struct {
	Version string `json:"version"`
}

type GeoRequest struct {
	Files []updater.GeoFile `json:"files"`
}

// UpdateHandler exposes the update pipeline.
type UpdateHandler struct {
	installer Installer
}

func NewUpdateHandler(installer Installer) *UpdateHandler {
	return &UpdateHandler{installer: installer}
}

// UpdateCore installs the requested core release.
func (h *UpdateHandler) UpdateCore(w http.ResponseWriter, r *http.Request) {
	var req CoreRequest
	if err := common.ParseJSONBodyReturn(w, r, &req); err != nil {
		return
	}

	// An install that has stopped the core must finish even if the caller leaves.
	res, err := h.installer.UpdateCore(context.WithoutCancel(r.Context()), req.Version)
	if err != nil {
		slog.Error("Core update failed", slog.String("version", req.Version), slog.String("error", err.Error()))
		errors.WriteError(w, err)
		return
	}

	slog.Info("Core updated", slog.String("version", res.Version), slog.String("digest", res.Digest))
	common.WriteSuccessResponse(w, res)
}

// UpdateGeo downloads the listed asset files.
func (h *UpdateHandler) UpdateGeo(w http.ResponseWriter, r *http.Request) {
	var req GeoRequest
	if err := common.ParseJSONBodyReturn(w, r, &req); err != nil {
		return
	}

	res, err := h.installer.UpdateGeo(context.WithoutCancel(r.Context()), req.Files)
	if err != nil {
		slog.Error("Asset update failed", slog.Int("files", len(req.Files)), slog.String("error", err.Error()))
		errors.WriteError(w, err)
		return
	}

	slog.Info("Assets updated", slog.Int("files", len(res.Saved)))
	common.WriteSuccessResponse(w, res)
}
