package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/relaynode/relaynode/pkg/common"
	"github.com/relaynode/relaynode/pkg/engine"
)

// Minimal health response
type HealthResponse struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Uptime      int64  `json:"uptime"`
	NodeVersion string `json:"node_version"`
	CoreVersion string `json:"core_version"`
	Started     bool   `json:"started"`
}

// Readiness response with minimal checks
type ReadinessResponse struct {
	Status    string          `json:"status"`
	Ready     bool            `json:"ready"`
	Timestamp string          `json:"timestamp"`
	Checks    map[string]bool `json:"checks"`
}

// HealthHandler handles health check operations
type HealthHandler struct {
	startTime   time.Time
	engine      engine.Engine
	nodeVersion string
	stateDir    string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(e engine.Engine, nodeVersion, stateDir string) *HealthHandler {
	return &HealthHandler{
		startTime:   time.Now(),
		engine:      e,
		nodeVersion: nodeVersion,
		stateDir:    stateDir,
	}
}

// HealthCheck returns minimal health information
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	common.WriteSuccessResponse(w, HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().Truncate(time.Second).Format(time.RFC3339),
		Uptime:      int64(time.Since(h.startTime).Seconds()),
		NodeVersion: h.nodeVersion,
		CoreVersion: h.engine.Version(),
		Started:     h.engine.Started(),
	})
}

// ReadinessCheck reports whether the engine could be started right now.
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	checks := map[string]bool{
		"executable": executableExists(h.engine.ExecutablePath()),
		"assets":     dirExists(h.engine.AssetsPath()),
		"state_dir":  dirWritable(h.stateDir),
	}

	ready := true
	for _, ok := range checks {
		ready = ready && ok
	}

	status := "ready"
	httpStatus := http.StatusOK
	if !ready {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	common.WriteJSONResponse(w, httpStatus, ReadinessResponse{
		Status:    status,
		Ready:     ready,
		Timestamp: time.Now().Truncate(time.Second).Format(time.RFC3339),
		Checks:    checks,
	})
}

func executableExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Mode()&0o111 != 0
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func dirWritable(dir string) bool {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return false
	}
	probe := filepath.Join(dir, ".readiness-check")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return false
	}
	_ = os.Remove(probe)
	return true
}
