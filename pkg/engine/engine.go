package engine

import (
	"errors"
	"log/slog"

	"github.com/relaynode/relaynode/pkg/logbuf"
)

var (
	// ErrAlreadyStarted is returned by Start while an engine process is alive.
	ErrAlreadyStarted = errors.New("engine is already started")
	// ErrNotStarted is returned by Stop when no engine process is alive.
	ErrNotStarted = errors.New("engine is not started")
)

// Engine is the process manager of the proxy core.
type Engine interface {
	Start(cfg *Config) error
	Stop() error
	Restart(cfg *Config) error

	// Started reports whether the running process announced readiness.
	Started() bool
	Version() string
	RefreshVersion() (string, error)
	// ReadyMarker is the log text the engine prints once it serves traffic.
	ReadyMarker() string
	Logs() *logbuf.Buffer

	ExecutablePath() string
	SetExecutablePath(path string)
	AssetsPath() string
	SetAssetsPath(path string)
}

// StopBestEffort stops e and discards the outcome. It is the only place
// engine stop failures are ignored.
func StopBestEffort(e Engine, reason string) {
	err := e.Stop()
	switch {
	case err == nil:
		slog.Info("engine stopped", slog.String("reason", reason))
	case errors.Is(err, ErrNotStarted):
	default:
		slog.Warn("best-effort engine stop failed", slog.String("reason", reason), slog.Any("error", err))
	}
}
