package lifecycle

import (
	stderrors "errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaynode/relaynode/pkg/engine"
	"github.com/relaynode/relaynode/pkg/errors"
	"github.com/relaynode/relaynode/pkg/logbuf"
	"github.com/relaynode/relaynode/pkg/session"
)

const (
	DefaultReadyWindow  = 3 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultRestartGrace = 500 * time.Millisecond
)

// State is the controller's view of the engine.
type State string

const (
	StateStopped    State = "stopped"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateStopping   State = "stopping"
	StateRestarting State = "restarting"
)

// Controller drives engine start, stop and restart on behalf of the
// session owner, and decides readiness from the engine's log output.
type Controller struct {
	engine   engine.Engine
	sessions *session.Manager

	ReadyWindow  time.Duration
	PollInterval time.Duration
	RestartGrace time.Duration

	// mu serializes lifecycle transitions.
	mu    sync.Mutex
	state State
	smu   sync.RWMutex
}

// New creates a controller with the default timings.
func New(e engine.Engine, sessions *session.Manager) *Controller {
	return &Controller{
		engine:       e,
		sessions:     sessions,
		ReadyWindow:  DefaultReadyWindow,
		PollInterval: DefaultPollInterval,
		RestartGrace: DefaultRestartGrace,
		state:        StateStopped,
	}
}

// State reports the last transition. A running state whose engine has
// since exited reads as stopped.
func (c *Controller) State() State {
	c.smu.RLock()
	s := c.state
	c.smu.RUnlock()
	if s == StateRunning && !c.engine.Started() {
		return StateStopped
	}
	return s
}

func (c *Controller) setState(s State) {
	c.smu.Lock()
	c.state = s
	c.smu.Unlock()
}

// Start validates the owner, parses configText and starts the engine,
// returning once it is ready or the ready window expires.
func (c *Controller) Start(token uuid.UUID, configText string) error {
	if _, err := c.sessions.Match(token); err != nil {
		return err
	}
	cfg, err := parseConfig(configText)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	reader := acquire(c.engine.Logs())
	defer reader.Close()

	c.setState(StateStarting)
	slog.Info("starting core", slog.Any("inbounds", cfg.InboundTags()))
	if err := c.engine.Start(cfg); err != nil {
		slog.Error("failed to start core", slog.Any("error", err))
		c.setState(StateStopped)
		return errors.NewServiceUnavailableError(err.Error())
	}
	return c.awaitReady(reader)
}

// Stop validates the owner and stops the engine. Stopping a stopped
// engine succeeds.
func (c *Controller) Stop(token uuid.UUID) error {
	if _, err := c.sessions.Match(token); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.setState(StateStopping)
	defer c.setState(StateStopped)

	if err := c.engine.Stop(); err != nil && !stderrors.Is(err, engine.ErrNotStarted) {
		slog.Error("failed to stop core", slog.Any("error", err))
		return errors.NewInternalError(err.Error())
	}
	return nil
}

// Restart stops a running engine, waits the grace period and then
// follows the Start protocol.
func (c *Controller) Restart(token uuid.UUID, configText string) error {
	if _, err := c.sessions.Match(token); err != nil {
		return err
	}
	cfg, err := parseConfig(configText)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	reader := acquire(c.engine.Logs())
	defer reader.Close()

	c.setState(StateRestarting)
	if c.engine.Started() {
		engine.StopBestEffort(c.engine, "restart")
		time.Sleep(c.RestartGrace)
	}
	slog.Info("restarting core", slog.Any("inbounds", cfg.InboundTags()))
	if err := c.engine.Restart(cfg); err != nil {
		slog.Error("failed to restart core", slog.Any("error", err))
		c.setState(StateStopped)
		return errors.NewServiceUnavailableError(err.Error())
	}
	return c.awaitReady(reader)
}

func parseConfig(text string) (*engine.Config, error) {
	cfg, err := engine.ParseConfig(text)
	if err != nil {
		return nil, errors.NewFieldError("config", "Failed to decode config: "+err.Error())
	}
	return cfg, nil
}

// acquire follows the buffer for one start attempt. The exclusive slot is
// left to log streams, so a stream opened during a start is never refused.
func acquire(logs *logbuf.Buffer) *logbuf.Reader {
	return logs.Follow()
}

// awaitReady drains reader until the engine reports started, a ready
// marker line appears, or the window closes.
func (c *Controller) awaitReady(reader *logbuf.Reader) error {
	deadline := time.NewTimer(c.ReadyWindow)
	defer deadline.Stop()
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	marker := c.engine.ReadyMarker()
	lastLine := ""

	for {
		changed := reader.Changed()
		for {
			line, ok := reader.Pop()
			if !ok {
				break
			}
			if strings.TrimSpace(line) != "" {
				lastLine = line
			}
			if strings.Contains(line, marker) {
				c.setState(StateRunning)
				return nil
			}
		}
		if c.engine.Started() {
			c.setState(StateRunning)
			return nil
		}

		select {
		case <-deadline.C:
			if c.engine.Started() {
				c.setState(StateRunning)
				return nil
			}
			slog.Warn("core not ready in time", slog.Duration("window", c.ReadyWindow), slog.String("last_line", lastLine))
			c.setState(StateStopped)
			return errors.NewServiceUnavailableError(lastLine)
		case <-ticker.C:
		case <-changed:
		}
	}
}
