package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/relaynode/relaynode/pkg/logbuf"
)

const (
	defaultStopTimeout = 5 * time.Second
	versionTimeout     = 10 * time.Second
	maxLineLength      = 1024 * 1024
)

var (
	versionPattern = regexp.MustCompile(`^Xray (\d+\.\d+\.\d+)`)
	readyPattern   = regexp.MustCompile(`Xray \S+ started`)
)

// Core runs the Xray executable as a child process. The configuration is
// piped on stdin and every output line lands in the shared log buffer.
type Core struct {
	mu             sync.Mutex
	executablePath string
	assetsPath     string
	version        string
	proc           *process
	logs           *logbuf.Buffer

	// StopTimeout bounds the graceful shutdown before the process is killed.
	StopTimeout time.Duration
}

type process struct {
	cmd     *exec.Cmd
	marker  string
	started atomic.Bool
	done    chan struct{}
}

var _ Engine = (*Core)(nil)

// NewCore creates a process manager for the executable. The version is
// probed once; a missing binary leaves it empty.
func NewCore(executablePath, assetsPath string) *Core {
	c := &Core{
		executablePath: executablePath,
		assetsPath:     assetsPath,
		logs:           logbuf.New(logbuf.DefaultCapacity),
		StopTimeout:    defaultStopTimeout,
	}
	if _, err := c.RefreshVersion(); err != nil {
		slog.Warn("unable to determine engine version", slog.String("executable", executablePath), slog.Any("error", err))
	}
	return c
}

func (c *Core) Logs() *logbuf.Buffer { return c.logs }

func (c *Core) ExecutablePath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executablePath
}

func (c *Core) SetExecutablePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executablePath = path
}

func (c *Core) AssetsPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assetsPath
}

func (c *Core) SetAssetsPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assetsPath = path
}

func (c *Core) Version() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

func (c *Core) ReadyMarker() string {
	return fmt.Sprintf("Xray %s started", c.Version())
}

// RefreshVersion runs "<exe> version" and records the reported version.
func (c *Core) RefreshVersion() (string, error) {
	exe := c.ExecutablePath()

	ctx, cancel := context.WithTimeout(context.Background(), versionTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, exe, "version").Output()
	if err != nil {
		return "", fmt.Errorf("run %s version: %w", exe, err)
	}
	version, err := parseVersion(out)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.version = version
	c.mu.Unlock()
	return version, nil
}

func parseVersion(out []byte) (string, error) {
	m := versionPattern.FindSubmatch(bytes.TrimSpace(out))
	if m == nil {
		return "", fmt.Errorf("unrecognized version output %q", firstLine(string(out)))
	}
	return string(m[1]), nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

func (c *Core) Started() bool {
	c.mu.Lock()
	p := c.proc
	c.mu.Unlock()
	return p != nil && p.started.Load()
}

// Start launches the engine with cfg. It returns once the process is
// spawned; readiness is reported later through Started and the log buffer.
func (c *Core) Start(cfg *Config) error {
	payload, err := cfg.JSON()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.proc != nil {
		return ErrAlreadyStarted
	}

	cmd := exec.Command(c.executablePath, "run", "-config", "stdin:")
	cmd.Env = append(os.Environ(), "XRAY_LOCATION_ASSET="+c.assetsPath)
	cmd.Stdin = bytes.NewReader(payload)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.executablePath, err)
	}

	p := &process{
		cmd:    cmd,
		marker: fmt.Sprintf("Xray %s started", c.version),
		done:   make(chan struct{}),
	}
	if c.version == "" {
		p.marker = ""
	}
	c.proc = p

	slog.Info("engine process started", slog.Int("pid", cmd.Process.Pid), slog.String("executable", c.executablePath))

	go c.monitor(p, stdout, stderr)
	return nil
}

// monitor copies output into the log buffer, then reaps the process.
// Wait must only run after both pipes are drained.
func (c *Core) monitor(p *process, stdout, stderr io.Reader) {
	var wg sync.WaitGroup
	for _, r := range []io.Reader{stdout, stderr} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.collect(p, r)
		}()
	}
	wg.Wait()

	waitErr := p.cmd.Wait()

	c.mu.Lock()
	if c.proc == p {
		c.proc = nil
	}
	c.mu.Unlock()
	p.started.Store(false)
	close(p.done)

	if waitErr != nil {
		slog.Warn("engine process exited", slog.Any("error", waitErr))
	} else {
		slog.Info("engine process exited")
	}
}

func (c *Core) collect(p *process, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	for scanner.Scan() {
		line := scanner.Text()
		if !p.started.Load() && p.isReadyLine(line) {
			p.started.Store(true)
			slog.Info("engine reported ready")
		}
		c.logs.Push(line)
	}
}

func (p *process) isReadyLine(line string) bool {
	if p.marker != "" {
		return strings.Contains(line, p.marker)
	}
	return readyPattern.MatchString(line)
}

// Stop terminates the live process: SIGTERM first, SIGKILL after StopTimeout.
func (c *Core) Stop() error {
	c.mu.Lock()
	p := c.proc
	c.mu.Unlock()

	if p == nil {
		return ErrNotStarted
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = p.cmd.Process.Kill()
	}

	select {
	case <-p.done:
	case <-time.After(c.StopTimeout):
		slog.Warn("engine did not exit in time, killing", slog.Int("pid", p.cmd.Process.Pid))
		if err := p.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("kill engine: %w", err)
		}
		<-p.done
	}
	return nil
}

// Restart stops any live process and starts a new one with cfg.
func (c *Core) Restart(cfg *Config) error {
	if err := c.Stop(); err != nil && !errors.Is(err, ErrNotStarted) {
		return err
	}
	return c.Start(cfg)
}
