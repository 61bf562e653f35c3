// Package enginetest provides an in-memory engine for tests.
package enginetest

import (
	"sync"

	"github.com/relaynode/relaynode/pkg/engine"
	"github.com/relaynode/relaynode/pkg/logbuf"
)

// Fake is a scriptable engine.Engine. Zero values describe an engine that
// starts, never reports ready and prints nothing.
type Fake struct {
	mu      sync.Mutex
	running bool
	started bool
	version string
	exe     string
	assets  string
	logs    *logbuf.Buffer

	// StartLines are pushed into the log buffer during Start.
	StartLines []string
	// Ready makes Start report the engine as started.
	Ready bool
	// OnStart, when set, runs after a successful Start.
	OnStart func(f *Fake)

	StartErr   error
	StopErr    error
	RefreshErr error
	// NextVersion is adopted by RefreshVersion when non-empty.
	NextVersion string

	Starts     int
	Stops      int
	LastConfig *engine.Config
}

var _ engine.Engine = (*Fake)(nil)

// New returns a fake reporting version.
func New(version string) *Fake {
	return &Fake{
		version: version,
		exe:     "/usr/local/bin/xray",
		assets:  "/usr/local/share/xray",
		logs:    logbuf.New(logbuf.DefaultCapacity),
	}
}

func (f *Fake) Start(cfg *engine.Config) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return engine.ErrAlreadyStarted
	}
	if f.StartErr != nil {
		f.mu.Unlock()
		return f.StartErr
	}
	f.Starts++
	f.running = true
	f.started = f.Ready
	f.LastConfig = cfg
	lines := f.StartLines
	hook := f.OnStart
	f.mu.Unlock()

	for _, line := range lines {
		f.logs.Push(line)
	}
	if hook != nil {
		hook(f)
	}
	return nil
}

func (f *Fake) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Stops++
	if f.StopErr != nil {
		return f.StopErr
	}
	if !f.running {
		return engine.ErrNotStarted
	}
	f.running = false
	f.started = false
	return nil
}

func (f *Fake) Restart(cfg *engine.Config) error {
	f.mu.Lock()
	f.running = false
	f.started = false
	f.mu.Unlock()
	return f.Start(cfg)
}

// SetStarted flips the readiness flag, as a real engine does once it logs
// its start marker.
func (f *Fake) SetStarted(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = v
	if v {
		f.running = true
	}
}

// Running reports whether a process would be alive.
func (f *Fake) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *Fake) Counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Starts, f.Stops
}

func (f *Fake) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *Fake) Version() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version
}

func (f *Fake) RefreshVersion() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RefreshErr != nil {
		return "", f.RefreshErr
	}
	if f.NextVersion != "" {
		f.version = f.NextVersion
	}
	return f.version, nil
}

func (f *Fake) ReadyMarker() string {
	return "Xray " + f.Version() + " started"
}

func (f *Fake) Logs() *logbuf.Buffer { return f.logs }

func (f *Fake) ExecutablePath() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exe
}

func (f *Fake) SetExecutablePath(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exe = path
}

func (f *Fake) AssetsPath() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assets
}

func (f *Fake) SetAssetsPath(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets = path
}
