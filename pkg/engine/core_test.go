package engine

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeXray = `#!/bin/sh
if [ "$1" = "version" ]; then
  echo "Xray 1.8.4 (Xray, Penetrates Everything.) Custom (go1.22 linux/amd64)"
  echo "A unified platform for anti-censorship."
  exit 0
fi
config=$(cat)
echo "assets=$XRAY_LOCATION_ASSET"
echo "config=$config"
echo "[Warning] core: Xray 1.8.4 started" >&2
exec sleep 30
`

const brokenXray = `#!/bin/sh
if [ "$1" = "version" ]; then
  echo "Xray 1.8.4"
  exit 0
fi
echo "Failed to start: main: failed to load config files" >&2
exit 23
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "xray")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func mustConfig(t *testing.T, text string) *Config {
	t.Helper()
	cfg, err := ParseConfig(text)
	require.NoError(t, err)
	return cfg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond)
}

func TestNewCore_Version(t *testing.T) {
	t.Run("probed from executable", func(t *testing.T) {
		c := NewCore(writeScript(t, fakeXray), "/assets")
		assert.Equal(t, "1.8.4", c.Version())
		assert.Equal(t, "Xray 1.8.4 started", c.ReadyMarker())
	})

	t.Run("missing executable leaves version empty", func(t *testing.T) {
		c := NewCore(filepath.Join(t.TempDir(), "missing"), "/assets")
		assert.Empty(t, c.Version())
		_, err := c.RefreshVersion()
		assert.Error(t, err)
	})
}

func TestParseVersion(t *testing.T) {
	v, err := parseVersion([]byte("Xray 25.1.30 (Xray, Penetrates Everything.)\nmore"))
	require.NoError(t, err)
	assert.Equal(t, "25.1.30", v)

	_, err = parseVersion([]byte("v2ray 5.0.0"))
	assert.ErrorContains(t, err, "unrecognized version output")
}

func TestCore_StartStop(t *testing.T) {
	exe := writeScript(t, fakeXray)
	c := NewCore(exe, "/srv/assets")
	c.StopTimeout = time.Second
	reader := c.Logs().Follow()
	defer reader.Close()

	require.NoError(t, c.Start(mustConfig(t, `{"log": {"loglevel": "warning"}}`)))
	waitFor(t, c.Started)

	assert.ErrorIs(t, c.Start(mustConfig(t, `{}`)), ErrAlreadyStarted)

	var lines []string
	waitFor(t, func() bool {
		for {
			line, ok := reader.Pop()
			if !ok {
				break
			}
			lines = append(lines, line)
		}
		return len(lines) >= 3
	})
	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, "assets=/srv/assets")
	assert.Contains(t, joined, `config={"log":{"loglevel":"warning"}}`)

	require.NoError(t, c.Stop())
	assert.False(t, c.Started())
	assert.ErrorIs(t, c.Stop(), ErrNotStarted)
}

func TestCore_Restart(t *testing.T) {
	c := NewCore(writeScript(t, fakeXray), "/assets")
	c.StopTimeout = time.Second

	require.NoError(t, c.Restart(mustConfig(t, `{}`)), "restart from stopped starts")
	waitFor(t, c.Started)

	require.NoError(t, c.Restart(mustConfig(t, `{}`)))
	waitFor(t, c.Started)

	require.NoError(t, c.Stop())
}

func TestCore_ExitClearsStarted(t *testing.T) {
	c := NewCore(writeScript(t, brokenXray), "/assets")
	reader := c.Logs().Follow()
	defer reader.Close()

	require.NoError(t, c.Start(mustConfig(t, `{}`)))

	waitFor(t, func() bool { return reader.Pending() > 0 })
	line, _ := reader.Pop()
	assert.Contains(t, line, "Failed to start")

	waitFor(t, func() bool { return errors.Is(c.Stop(), ErrNotStarted) })
	assert.False(t, c.Started())
}

func TestCore_StartMissingExecutable(t *testing.T) {
	c := NewCore(filepath.Join(t.TempDir(), "xray"), "/assets")
	err := c.Start(mustConfig(t, `{}`))
	assert.Error(t, err)
	assert.False(t, c.Started())
	assert.ErrorIs(t, c.Stop(), ErrNotStarted)
}

func TestCore_Paths(t *testing.T) {
	c := NewCore("/nonexistent/xray", "/a")
	c.SetExecutablePath("/opt/xray")
	c.SetAssetsPath("/b")
	assert.Equal(t, "/opt/xray", c.ExecutablePath())
	assert.Equal(t, "/b", c.AssetsPath())
	assert.NotNil(t, c.Logs())
}
