package compose

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const volume = "/var/lib/relaynode/assets:/usr/local/share/xray"

type service struct {
	Image       string    `yaml:"image"`
	Environment yaml.Node `yaml:"environment"`
	Volumes     []string  `yaml:"volumes"`
}

type document struct {
	Services map[string]service `yaml:"services"`
}

func decode(t *testing.T, data []byte) document {
	t.Helper()
	var doc document
	require.NoError(t, yaml.Unmarshal(data, &doc))
	return doc
}

func envMap(t *testing.T, n yaml.Node) map[string]string {
	t.Helper()
	out := map[string]string{}
	require.NoError(t, n.Decode(&out))
	return out
}

func envList(t *testing.T, n yaml.Node) []string {
	t.Helper()
	var out []string
	require.NoError(t, n.Decode(&out))
	return out
}

func TestRewrite(t *testing.T) {
	t.Run("mapping environment", func(t *testing.T) {
		in := []byte(`# node deployment
services:
  relaynode:
    image: relaynode:latest
    environment:
      SERVICE_PORT: "62050"
      XRAY_EXECUTABLE_PATH: /usr/local/bin/xray
    volumes:
      - /var/lib/relaynode:/var/lib/relaynode
`)
		out, err := Rewrite(in, "relaynode", map[string]string{"XRAY_EXECUTABLE_PATH": "/var/lib/relaynode/xray-core/xray"}, volume)
		require.NoError(t, err)

		doc := decode(t, out)
		svc := doc.Services["relaynode"]
		assert.Equal(t, "relaynode:latest", svc.Image)
		assert.Equal(t, map[string]string{
			"SERVICE_PORT":         "62050",
			"XRAY_EXECUTABLE_PATH": "/var/lib/relaynode/xray-core/xray",
		}, envMap(t, svc.Environment))
		assert.Equal(t, []string{"/var/lib/relaynode:/var/lib/relaynode", volume}, svc.Volumes)
		assert.Contains(t, string(out), "# node deployment", "comments survive")
	})

	t.Run("list environment", func(t *testing.T) {
		in := []byte(`services:
  relaynode:
    environment:
      - SERVICE_PORT=62050
      - XRAY_ASSETS_PATH=/old
`)
		out, err := Rewrite(in, "relaynode", map[string]string{"XRAY_ASSETS_PATH": "/usr/local/share/xray", "NODE_VERSION": "1.0"}, volume)
		require.NoError(t, err)

		svc := decode(t, out).Services["relaynode"]
		assert.Equal(t, []string{
			"SERVICE_PORT=62050",
			"XRAY_ASSETS_PATH=/usr/local/share/xray",
			"NODE_VERSION=1.0",
		}, envList(t, svc.Environment))
	})

	t.Run("volume not duplicated", func(t *testing.T) {
		in := []byte("services:\n  relaynode:\n    volumes:\n      - " + volume + "\n")
		out, err := Rewrite(in, "relaynode", map[string]string{"A": "b"}, volume)
		require.NoError(t, err)
		assert.Equal(t, []string{volume}, decode(t, out).Services["relaynode"].Volumes)
	})

	t.Run("missing sections are created", func(t *testing.T) {
		for name, in := range map[string]string{
			"empty file":       "",
			"no services":      "version: '3'\n",
			"null environment": "services:\n  relaynode:\n    environment:\n",
		} {
			t.Run(name, func(t *testing.T) {
				out, err := Rewrite([]byte(in), "relaynode", map[string]string{"XRAY_ASSETS_PATH": "/x"}, volume)
				require.NoError(t, err)
				svc := decode(t, out).Services["relaynode"]
				assert.Equal(t, "/x", envMap(t, svc.Environment)["XRAY_ASSETS_PATH"])
				assert.Equal(t, []string{volume}, svc.Volumes)
			})
		}
	})

	t.Run("invalid documents", func(t *testing.T) {
		for name, in := range map[string]string{
			"malformed":             "services: [",
			"top level list":        "- a\n- b\n",
			"services is a list":    "services:\n  - relaynode\n",
			"environment is scalar": "services:\n  relaynode:\n    environment: nope\n",
		} {
			t.Run(name, func(t *testing.T) {
				_, err := Rewrite([]byte(in), "relaynode", map[string]string{"A": "b"}, volume)
				assert.Error(t, err)
			})
		}
	})
}

func TestDescriptor_SetEnv(t *testing.T) {
	newDescriptor := func(t *testing.T, content string) (*Descriptor, *[][]string) {
		t.Helper()
		path := filepath.Join(t.TempDir(), "docker-compose.yml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o640))

		var calls [][]string
		d := &Descriptor{
			Path:    path,
			Service: "relaynode",
			Volume:  volume,
			Command: []string{"docker", "compose"},
			Run: func(_ context.Context, name string, args ...string) ([]byte, error) {
				calls = append(calls, append([]string{name}, args...))
				return []byte("Container relaynode  Started"), nil
			},
		}
		return d, &calls
	}

	t.Run("rewrites and applies", func(t *testing.T) {
		d, calls := newDescriptor(t, "services:\n  relaynode:\n    image: x\n")
		assert.True(t, d.Exists())

		require.NoError(t, d.SetEnv(context.Background(), "XRAY_EXECUTABLE_PATH", "/opt/xray"))

		data, err := os.ReadFile(d.Path)
		require.NoError(t, err)
		svc := decode(t, data).Services["relaynode"]
		assert.Equal(t, "/opt/xray", envMap(t, svc.Environment)["XRAY_EXECUTABLE_PATH"])

		info, err := os.Stat(d.Path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o640), info.Mode().Perm(), "mode preserved")

		require.Len(t, *calls, 1)
		assert.Equal(t, []string{"docker", "compose", "-f", d.Path, "up", "-d"}, (*calls)[0])
	})

	t.Run("apply failure carries output", func(t *testing.T) {
		d, _ := newDescriptor(t, "services: {}\n")
		d.Run = func(context.Context, string, ...string) ([]byte, error) {
			return []byte("no such service"), errors.New("exit status 1")
		}
		err := d.SetEnv(context.Background(), "A", "b")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exit status 1")
		assert.Contains(t, err.Error(), "no such service")
	})

	t.Run("parse failure leaves file untouched", func(t *testing.T) {
		d, calls := newDescriptor(t, "services: [")
		assert.Error(t, d.SetEnv(context.Background(), "A", "b"))
		data, err := os.ReadFile(d.Path)
		require.NoError(t, err)
		assert.Equal(t, "services: [", string(data))
		assert.Empty(t, *calls)
	})

	t.Run("missing file", func(t *testing.T) {
		d := &Descriptor{Path: filepath.Join(t.TempDir(), "nope.yml"), Service: "relaynode", Command: []string{"docker-compose"}}
		assert.False(t, d.Exists())
		assert.Error(t, d.SetEnv(context.Background(), "A", "b"))
	})
}
