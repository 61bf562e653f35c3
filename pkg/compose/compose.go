package compose

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Runner executes the orchestrator command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command on the host.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Descriptor is a docker-compose file describing the node container.
type Descriptor struct {
	Path    string
	Service string
	// Volume is the bind mount ("host:container") every rewrite ensures.
	Volume string
	// Command is the orchestrator invocation, "-f <Path> up -d" is appended.
	Command []string
	Run     Runner
}

// Exists reports whether the descriptor file is present.
func (d *Descriptor) Exists() bool {
	info, err := os.Stat(d.Path)
	return err == nil && !info.IsDir()
}

// SetEnv sets key=value in the service environment, ensures the volume,
// persists the file and redeploys the service.
func (d *Descriptor) SetEnv(ctx context.Context, key, value string) error {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		return fmt.Errorf("read %s: %w", d.Path, err)
	}

	out, err := Rewrite(data, d.Service, map[string]string{key: value}, d.Volume)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(d.Path, out); err != nil {
		return err
	}
	slog.Info("deployment descriptor updated", slog.String("file", d.Path), slog.String("key", key), slog.String("value", value))

	return d.apply(ctx)
}

func (d *Descriptor) apply(ctx context.Context) error {
	if len(d.Command) == 0 {
		return fmt.Errorf("no orchestrator command configured")
	}
	run := d.Run
	if run == nil {
		run = ExecRunner
	}

	args := append(append([]string{}, d.Command[1:]...), "-f", d.Path, "up", "-d")
	output, err := run(ctx, d.Command[0], args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", d.Command[0], strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	slog.Info("service redeployed", slog.String("service", d.Service))
	return nil
}

// Rewrite returns data with env merged into services.<service>.environment
// and volume appended to services.<service>.volumes when absent. Both the
// mapping and the KEY=VALUE list forms of environment are kept as found.
// Comments and key order of the rest of the document survive.
func Rewrite(data []byte, service string, env map[string]string, volume string) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode}
	}
	if doc.Kind == yaml.DocumentNode && len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{mappingNode()}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("descriptor is not a mapping")
	}

	services, err := child(doc.Content[0], "services", yaml.MappingNode)
	if err != nil {
		return nil, err
	}
	svc, err := child(services, service, yaml.MappingNode)
	if err != nil {
		return nil, err
	}

	environment, err := child(svc, "environment", yaml.MappingNode)
	if err != nil {
		return nil, err
	}
	for _, key := range sortedKeys(env) {
		if err := setEnv(environment, key, env[key]); err != nil {
			return nil, err
		}
	}

	if volume != "" {
		volumes, err := child(svc, "volumes", yaml.SequenceNode)
		if err != nil {
			return nil, err
		}
		ensureVolume(volumes, volume)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode descriptor: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode descriptor: %w", err)
	}
	return buf.Bytes(), nil
}

func mappingNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func scalar(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

// child returns the value under key in mapping m, creating it with kind
// when missing or null.
func child(m *yaml.Node, key string, kind yaml.Kind) (*yaml.Node, error) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value != key {
			continue
		}
		v := m.Content[i+1]
		if v.Kind == yaml.ScalarNode && v.Tag == "!!null" {
			*v = *newNode(kind)
			return v, nil
		}
		if key == "environment" && v.Kind == yaml.SequenceNode {
			return v, nil
		}
		if v.Kind != kind {
			return nil, fmt.Errorf("%s has unexpected type", key)
		}
		return v, nil
	}
	v := newNode(kind)
	m.Content = append(m.Content, scalar(key), v)
	return v, nil
}

func newNode(kind yaml.Kind) *yaml.Node {
	if kind == yaml.SequenceNode {
		return &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	}
	return mappingNode()
}

func setEnv(environment *yaml.Node, key, value string) error {
	switch environment.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(environment.Content); i += 2 {
			if environment.Content[i].Value == key {
				environment.Content[i+1] = scalar(value)
				return nil
			}
		}
		environment.Content = append(environment.Content, scalar(key), scalar(value))
	case yaml.SequenceNode:
		entry := key + "=" + value
		for _, item := range environment.Content {
			name, _, _ := strings.Cut(item.Value, "=")
			if name == key {
				*item = *scalar(entry)
				return nil
			}
		}
		environment.Content = append(environment.Content, scalar(entry))
	default:
		return fmt.Errorf("environment has unexpected type")
	}
	return nil
}

func ensureVolume(volumes *yaml.Node, volume string) {
	for _, item := range volumes.Content {
		if item.Kind == yaml.ScalarNode && item.Value == volume {
			return
		}
	}
	volumes.Content = append(volumes.Content, scalar(volume))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func writeFileAtomic(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".compose-*.yml.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
