package config

import (
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every setting of the node agent and its maintenance agent.
type Config struct {
	Host     string
	Port     int
	LogLevel slog.Level

	ExecutablePath string
	AssetsPath     string
	NodeVersion    string

	CertFile     string
	KeyFile      string
	ClientCAFile string

	MaintenanceScheme       string
	MaintenanceHost         string
	MaintenancePort         int
	MaintenanceAllowedHosts []string
	MaintenanceCLI          string

	StateDir                string
	InstallDir              string
	AssetsDir               string
	ContainerExecutablePath string
	ContainerAssetsPath     string

	ComposeFile    string
	ComposeService string
	ComposeCommand []string

	ReleaseBaseURL string
}

// Addr is the listen address of the main API.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// MaintenanceAddr is the listen address of the local maintenance agent.
func (c *Config) MaintenanceAddr() string {
	return net.JoinHostPort(c.MaintenanceHost, strconv.Itoa(c.MaintenancePort))
}

// ManifestPath is where the install manifest lives.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.StateDir, "install.toml")
}

// HistoryPath is where the update ledger lives.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.StateDir, "history.db")
}

type setting struct {
	key   string
	flag  string
	def   any
	usage string
}

const defaultStateDir = "/var/lib/relaynode"

var settings = []setting{
	{"service_host", "host", "0.0.0.0", "API listen host"},
	{"service_port", "port", 62050, "API listen port"},
	{"log_level", "log-level", "info", "log level (debug, info, warn, error)"},
	{"xray_executable_path", "xray-executable", "/usr/local/bin/xray", "engine executable"},
	{"xray_assets_path", "xray-assets", "/usr/local/share/xray", "engine routing-data assets directory"},
	{"node_version", "node-version", "", "version reported in status responses"},
	{"ssl_cert_file", "cert", defaultStateDir + "/ssl_cert.pem", "server certificate"},
	{"ssl_key_file", "key", defaultStateDir + "/ssl_key.pem", "server private key"},
	{"ssl_client_cert_file", "client-ca", "", "CA bundle used to verify controller certificates"},
	{"maintenance_scheme", "maintenance-scheme", "http", "maintenance agent scheme"},
	{"maintenance_host", "maintenance-host", "127.0.0.1", "maintenance agent host; empty disables the proxy"},
	{"maintenance_port", "maintenance-port", 3100, "maintenance agent port"},
	{"maintenance_allowed_hosts", "maintenance-allowed-hosts", "127.0.0.1,::1,localhost", "peers allowed to call the maintenance agent"},
	{"maintenance_cli", "maintenance-cli", "", "node management CLI run by the maintenance agent"},
	{"state_dir", "state-dir", defaultStateDir, "state directory"},
	{"install_dir", "install-dir", defaultStateDir + "/xray-core", "engine install directory"},
	{"assets_dir", "assets-dir", defaultStateDir + "/assets", "downloaded assets directory"},
	{"container_executable_path", "container-executable", defaultStateDir + "/xray-core/xray", "engine path written to the deployment descriptor"},
	{"container_assets_path", "container-assets", "/usr/local/share/xray", "assets path written to the deployment descriptor"},
	{"compose_file", "compose-file", "/opt/relaynode/docker-compose.yml", "deployment descriptor"},
	{"compose_service", "compose-service", "relaynode", "service name inside the deployment descriptor"},
	{"compose_command", "compose-command", "docker-compose", "orchestrator command used to apply the descriptor"},
	{"release_base_url", "release-base-url", "https://github.com/XTLS/Xray-core/releases/download", "engine release download base"},
}

// RegisterFlags adds one flag per setting to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	for _, s := range settings {
		if fs.Lookup(s.flag) != nil {
			continue
		}
		switch def := s.def.(type) {
		case int:
			fs.Int(s.flag, def, s.usage)
		case string:
			fs.String(s.flag, def, s.usage)
		}
	}
}

// Load resolves configuration with precedence flag > environment > default.
// fs may be nil, in which case only the environment is consulted.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	for _, s := range settings {
		v.SetDefault(s.key, s.def)
		if fs == nil {
			continue
		}
		if f := fs.Lookup(s.flag); f != nil {
			if err := v.BindPFlag(s.key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", s.flag, err)
			}
		}
	}

	port, err := intSetting(v, "service_port")
	if err != nil {
		return nil, err
	}
	maintenancePort, err := intSetting(v, "maintenance_port")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Host:                    v.GetString("service_host"),
		Port:                    port,
		LogLevel:                getLogLevel(v.GetString("log_level")),
		ExecutablePath:          v.GetString("xray_executable_path"),
		AssetsPath:              v.GetString("xray_assets_path"),
		NodeVersion:             v.GetString("node_version"),
		CertFile:                v.GetString("ssl_cert_file"),
		KeyFile:                 v.GetString("ssl_key_file"),
		ClientCAFile:            v.GetString("ssl_client_cert_file"),
		MaintenanceScheme:       strings.TrimSpace(v.GetString("maintenance_scheme")),
		MaintenanceHost:         strings.TrimSpace(v.GetString("maintenance_host")),
		MaintenancePort:         maintenancePort,
		MaintenanceAllowedHosts: splitList(v.GetString("maintenance_allowed_hosts")),
		MaintenanceCLI:          v.GetString("maintenance_cli"),
		StateDir:                v.GetString("state_dir"),
		InstallDir:              v.GetString("install_dir"),
		AssetsDir:               v.GetString("assets_dir"),
		ContainerExecutablePath: v.GetString("container_executable_path"),
		ContainerAssetsPath:     v.GetString("container_assets_path"),
		ComposeFile:             v.GetString("compose_file"),
		ComposeService:          v.GetString("compose_service"),
		ComposeCommand:          strings.Fields(v.GetString("compose_command")),
		ReleaseBaseURL:          strings.TrimRight(v.GetString("release_base_url"), "/"),
	}

	if cfg.MaintenanceScheme == "" {
		cfg.MaintenanceScheme = "http"
	}
	if len(cfg.ComposeCommand) == 0 {
		return nil, fmt.Errorf("compose command is empty")
	}
	return cfg, nil
}

func intSetting(v *viper.Viper, key string) (int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", strings.ToUpper(key), raw, err)
	}
	if n < 0 || n > 65535 {
		return 0, fmt.Errorf("invalid %s %d: out of range", strings.ToUpper(key), n)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getLogLevel converts string log level to slog.Level
func getLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
