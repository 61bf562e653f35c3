package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	currentSchemaVersion = 1
	fileMode             = 0o600
	dirMode              = 0o700
	tempFilePattern      = ".install-*.toml.tmp"
)

// Manifest records what the update pipeline installed last.
type Manifest struct {
	Core   *Core
	Assets *Assets
}

type Core struct {
	ExecutablePath string    `toml:"executable_path"`
	Version        string    `toml:"version"`
	Digest         string    `toml:"digest"`
	InstalledAt    time.Time `toml:"installed_at"`
}

type Assets struct {
	Path        string      `toml:"path"`
	Files       []AssetFile `toml:"files"`
	InstalledAt time.Time   `toml:"installed_at"`
}

type AssetFile struct {
	Name   string `toml:"name"`
	Digest string `toml:"digest"`
}

type fileSchema struct {
	Version int     `toml:"version"`
	Core    *Core   `toml:"core,omitempty"`
	Assets  *Assets `toml:"assets,omitempty"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported manifest schema version %d (current %d)", s.Version, currentSchemaVersion)
	}
	return nil
}

// Store persists the manifest as a TOML file.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Load returns the stored manifest. A missing file yields an empty manifest.
func (s *Store) Load() (Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// SaveCore records an installed engine binary, keeping the assets section.
func (s *Store) SaveCore(core Core) error {
	return s.update(func(m *Manifest) { m.Core = &core })
}

// SaveAssets records downloaded assets, keeping the core section.
func (s *Store) SaveAssets(assets Assets) error {
	return s.update(func(m *Manifest) { m.Assets = &assets })
}

func (s *Store) update(fn func(*Manifest)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.read()
	if err != nil {
		return err
	}
	fn(&m)
	return s.write(m)
}

func (s *Store) read() (Manifest, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{}, nil
		}
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return Manifest{}, err
	}
	return Manifest{Core: file.Core, Assets: file.Assets}, nil
}

func (s *Store) write(m Manifest) error {
	file := fileSchema{Core: m.Core, Assets: m.Assets}
	file.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(s.path), dirMode); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(s.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp manifest: %w", err)
	}
	if err := tempFile.Chmod(fileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp manifest: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp manifest: %w", err)
	}
	if err := os.Rename(tempName, s.path); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	cleanup = false
	return nil
}
