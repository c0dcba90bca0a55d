// Package config loads mailbuild.toml and turns it into task and stage
// definitions. The file is decoded twice: once into the typed Settings and
// once into the raw tree that placeholders resolve against.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultFileName is the settings file looked up in the working directory.
const DefaultFileName = "mailbuild.toml"

//go:embed sample.toml
var sampleConfig []byte

// Config is a loaded settings file.
type Config struct {
	// Path is the file the config was read from; empty for readers.
	Path string
	// Root is the project directory; relative paths resolve against it.
	Root     string
	Settings Settings
	// Tree is the raw, unresolved configuration tree.
	Tree map[string]any
}

// Settings is the typed [settings] table.
type Settings struct {
	LogDir          string       `toml:"log_dir"`
	SecretsFile     string       `toml:"secrets_file"`
	SecretsIdentity string       `toml:"secrets_identity,omitempty"`
	EnvFile         string       `toml:"env_file,omitempty"`
	Ignore          []string     `toml:"ignore,omitempty"`
	Ledger          LedgerConfig `toml:"ledger"`
	Retry           RetryConfig  `toml:"retry"`
	Watch           WatchConfig  `toml:"watch"`
}

// LedgerConfig represents configuration for the upload ledger.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type LedgerConfig struct {
	Type    string `toml:"type"`               // "sqlite", "memory" or "none"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// RetryConfig bounds retries of stages failing with network errors.
// Attempts = 0 disables retrying.
type RetryConfig struct {
	Attempts  int           `toml:"attempts"`
	BaseDelay time.Duration `toml:"base_delay"`
	MaxDelay  time.Duration `toml:"max_delay"`
}

// WatchConfig lists the files watched by `mailbuild watch` and the tasks run
// when they change.
type WatchConfig struct {
	Files    []string      `toml:"files"`
	Tasks    []string      `toml:"tasks"`
	Debounce time.Duration `toml:"debounce"`
}

// Manager handles reading configuration.
type Manager struct{}

// Read decodes a Config from the provided reader. root is the project
// directory used to resolve relative settings paths.
func (m *Manager) Read(r io.Reader, root string) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var typed struct {
		Settings Settings `toml:"settings"`
	}
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&typed); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	tree := make(map[string]any)
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&tree); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg := &Config{Root: root, Settings: typed.Settings, Tree: tree}
	cfg.applyDefaults()
	return cfg, nil
}

// ReadFromFile reads a Config from the specified file path. The project root
// is the directory containing the file.
func ReadFromFile(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f, filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg.Path = abs
	return cfg, nil
}

func (c *Config) applyDefaults() {
	s := &c.Settings
	if s.LogDir == "" {
		s.LogDir = filepath.Join(".mailbuild", "log")
	}
	if s.SecretsFile == "" {
		s.SecretsFile = "secrets.json"
	}
	if s.Ledger.Type == "" {
		s.Ledger.Type = "sqlite"
	}
	if s.Ledger.Type == "sqlite" && s.Ledger.DataDir == "" {
		s.Ledger.DataDir = ".mailbuild"
	}
	if s.Retry.BaseDelay == 0 {
		s.Retry.BaseDelay = 500 * time.Millisecond
	}
	if s.Retry.MaxDelay == 0 {
		s.Retry.MaxDelay = 10 * time.Second
	}
	if len(s.Watch.Tasks) == 0 {
		s.Watch.Tasks = []string{"default"}
	}
	if s.Watch.Debounce == 0 {
		s.Watch.Debounce = 300 * time.Millisecond
	}

	s.LogDir = c.Abs(s.LogDir)
	s.SecretsFile = c.Abs(s.SecretsFile)
	if s.SecretsIdentity != "" {
		s.SecretsIdentity = c.Abs(s.SecretsIdentity)
	}
	if s.EnvFile != "" {
		s.EnvFile = c.Abs(s.EnvFile)
	}
	if s.Ledger.DataDir != "" {
		s.Ledger.DataDir = c.Abs(s.Ledger.DataDir)
	}
}

// Abs resolves p against the project root.
func (c *Config) Abs(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// Init writes the sample settings file to path. It refuses to overwrite an
// existing file.
func Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, sampleConfig, 0644); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

// Sample returns the sample settings file written by Init.
func Sample() []byte {
	return bytes.Clone(sampleConfig)
}
