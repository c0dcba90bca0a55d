package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_Read(t *testing.T) {
	input := `
[settings]
log_dir = "/var/log/mailbuild"
secrets_file = "private/secrets.toml"

[settings.ledger]
type = "memory"

[settings.retry]
attempts = 3
base_delay = "1s"

[paths]
src = "src"
`
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(input), "/project")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if cfg.Settings.LogDir != "/var/log/mailbuild" {
		t.Errorf("LogDir = %q, want /var/log/mailbuild", cfg.Settings.LogDir)
	}
	if cfg.Settings.SecretsFile != filepath.Join("/project", "private", "secrets.toml") {
		t.Errorf("SecretsFile = %q, want resolved against root", cfg.Settings.SecretsFile)
	}
	if cfg.Settings.Ledger.Type != "memory" {
		t.Errorf("Ledger.Type = %q, want memory", cfg.Settings.Ledger.Type)
	}
	if cfg.Settings.Ledger.DataDir != "" {
		t.Errorf("Ledger.DataDir = %q, want empty for memory ledger", cfg.Settings.Ledger.DataDir)
	}
	if cfg.Settings.Retry.Attempts != 3 || cfg.Settings.Retry.BaseDelay != time.Second {
		t.Errorf("Retry = %+v", cfg.Settings.Retry)
	}
	if cfg.Settings.Retry.MaxDelay != 10*time.Second {
		t.Errorf("Retry.MaxDelay = %v, want default 10s", cfg.Settings.Retry.MaxDelay)
	}

	paths, ok := cfg.Tree["paths"].(map[string]any)
	if !ok || paths["src"] != "src" {
		t.Errorf("Tree[paths] = %v", cfg.Tree["paths"])
	}
}

func TestManager_Read_Defaults(t *testing.T) {
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(""), "/project")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	s := cfg.Settings
	if s.SecretsFile != filepath.Join("/project", "secrets.json") {
		t.Errorf("SecretsFile = %q", s.SecretsFile)
	}
	if s.Ledger.Type != "sqlite" || s.Ledger.DataDir != filepath.Join("/project", ".mailbuild") {
		t.Errorf("Ledger = %+v", s.Ledger)
	}
	if s.Retry.Attempts != 0 {
		t.Errorf("Retry.Attempts = %d, want 0", s.Retry.Attempts)
	}
	if len(s.Watch.Tasks) != 1 || s.Watch.Tasks[0] != "default" {
		t.Errorf("Watch.Tasks = %v, want [default]", s.Watch.Tasks)
	}
}

func TestManager_Read_Invalid(t *testing.T) {
	m := &Manager{}
	if _, err := m.Read(strings.NewReader("[settings\n"), "/project"); err == nil {
		t.Error("Read() expected error for invalid TOML")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, DefaultFileName)

		if err := Init(path); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, DefaultFileName)

		if err := Init(path); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads the sample config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, DefaultFileName)
		if err := Init(path); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Root != dir {
			t.Errorf("Root = %q, want %q", got.Root, dir)
		}
		if got.Settings.Watch.Debounce != 300*time.Millisecond {
			t.Errorf("Watch.Debounce = %v, want 300ms", got.Settings.Watch.Debounce)
		}
		if len(got.Settings.Watch.Files) != 5 {
			t.Errorf("len(Watch.Files) = %d, want 5", len(got.Settings.Watch.Files))
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/mailbuild.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
