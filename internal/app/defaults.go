package app

import (
	"fmt"
	"os"
	"path/filepath"

	"mailbuild/internal/config"
)

// Environment variables consulted by the CLI.
const (
	ConfigEnv     = "MAILBUILD_CONFIG"
	SecretsEnv    = "MAILBUILD_SECRETS"
	PassphraseEnv = "MAILBUILD_SECRETS_PASSPHRASE"
)

// ConfigPath returns the settings file path, checking MAILBUILD_CONFIG first,
// then falling back to mailbuild.toml in the working directory.
func ConfigPath() (string, error) {
	if path := os.Getenv(ConfigEnv); path != "" {
		return path, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("cannot determine working directory: %w", err)
	}
	return filepath.Join(wd, config.DefaultFileName), nil
}

// SecretsPath returns the secrets file for cfg. MAILBUILD_SECRETS overrides
// settings.secrets_file; a relative override resolves against the project root.
func SecretsPath(cfg *config.Config) string {
	if path := os.Getenv(SecretsEnv); path != "" {
		return cfg.Abs(path)
	}
	return cfg.Settings.SecretsFile
}
