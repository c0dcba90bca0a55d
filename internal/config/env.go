package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"mailbuild/internal/pipeline"
)

// Namespaces mounted next to the settings file's own tables.
const (
	SecretsNamespace = "secrets"
	OptionNamespace  = pipeline.OptionNamespace
	EnvNamespace     = "env"
)

// LoadEnv returns the environment as a config table: the variables of
// envFile (if given and present) overlaid by the process environment, which
// wins on conflicts.
func LoadEnv(envFile string) (map[string]any, error) {
	env := make(map[string]any)
	if envFile != "" {
		vars, err := godotenv.Read(envFile)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading env file %s: %w", envFile, err)
		}
		for k, v := range vars {
			env[k] = v
		}
	}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env, nil
}

// OptionTable converts CLI arguments into the option namespace.
func OptionTable(args map[string]string) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
