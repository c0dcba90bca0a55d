// Package secrets loads the credentials file mounted under the "secrets"
// configuration namespace. The file is kept out of version control and may
// be age-encrypted.
package secrets

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrNotFound is returned by Load when the secrets file does not exist.
var ErrNotFound = errors.New("secrets file not found")

// Options controls how an encrypted secrets file is opened.
type Options struct {
	// IdentityFile is an age identity file (AGE-SECRET-KEY-...).
	IdentityFile string
	// Passphrase is consulted for scrypt-encrypted files when no identity
	// file is configured.
	Passphrase func() (string, error)
}

// Load reads the secrets file at path. Supported formats are .json, .toml
// and either of them encrypted with age (".json.age", ".toml.age").
func Load(path string, opts Options) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}

	name := path
	if strings.EqualFold(filepath.Ext(name), ".age") {
		plain, err := decrypt(bytes.NewReader(data), opts)
		if err != nil {
			return nil, fmt.Errorf("decrypting %s: %w", path, err)
		}
		data = plain
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}

	values, err := Parse(data, filepath.Ext(name))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return values, nil
}

// Parse decodes secrets in the format named by ext. An unknown extension
// tries JSON first, then TOML.
func Parse(data []byte, ext string) (map[string]any, error) {
	switch strings.ToLower(ext) {
	case ".json":
		return parseJSON(data)
	case ".toml":
		return parseTOML(data)
	default:
		if v, err := parseJSON(data); err == nil {
			return v, nil
		}
		return parseTOML(data)
	}
}

func parseJSON(data []byte) (map[string]any, error) {
	values := make(map[string]any)
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decoding json: %w", err)
	}
	return values, nil
}

func parseTOML(data []byte) (map[string]any, error) {
	values := make(map[string]any)
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&values); err != nil {
		return nil, fmt.Errorf("decoding toml: %w", err)
	}
	return values, nil
}

// EncryptFile encrypts src to dst for the given recipients, or with the
// passphrase when recipients is empty. dst defaults to src + ".age".
func EncryptFile(src, dst string, recipients []string, passphrase string) (string, error) {
	if dst == "" {
		dst = src + ".age"
	}
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	var buf bytes.Buffer
	if err := encrypt(in, &buf, recipients, passphrase); err != nil {
		return "", err
	}
	if err := os.WriteFile(dst, buf.Bytes(), 0600); err != nil {
		return "", fmt.Errorf("writing %s: %w", dst, err)
	}
	return dst, nil
}

// readAll is io.ReadAll with a wrapped error.
func readAll(r io.Reader, what string) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", what, err)
	}
	return data, nil
}
