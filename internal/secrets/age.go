package secrets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"golang.org/x/term"
)

// GenerateIdentity creates a new X25519 identity, writes it to path with
// mode 0600 and returns the matching recipient ("age1...").
func GenerateIdentity(path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("identity file already exists at %s", path)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generating key pair: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("creating identity directory: %w", err)
	}

	content := fmt.Sprintf("# public key: %s\n%s\n", identity.Recipient(), identity)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return "", fmt.Errorf("writing identity: %w", err)
	}
	return identity.Recipient().String(), nil
}

// RecipientOf returns the public key of the first identity in path.
func RecipientOf(path string) (string, error) {
	ids, err := loadIdentities(path)
	if err != nil {
		return "", err
	}
	x, ok := ids[0].(*age.X25519Identity)
	if !ok {
		return "", fmt.Errorf("identity in %s is not an X25519 key", path)
	}
	return x.Recipient().String(), nil
}

func encrypt(r io.Reader, w io.Writer, recipients []string, passphrase string) error {
	var rs []age.Recipient
	if len(recipients) > 0 {
		parsed, err := age.ParseRecipients(strings.NewReader(strings.Join(recipients, "\n")))
		if err != nil {
			return fmt.Errorf("parsing recipients: %w", err)
		}
		rs = parsed
	} else {
		if passphrase == "" {
			return errors.New("a recipient or a passphrase is required")
		}
		sr, err := age.NewScryptRecipient(passphrase)
		if err != nil {
			return fmt.Errorf("creating scrypt recipient: %w", err)
		}
		rs = []age.Recipient{sr}
	}

	encWriter, err := age.Encrypt(w, rs...)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

func decrypt(r io.Reader, opts Options) ([]byte, error) {
	var identities []age.Identity
	switch {
	case opts.IdentityFile != "":
		ids, err := loadIdentities(opts.IdentityFile)
		if err != nil {
			return nil, err
		}
		identities = ids
	case opts.Passphrase != nil:
		pass, err := opts.Passphrase()
		if err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
		id, err := age.NewScryptIdentity(pass)
		if err != nil {
			return nil, fmt.Errorf("creating scrypt identity: %w", err)
		}
		identities = []age.Identity{id}
	default:
		return nil, errors.New("encrypted secrets need an identity file or a passphrase")
	}

	decReader, err := age.Decrypt(r, identities...)
	if err != nil {
		return nil, fmt.Errorf("creating decrypted reader: %w", err)
	}
	return readAll(decReader, "decrypted secrets")
}

func loadIdentities(path string) ([]age.Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	ids, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing identity file: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no identities found in %s", path)
	}
	return ids, nil
}

// EnvPassphrase returns a passphrase source that reads the environment
// variable name and falls back to prompting on the terminal.
func EnvPassphrase(name string) func() (string, error) {
	return func() (string, error) {
		if v := os.Getenv(name); v != "" {
			return v, nil
		}
		return PromptPassphrase("Secrets passphrase: ")
	}
}

// PromptPassphrase reads a passphrase from the terminal without echo.
func PromptPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal available to prompt for a passphrase")
	}
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pass), nil
}
