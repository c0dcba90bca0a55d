package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mailbuild/internal/fs"
	"mailbuild/internal/stage"
)

// DirStore is an ObjectStore that writes objects as files below a root
// directory, e.g. a mounted share:
//
//	<root>/
//	  <key>    (object key with "/" mapped to directories)
type DirStore struct {
	root string
}

// NewDirStore creates the root directory if needed.
func NewDirStore(root string) (stage.ObjectStore, error) {
	if root == "" {
		return nil, fmt.Errorf("directory store root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory store: %w", err)
	}
	return &DirStore{root: abs}, nil
}

func (d *DirStore) Destination() string {
	return "dir://" + filepath.ToSlash(d.root)
}

// Put writes obj atomically. Keys may not escape the root.
func (d *DirStore) Put(ctx context.Context, obj stage.Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := d.path(obj.Key)
	if err != nil {
		return err
	}
	if _, err := obj.Body.Seek(0, 0); err != nil {
		return fmt.Errorf("rewinding body: %w", err)
	}
	if err := fs.WriteFileAtomic(p, obj.Body, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", obj.Key, err)
	}
	return nil
}

func (d *DirStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(key, "/")))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(d.root, clean), nil
}

// ValidateSetup verifies that the root directory is accessible and writable.
func (d *DirStore) ValidateSetup() error {
	info, err := os.Stat(d.root)
	if err != nil {
		return fmt.Errorf("directory store root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("directory store root is not a directory: %s", d.root)
	}
	f, err := os.CreateTemp(d.root, ".write-test-*")
	if err != nil {
		return fmt.Errorf("directory store root not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

var _ stage.ObjectStore = (*DirStore)(nil)
