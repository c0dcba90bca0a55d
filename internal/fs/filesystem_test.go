package fs_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mailbuild/internal/fs"
)

func TestWriteFileAtomic(t *testing.T) {
	t.Run("creates parent directories", func(t *testing.T) {
		t.Parallel()
		dest := filepath.Join(t.TempDir(), "dist", "img", "logo.png")
		if err := fs.WriteFileAtomic(dest, strings.NewReader("png"), 0640); err != nil {
			t.Fatalf("WriteFileAtomic() error = %v", err)
		}
		data, err := os.ReadFile(dest)
		if err != nil {
			t.Fatalf("reading file: %v", err)
		}
		if string(data) != "png" {
			t.Errorf("content = %q, want png", data)
		}
		info, _ := os.Stat(dest)
		if info.Mode().Perm() != 0640 {
			t.Errorf("mode = %v, want 0640", info.Mode().Perm())
		}
	})

	t.Run("replaces existing content and leaves no temp files", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		dest := filepath.Join(dir, "welcome.html")
		if err := fs.WriteFile(dest, []byte("old")); err != nil {
			t.Fatal(err)
		}
		if err := fs.WriteFile(dest, []byte("new")); err != nil {
			t.Fatal(err)
		}
		data, _ := os.ReadFile(dest)
		if string(data) != "new" {
			t.Errorf("content = %q, want new", data)
		}
		entries, _ := os.ReadDir(dir)
		if len(entries) != 1 {
			t.Errorf("directory has %d entries, want 1", len(entries))
		}
	})
}

func TestCopyFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	os.WriteFile(src, []byte("hello"), 0644)

	dst := filepath.Join(dir, "out", "b.txt")
	if err := fs.CopyFile(dst, src); err != nil {
		t.Fatalf("CopyFile() error = %v", err)
	}
	data, _ := os.ReadFile(dst)
	if string(data) != "hello" {
		t.Errorf("content = %q, want hello", data)
	}

	if err := fs.CopyFile(src, src); err != nil {
		t.Errorf("CopyFile() onto itself error = %v", err)
	}
}

func TestChecksum(t *testing.T) {
	t.Parallel()
	// sha256("hello")
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	sum, n, err := fs.Checksum(strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Checksum() error = %v", err)
	}
	if sum != want || n != 5 {
		t.Errorf("Checksum() = %s, %d; want %s, 5", sum, n, want)
	}

	path := filepath.Join(t.TempDir(), "f")
	os.WriteFile(path, []byte("hello"), 0644)
	sum, _, err = fs.ChecksumFile(path)
	if err != nil || sum != want {
		t.Errorf("ChecksumFile() = %s, %v", sum, err)
	}
}

func TestRelSlash(t *testing.T) {
	base := filepath.FromSlash("/project")
	tests := []struct{ target, want string }{
		{filepath.FromSlash("/project/dist/a.html"), "dist/a.html"},
		{filepath.FromSlash("/elsewhere/a.html"), "/elsewhere/a.html"},
	}
	for _, tt := range tests {
		if got := fs.RelSlash(base, tt.target); got != tt.want {
			t.Errorf("RelSlash(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}
