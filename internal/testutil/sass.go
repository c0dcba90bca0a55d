package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// FakeSass writes a shell script into dir that stands in for the sass
// compiler: it appends its flags to "<script>.args" and copies the source to
// the destination. Sources whose path contains "broken" fail like a syntax
// error. Tests using it are skipped on Windows.
func FakeSass(t *testing.T, dir string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script compiler stub needs a unix shell")
	}
	script := `#!/bin/sh
src=""
dst=""
for a in "$@"; do
  case "$a" in
    --*) echo "$a" >> "$0.args" ;;
    *) src="$dst"; dst="$a" ;;
  esac
done
case "$src" in
  *broken*) echo "Error: expected \"}\"" >&2; exit 65 ;;
esac
cp "$src" "$dst"
`
	p := filepath.Join(dir, "sass")
	if err := os.WriteFile(p, []byte(script), 0755); err != nil {
		t.Fatalf("writing sass stub: %v", err)
	}
	return p
}
