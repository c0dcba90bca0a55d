package fs_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"mailbuild/internal/fs"
	"mailbuild/internal/pipeline"
)

// writeTree creates files (slash-separated paths) under root.
func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("creating dir: %v", err)
		}
		if err := os.WriteFile(p, []byte(f), 0644); err != nil {
			t.Fatalf("writing %s: %v", f, err)
		}
	}
}

func TestMatcher_Expand(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"a.html", "b.html", "c.txt",
		"src/img/logo.png", "src/img/benz/hero.jpg", "src/img/benz/bg.gif", "src/img/notes.md",
		"src/emails/welcome.hbs", "src/emails/reset.hbs",
		"src/partials/header.hbs", ".DS_Store",
	)
	if err := os.MkdirAll(filepath.Join(root, "empty.html"), 0755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		patterns []string
		want     []string
	}{
		{
			name:     "single star matches files in cwd only",
			patterns: []string{"*.html"},
			want:     []string{"a.html", "b.html"},
		},
		{
			name:     "double star with brace alternatives",
			patterns: []string{"src/img/**/*.{png,jpg,gif}"},
			want:     []string{"src/img/benz/bg.gif", "src/img/benz/hero.jpg", "src/img/logo.png"},
		},
		{
			name:     "exclusion removes earlier matches",
			patterns: []string{"src/**/*.hbs", "!src/partials/**"},
			want:     []string{"src/emails/reset.hbs", "src/emails/welcome.hbs"},
		},
		{
			name:     "overlapping patterns are deduplicated",
			patterns: []string{"*.html", "a.*"},
			want:     []string{"a.html", "b.html"},
		},
		{
			name:     "no match is empty, not an error",
			patterns: []string{"*.scss"},
			want:     []string{},
		},
		{
			name:     "ignored files are never matched",
			patterns: []string{".*"},
			want:     []string{},
		},
		{
			name:     "leading dot slash is accepted",
			patterns: []string{"./c.txt"},
			want:     []string{"c.txt"},
		},
	}

	m := fs.NewMatcher(fs.NewIgnoreMatcher(nil))
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Expand(tt.patterns, root)
			if err != nil {
				t.Fatalf("Expand() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expand(%v) = %v, want %v", tt.patterns, got, tt.want)
			}
		})
	}

	t.Run("pattern outside cwd", func(t *testing.T) {
		got, err := m.Expand([]string{"../*.html"}, filepath.Join(root, "src"))
		if err != nil {
			t.Fatalf("Expand() error = %v", err)
		}
		want := []string{"../a.html", "../b.html"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Expand() = %v, want %v", got, want)
		}
	})

	t.Run("invalid pattern", func(t *testing.T) {
		if _, err := m.Expand([]string{"src/[a"}, root); err == nil {
			t.Error("Expand() expected error for invalid pattern")
		}
	})
}

func TestMatcher_Map(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"src/css/scss/main.scss",
		"src/emails/welcome.hbs", "src/emails/reset.hbs",
		"src/img/logo.png", "src/img/benz/logo.png", "src/img/benz/hero.jpg",
	)
	m := fs.NewMatcher(nil)
	abs := func(p string) string { return filepath.Join(root, filepath.FromSlash(p)) }

	t.Run("compact form maps all sources to one destination", func(t *testing.T) {
		got, err := m.Map(root, pipeline.FileSpec{Src: []string{"src/css/scss/main.scss"}, Dest: "src/css/main.css"})
		if err != nil {
			t.Fatalf("Map() error = %v", err)
		}
		want := []pipeline.FileSet{{Src: []string{abs("src/css/scss/main.scss")}, Dest: abs("src/css/main.css")}}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Map() = %v, want %v", got, want)
		}
	})

	t.Run("trailing slash marks a directory destination", func(t *testing.T) {
		got, err := m.Map(root, pipeline.FileSpec{Src: []string{"src/emails/*.hbs"}, Dest: "dist/"})
		if err != nil {
			t.Fatalf("Map() error = %v", err)
		}
		if len(got) != 1 || got[0].Dest != abs("dist")+string(filepath.Separator) {
			t.Errorf("Map() = %v", got)
		}
	})

	t.Run("empty destination means in place", func(t *testing.T) {
		got, err := m.Map(root, pipeline.FileSpec{Src: []string{"src/emails/*.hbs"}})
		if err != nil {
			t.Fatalf("Map() error = %v", err)
		}
		if len(got) != 1 || got[0].Dest != "" || len(got[0].Src) != 2 {
			t.Errorf("Map() = %v", got)
		}
	})

	t.Run("expand with cwd keeps relative structure", func(t *testing.T) {
		got, err := m.Map(root, pipeline.FileSpec{
			Expand: true, Cwd: "src/img", Src: []string{"**/*.{png,jpg}"}, Dest: "dist/img",
		})
		if err != nil {
			t.Fatalf("Map() error = %v", err)
		}
		want := []pipeline.FileSet{
			{Src: []string{abs("src/img/benz/hero.jpg")}, Dest: abs("dist/img/benz/hero.jpg")},
			{Src: []string{abs("src/img/benz/logo.png")}, Dest: abs("dist/img/benz/logo.png")},
			{Src: []string{abs("src/img/logo.png")}, Dest: abs("dist/img/logo.png")},
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Map() = %v, want %v", got, want)
		}
	})

	t.Run("flatten and ext", func(t *testing.T) {
		got, err := m.Map(root, pipeline.FileSpec{
			Expand: true, Src: []string{"src/emails/*.hbs"}, Dest: "dist", Flatten: true, Ext: "html",
		})
		if err != nil {
			t.Fatalf("Map() error = %v", err)
		}
		want := []pipeline.FileSet{
			{Src: []string{abs("src/emails/reset.hbs")}, Dest: abs("dist/reset.html")},
			{Src: []string{abs("src/emails/welcome.hbs")}, Dest: abs("dist/welcome.html")},
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Map() = %v, want %v", got, want)
		}
	})

	t.Run("flatten collisions keep lexicographic order", func(t *testing.T) {
		got, err := m.Map(root, pipeline.FileSpec{
			Expand: true, Cwd: "src/img", Src: []string{"**/logo.png"}, Dest: "dist", Flatten: true,
		})
		if err != nil {
			t.Fatalf("Map() error = %v", err)
		}
		if len(got) != 2 || got[0].Dest != got[1].Dest {
			t.Fatalf("Map() = %v, want two sets with the same destination", got)
		}
		if got[1].Src[0] != abs("src/img/logo.png") {
			t.Errorf("last set = %v, want src/img/logo.png", got[1].Src)
		}
	})

	t.Run("no matches yields no sets", func(t *testing.T) {
		got, err := m.Map(root, pipeline.FileSpec{Src: []string{"*.none"}, Dest: "dist"})
		if err != nil {
			t.Fatalf("Map() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Map() = %v, want none", got)
		}
	})
}

func TestReplaceExt(t *testing.T) {
	tests := []struct{ name, ext, want string }{
		{"main.scss", ".css", "main.css"},
		{"welcome.hbs", "html", "welcome.html"},
		{"a.min.scss", ".css", "a.min.css"},
		{"README", ".md", "README.md"},
		{"dir/file.txt", "", "dir/file"},
	}
	for _, tt := range tests {
		if got := fs.ReplaceExt(tt.name, tt.ext); got != tt.want {
			t.Errorf("ReplaceExt(%q, %q) = %q, want %q", tt.name, tt.ext, got, tt.want)
		}
	}
}
