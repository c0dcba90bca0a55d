package stage_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mailbuild/internal/pipeline"
	"mailbuild/internal/stage"
	"mailbuild/internal/testutil"
)

func TestSass(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	bin := testutil.FakeSass(t, t.TempDir())
	testutil.WriteTree(t, root, map[string]string{"src/css/scss/main.scss": "body { color: red; }"})

	def := &pipeline.StageDefinition{
		Name:   "sass",
		Target: "dist",
		Options: map[string]any{
			"bin":       bin,
			"style":     "compressed",
			"load_path": []any{"src/css/scss"},
		},
		Files: []pipeline.FileSpec{{Src: []string{"src/css/scss/main.scss"}, Dest: "src/css/main.css"}},
	}
	out := mustRun(t, &stage.Sass{}, root, def)
	if out.Files != 1 {
		t.Errorf("Files = %d, want 1", out.Files)
	}
	if got := testutil.ReadFile(t, root, "src/css/main.css"); got != "body { color: red; }" {
		t.Errorf("main.css = %q", got)
	}

	args, err := os.ReadFile(bin + ".args")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"--style=compressed", "--no-source-map", "--load-path=" + filepath.Join(root, "src", "css", "scss")} {
		if !strings.Contains(string(args), want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
}

func TestSass_OutputNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		tree    map[string]string
		spec    pipeline.FileSpec
		want    []string
		sources map[string]string
	}{
		{
			name: "directory destination",
			tree: map[string]string{"scss/a.scss": "a", "scss/b.scss": "b"},
			spec: pipeline.FileSpec{Src: []string{"scss/*.scss"}, Dest: "css/"},
			want: []string{"css/a.css", "css/b.css"},
		},
		{
			name: "existing directory without trailing slash",
			tree: map[string]string{"scss/a.scss": "a", "css/.keep": ""},
			spec: pipeline.FileSpec{Src: []string{"scss/a.scss"}, Dest: "css"},
			want: []string{"css/a.css"},
		},
		{
			name:    "in place",
			tree:    map[string]string{"scss/a.scss": "a"},
			spec:    pipeline.FileSpec{Src: []string{"scss/a.scss"}},
			want:    []string{"scss/a.css"},
			sources: map[string]string{"scss/a.scss": "a"},
		},
		{
			name:    "expand without ext",
			tree:    map[string]string{"scss/a.scss": "a"},
			spec:    pipeline.FileSpec{Expand: true, Cwd: "scss", Src: []string{"*.scss"}},
			want:    []string{"scss/a.css"},
			sources: map[string]string{"scss/a.scss": "a"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			root := t.TempDir()
			bin := testutil.FakeSass(t, t.TempDir())
			testutil.WriteTree(t, root, tt.tree)

			def := &pipeline.StageDefinition{
				Name:    "sass",
				Options: map[string]any{"bin": bin},
				Files:   []pipeline.FileSpec{tt.spec},
			}
			mustRun(t, &stage.Sass{}, root, def)

			for _, rel := range tt.want {
				if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel))); err != nil {
					t.Errorf("%s not produced: %v", rel, err)
				}
			}
			if _, err := os.Stat(filepath.Join(root, "css", "a.scss")); err == nil {
				t.Error("css/a.scss written, want .css extension")
			}
			for rel, want := range tt.sources {
				if got := testutil.ReadFile(t, root, rel); got != want {
					t.Errorf("source %s = %q, want unchanged %q", rel, got, want)
				}
			}
		})
	}
}

func TestSass_Errors(t *testing.T) {
	t.Parallel()

	t.Run("compiler failure includes stderr", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		bin := testutil.FakeSass(t, t.TempDir())
		testutil.WriteTree(t, root, map[string]string{"broken.scss": "body {"})
		def := &pipeline.StageDefinition{
			Name:    "sass",
			Options: map[string]any{"bin": bin},
			Files:   []pipeline.FileSpec{{Src: []string{"broken.scss"}, Dest: "broken.css"}},
		}
		_, err := run(t, &stage.Sass{}, root, def)
		if err == nil {
			t.Fatal("Run() expected error")
		}
		if !strings.Contains(err.Error(), `expected "}"`) {
			t.Errorf("error = %v, want compiler output", err)
		}
		if pipeline.IsTransient(err) {
			t.Error("compiler failures must not be transient")
		}
	})

	t.Run("missing compiler", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		testutil.WriteTree(t, root, map[string]string{"a.scss": ""})
		def := &pipeline.StageDefinition{
			Name:    "sass",
			Options: map[string]any{"bin": filepath.Join(root, "no-such-sass")},
			Files:   []pipeline.FileSpec{{Src: []string{"a.scss"}, Dest: "a.css"}},
		}
		if _, err := run(t, &stage.Sass{}, root, def); err == nil {
			t.Error("Run() expected error")
		}
	})

	t.Run("invalid style", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		def := &pipeline.StageDefinition{Name: "sass", Options: map[string]any{"style": "nested"}}
		if _, err := run(t, &stage.Sass{}, root, def); err == nil {
			t.Error("Run() expected error")
		}
	})
}
