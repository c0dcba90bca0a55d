package config

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"mailbuild/internal/pipeline"
)

func mustRead(t *testing.T, input string) map[string]any {
	t.Helper()
	cfg, err := (&Manager{}).Read(strings.NewReader(input), t.TempDir())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	return cfg.Tree
}

func TestStore_Get(t *testing.T) {
	tree := mustRead(t, `
[paths]
src = "src"
src_img = "<%= paths.src %>/img"
dist = "dist"
dist_img = "<%= paths.dist %>/img"

[assemble]
partials = ["<%= paths.src %>/partials/**/*.hbs"]
layouts = "<%=paths.src%>/layouts"
level = 3
all = "<%= assemble.partials %>"
level_ref = "<%= assemble.level %>"
mixed = "level <%= assemble.level %> of <%= assemble.partials %>"

[[rules]]
from = "a"

[[rules]]
from = "<%= rules.0.from %>b"
`)
	s := NewStore(tree)

	tests := []struct {
		path string
		want any
	}{
		{"paths.src", "src"},
		{"paths.src_img", "src/img"},
		{"paths.dist_img", "dist/img"},
		{"assemble.layouts", "src/layouts"},
		{"assemble.partials", []any{"src/partials/**/*.hbs"}},
		{"assemble.partials.0", "src/partials/**/*.hbs"},
		{"assemble.all", []any{"src/partials/**/*.hbs"}},
		{"assemble.level_ref", int64(3)},
		{"assemble.mixed", "level 3 of src/partials/**/*.hbs"},
		{"rules.1.from", "ab"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.path, func(t *testing.T) {
			got, err := s.Get(tt.path)
			if err != nil {
				t.Fatalf("Get(%q) error = %v", tt.path, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Get(%q) = %#v, want %#v", tt.path, got, tt.want)
			}
		})
	}

	t.Run("resolves a whole table", func(t *testing.T) {
		got, err := s.Get("paths")
		if err != nil {
			t.Fatalf("Get(paths) error = %v", err)
		}
		want := map[string]any{"src": "src", "src_img": "src/img", "dist": "dist", "dist_img": "dist/img"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Get(paths) = %v, want %v", got, want)
		}
	})

	t.Run("does not mutate the raw tree", func(t *testing.T) {
		if _, err := s.Get("paths"); err != nil {
			t.Fatal(err)
		}
		raw, _ := s.Lookup("paths.src_img")
		if raw != "<%= paths.src %>/img" {
			t.Errorf("Lookup(paths.src_img) = %v, raw value was modified", raw)
		}
	})
}

func TestStore_Cycles(t *testing.T) {
	tests := []struct {
		name  string
		input string
		path  string
		chain string
	}{
		{
			name:  "two step cycle",
			input: "a = \"<%= b %>\"\nb = \"<%= a %>\"\n",
			path:  "a",
			chain: "a -> b -> a",
		},
		{
			name:  "self reference inside interpolation",
			input: "[paths]\nsrc = \"x/<%= paths.src %>\"\n",
			path:  "paths.src",
			chain: "paths.src -> paths.src",
		},
		{
			name:  "table containing a reference to itself",
			input: "[t]\nx = \"<%= t %>\"\n",
			path:  "t",
			chain: "t -> t",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(mustRead(t, tt.input))
			_, err := s.Get(tt.path)

			var cycle *pipeline.ConfigCycleError
			if !errors.As(err, &cycle) {
				t.Fatalf("Get(%q) error = %v, want *ConfigCycleError", tt.path, err)
			}
			if got := strings.Join(cycle.Chain, " -> "); got != tt.chain {
				t.Errorf("Chain = %s, want %s", got, tt.chain)
			}
			if !errors.Is(err, pipeline.ErrConfig) {
				t.Error("errors.Is(err, ErrConfig) = false")
			}
		})
	}
}

func TestStore_Missing(t *testing.T) {
	s := NewStore(mustRead(t, "[mailgun]\nkey = \"<%= secrets.mailgun.api_key %>\"\nplain = \"x\"\n"))
	s.SetHint(SecretsNamespace, "secrets file not found")

	t.Run("missing path", func(t *testing.T) {
		_, err := s.Get("mailgun.nope")
		var nf *pipeline.ConfigKeyNotFoundError
		if !errors.As(err, &nf) || nf.Path != "mailgun.nope" {
			t.Errorf("Get() error = %v, want not found mailgun.nope", err)
		}
	})

	t.Run("missing secret names the referenced path", func(t *testing.T) {
		_, err := s.Get("mailgun.key")
		var nf *pipeline.ConfigKeyNotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("Get() error = %v, want *ConfigKeyNotFoundError", err)
		}
		if nf.Path != "secrets.mailgun.api_key" {
			t.Errorf("Path = %q, want secrets.mailgun.api_key", nf.Path)
		}
		if nf.Hint != "secrets file not found" {
			t.Errorf("Hint = %q", nf.Hint)
		}
	})

	t.Run("secrets are only needed when referenced", func(t *testing.T) {
		if _, err := s.Get("mailgun.plain"); err != nil {
			t.Errorf("Get(mailgun.plain) error = %v", err)
		}
	})

	t.Run("mounted secrets resolve", func(t *testing.T) {
		s := NewStore(mustRead(t, "[mailgun]\nkey = \"<%= secrets.mailgun.api_key %>\"\n"))
		s.Mount(SecretsNamespace, map[string]any{"mailgun": map[string]any{"api_key": "key-123"}})
		got, err := s.Get("mailgun.key")
		if err != nil || got != "key-123" {
			t.Errorf("Get() = %v, %v; want key-123", got, err)
		}
	})
}

func TestStore_Resolve(t *testing.T) {
	s := NewStore(map[string]any{"paths": map[string]any{"dist": "dist"}})
	s.Mount(OptionNamespace, OptionTable(map[string]string{"template": "welcome.html"}))

	got, err := s.Resolve(map[string]any{
		"src":   []any{"<%= paths.dist %>/<%= option.template %>"},
		"count": int64(2),
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := map[string]any{"src": []any{"dist/welcome.html"}, "count": int64(2)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Resolve() = %v, want %v", got, want)
	}

	if _, err := s.Resolve("<%= paths %> inline"); err == nil {
		t.Error("Resolve() expected error interpolating a table into a string")
	}
}
