package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"

	"mailbuild/internal/fs"
	"mailbuild/internal/pipeline"
)

// Assemble renders pages from templates, partials, data files and a layout.
//
// A page may start with YAML front matter between "---" lines; it is
// available as .page and may set "layout". Data files are available under
// their basename (.site for data/site.yml). The rendered page is handed to
// the layout as .body.
type Assemble struct{}

type assembleOptions struct {
	LayoutDir string   `mapstructure:"layoutdir"`
	Layout    string   `mapstructure:"layout"`
	Partials  []string `mapstructure:"partials"`
	Data      []string `mapstructure:"data"`
	Flatten   bool     `mapstructure:"flatten"`
	Ext       string   `mapstructure:"ext"`
}

const frontMatterDelim = "---"

func (a *Assemble) Run(ctx context.Context, inv *pipeline.Invocation) (*pipeline.Output, error) {
	opts := assembleOptions{Ext: ".html"}
	if err := inv.Decode(&opts); err != nil {
		return nil, err
	}

	partials, err := a.loadPartials(inv, opts.Partials)
	if err != nil {
		return nil, err
	}
	data, err := a.loadData(inv, opts.Data)
	if err != nil {
		return nil, err
	}
	layouts := map[string]*template.Template{}

	n := 0
	for _, set := range inv.Files {
		for _, src := range set.Src {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out, err := a.render(inv, opts, src, partials, data, layouts)
			if err != nil {
				return nil, fmt.Errorf("assembling %s: %w", fs.RelSlash(inv.Root, src), err)
			}
			dst := a.destination(inv, opts, set, src)
			if _, err := writeIfChanged(dst, out); err != nil {
				return nil, err
			}
			n++
		}
	}
	return &pipeline.Output{Files: n}, nil
}

func (a *Assemble) destination(inv *pipeline.Invocation, opts assembleOptions, set pipeline.FileSet, src string) string {
	if !isDirDest(set) {
		if set.Dest != "" {
			return set.Dest
		}
		return fs.ReplaceExt(src, opts.Ext)
	}
	name := filepath.Base(src)
	if !opts.Flatten {
		name = filepath.FromSlash(fs.RelSlash(inv.Root, src))
	}
	return filepath.Join(set.Dest, fs.ReplaceExt(name, opts.Ext))
}

func (a *Assemble) render(inv *pipeline.Invocation, opts assembleOptions, src string, partials map[string]string, data map[string]any, layouts map[string]*template.Template) ([]byte, error) {
	raw, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("reading page: %w", err)
	}
	front, body, err := splitFrontMatter(raw)
	if err != nil {
		return nil, err
	}

	tmpl, err := newTemplate("page", string(body), partials)
	if err != nil {
		return nil, err
	}

	vars := make(map[string]any, len(data)+2)
	for k, v := range data {
		vars[k] = v
	}
	vars["page"] = front

	var page bytes.Buffer
	if err := tmpl.ExecuteTemplate(&page, "page", vars); err != nil {
		return nil, fmt.Errorf("rendering page: %w", err)
	}

	layout := opts.Layout
	if v, ok := front["layout"]; ok {
		layout = fmt.Sprint(v)
	}
	if layout == "" || layout == "none" {
		return page.Bytes(), nil
	}

	lt, err := a.layout(inv, opts.LayoutDir, layout, partials, layouts)
	if err != nil {
		return nil, err
	}
	vars["body"] = page.String()
	var out bytes.Buffer
	if err := lt.ExecuteTemplate(&out, "layout", vars); err != nil {
		return nil, fmt.Errorf("rendering layout %s: %w", layout, err)
	}
	return out.Bytes(), nil
}

func (a *Assemble) layout(inv *pipeline.Invocation, dir, name string, partials map[string]string, cache map[string]*template.Template) (*template.Template, error) {
	if t, ok := cache[name]; ok {
		return t, nil
	}
	p := filepath.Join(inv.Abs(dir), filepath.FromSlash(name))
	raw, err := os.ReadFile(p)
	if err != nil && filepath.Ext(name) == "" {
		raw, err = os.ReadFile(p + ".hbs")
	}
	if err != nil {
		return nil, fmt.Errorf("reading layout %s: %w", name, err)
	}
	t, err := newTemplate("layout", string(raw), partials)
	if err != nil {
		return nil, fmt.Errorf("parsing layout %s: %w", name, err)
	}
	cache[name] = t
	return t, nil
}

func newTemplate(name, text string, partials map[string]string) (*template.Template, error) {
	t := template.New(name).Funcs(sprig.TxtFuncMap())
	for pname, ptext := range partials {
		if _, err := t.New(pname).Parse(ptext); err != nil {
			return nil, fmt.Errorf("parsing partial %s: %w", pname, err)
		}
	}
	if _, err := t.Parse(text); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	return t, nil
}

// loadPartials returns partial sources keyed by basename without extension.
func (a *Assemble) loadPartials(inv *pipeline.Invocation, patterns []string) (map[string]string, error) {
	files, err := inv.Expand(patterns)
	if err != nil {
		return nil, fmt.Errorf("expanding partials: %w", err)
	}
	partials := make(map[string]string, len(files))
	for _, f := range files {
		raw, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading partial: %w", err)
		}
		partials[baseName(f)] = string(raw)
	}
	return partials, nil
}

// loadData decodes JSON and YAML data files keyed by basename without extension.
func (a *Assemble) loadData(inv *pipeline.Invocation, patterns []string) (map[string]any, error) {
	files, err := inv.Expand(patterns)
	if err != nil {
		return nil, fmt.Errorf("expanding data files: %w", err)
	}
	data := make(map[string]any, len(files))
	for _, f := range files {
		raw, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading data file: %w", err)
		}
		var v any
		switch strings.ToLower(filepath.Ext(f)) {
		case ".json":
			err = json.Unmarshal(raw, &v)
		case ".yml", ".yaml":
			err = yaml.Unmarshal(raw, &v)
		default:
			inv.Logger.Warn("ignoring data file with unknown extension", "file", fs.RelSlash(inv.Root, f))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", fs.RelSlash(inv.Root, f), err)
		}
		data[baseName(f)] = v
	}
	return data, nil
}

// splitFrontMatter separates a leading YAML block delimited by "---" lines
// from the template body.
func splitFrontMatter(raw []byte) (map[string]any, []byte, error) {
	front := map[string]any{}
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	if !strings.HasPrefix(text, frontMatterDelim+"\n") {
		return front, raw, nil
	}
	rest := text[len(frontMatterDelim)+1:]
	var block, body string
	switch {
	case strings.HasPrefix(rest, frontMatterDelim+"\n"):
		body = rest[len(frontMatterDelim)+1:]
	default:
		end := strings.Index(rest, "\n"+frontMatterDelim+"\n")
		if end < 0 {
			if !strings.HasSuffix(rest, "\n"+frontMatterDelim) {
				return nil, nil, fmt.Errorf("unterminated front matter")
			}
			block, body = strings.TrimSuffix(rest, "\n"+frontMatterDelim), ""
		} else {
			block, body = rest[:end], rest[end+len(frontMatterDelim)+2:]
		}
	}
	if err := yaml.Unmarshal([]byte(block), &front); err != nil {
		return nil, nil, fmt.Errorf("decoding front matter: %w", err)
	}
	if front == nil {
		front = map[string]any{}
	}
	return front, []byte(body), nil
}

func baseName(p string) string {
	b := filepath.Base(p)
	return strings.TrimSuffix(b, filepath.Ext(b))
}
