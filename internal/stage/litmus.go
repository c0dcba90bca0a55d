package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mailbuild/internal/fs"
	"mailbuild/internal/pipeline"
)

// Litmus submits every source file as a Litmus email render test.
type Litmus struct {
	deps Dependencies
}

type litmusOptions struct {
	Username string   `mapstructure:"username" validate:"required"`
	Password string   `mapstructure:"password" validate:"required"`
	URL      string   `mapstructure:"url" validate:"required,url"`
	Clients  []string `mapstructure:"clients" validate:"required,min=1"`
	Subject  string   `mapstructure:"subject"`
}

func (l *Litmus) Run(ctx context.Context, inv *pipeline.Invocation) (*pipeline.Output, error) {
	var opts litmusOptions
	if err := inv.Decode(&opts); err != nil {
		return nil, err
	}
	if l.deps.NewRenderTester == nil {
		return nil, fmt.Errorf("no render tester configured")
	}
	tester, err := l.deps.NewRenderTester(LitmusConnection{
		Username: opts.Username,
		Password: opts.Password,
		URL:      opts.URL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating litmus client: %w", err)
	}
	clients := dedupe(splitList(opts.Clients))

	var ids []string
	for _, src := range inv.SourceFiles() {
		html, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", src, err)
		}
		title := opts.Subject
		if title == "" {
			title = filepath.Base(src)
		}
		id, err := tester.Submit(ctx, RenderTest{Title: title, HTML: string(html), Clients: clients})
		if err != nil {
			return nil, fmt.Errorf("submitting %s: %w", fs.RelSlash(inv.Root, src), err)
		}
		inv.Logger.Info("submitted render test", "file", fs.RelSlash(inv.Root, src), "clients", len(clients), "id", id)
		ids = append(ids, id)
	}
	return &pipeline.Output{Files: len(ids), Status: strings.Join(ids, ", ")}, nil
}

// dedupe keeps the first occurrence of every value.
func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
