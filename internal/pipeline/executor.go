package pipeline

import (
	"context"
	"path/filepath"
)

// Executor performs the work of one stage kind. Executors know nothing about
// tasks or ordering; they receive resolved options and matched files.
type Executor interface {
	Run(ctx context.Context, inv *Invocation) (*Output, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, inv *Invocation) (*Output, error)

func (f ExecutorFunc) Run(ctx context.Context, inv *Invocation) (*Output, error) {
	return f(ctx, inv)
}

// Matcher expands glob patterns and maps file specs to source/destination sets.
type Matcher interface {
	// Expand returns regular files matching patterns, relative to cwd, sorted.
	Expand(patterns []string, cwd string) ([]string, error)
	// Map turns a file spec into concrete file sets rooted at root.
	Map(root string, spec FileSpec) ([]FileSet, error)
}

// Invocation is everything an executor gets for one run of a stage target.
type Invocation struct {
	Definition *StageDefinition
	Files      []FileSet
	Root       string
	Args       map[string]string
	RunID      string
	Logger     Logger
	Matcher    Matcher
}

// Options returns the resolved option record.
func (inv *Invocation) Options() map[string]any {
	if inv.Definition == nil || inv.Definition.Options == nil {
		return map[string]any{}
	}
	return inv.Definition.Options
}

// Decode decodes the option record into out and validates it.
func (inv *Invocation) Decode(out any) error {
	return DecodeOptions(inv.Options(), out)
}

// Abs resolves p against the project root unless it is already absolute.
func (inv *Invocation) Abs(p string) string {
	if p == "" {
		return inv.Root
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(inv.Root, filepath.FromSlash(p))
}

// Expand resolves extra glob patterns (partials, data files) from the project root
// and returns absolute paths.
func (inv *Invocation) Expand(patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	rel, err := inv.Matcher.Expand(patterns, inv.Root)
	if err != nil {
		return nil, err
	}
	abs := make([]string, len(rel))
	for i, p := range rel {
		abs[i] = inv.Abs(p)
	}
	return abs, nil
}

// SourceFiles returns every source file across all file sets.
func (inv *Invocation) SourceFiles() []string {
	var files []string
	for _, fs := range inv.Files {
		files = append(files, fs.Src...)
	}
	return files
}

// Output is what an executor reports on success.
type Output struct {
	// Files is the number of files written or sent.
	Files int
	// Status is an optional human-readable payload, e.g. a remote message id.
	Status string
}
