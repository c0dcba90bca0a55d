package stage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"mailbuild/internal/fs"
	"mailbuild/internal/pipeline"
)

// Sass compiles SCSS by running the sass command line compiler.
type Sass struct{}

type sassOptions struct {
	Bin       string   `mapstructure:"bin"`
	Style     string   `mapstructure:"style" validate:"omitempty,oneof=expanded compressed"`
	LoadPath  []string `mapstructure:"load_path"`
	SourceMap bool     `mapstructure:"source_map"`
}

func (s *Sass) Run(ctx context.Context, inv *pipeline.Invocation) (*pipeline.Output, error) {
	opts := sassOptions{Bin: "sass", Style: "expanded"}
	if err := inv.Decode(&opts); err != nil {
		return nil, err
	}

	bin, err := exec.LookPath(opts.Bin)
	if err != nil {
		return nil, fmt.Errorf("finding sass compiler %q: %w", opts.Bin, err)
	}

	n := 0
	for _, set := range inv.Files {
		for _, src := range set.Src {
			dst := cssPath(set, src)
			if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
				return nil, fmt.Errorf("creating output directory: %w", err)
			}
			if err := s.compile(ctx, inv, bin, opts, src, dst); err != nil {
				return nil, err
			}
			n++
		}
	}
	return &pipeline.Output{Files: n}, nil
}

// cssPath returns the stylesheet compiled from src. Directory and in-place
// destinations get the source name with a .css extension.
func cssPath(set pipeline.FileSet, src string) string {
	switch {
	case set.Dest == "":
		return fs.ReplaceExt(src, ".css")
	case isDirDest(set):
		return filepath.Join(set.Dest, fs.ReplaceExt(filepath.Base(src), ".css"))
	case set.Dest == src:
		return fs.ReplaceExt(src, ".css")
	default:
		return set.Dest
	}
}

func (s *Sass) compile(ctx context.Context, inv *pipeline.Invocation, bin string, opts sassOptions, src, dst string) error {
	args := []string{"--style=" + opts.Style}
	if !opts.SourceMap {
		args = append(args, "--no-source-map")
	}
	for _, p := range opts.LoadPath {
		args = append(args, "--load-path="+inv.Abs(p))
	}
	args = append(args, src, dst)

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = inv.Root
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	inv.Logger.Debug("running sass", "src", fs.RelSlash(inv.Root, src), "dest", fs.RelSlash(inv.Root, dst))
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("compiling %s: %w", fs.RelSlash(inv.Root, src), err)
		}
		return fmt.Errorf("compiling %s: %w: %s", fs.RelSlash(inv.Root, src), err, msg)
	}
	return nil
}
