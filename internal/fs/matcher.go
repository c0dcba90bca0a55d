// Package fs expands glob patterns into concrete files and provides the file
// helpers shared by stage executors.
package fs

import (
	"fmt"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"mailbuild/internal/pipeline"
)

// Matcher expands patterns against the real filesystem. Patterns follow
// doublestar syntax ('*', '**', '{a,b}', character classes); a leading '!'
// removes previously matched paths.
type Matcher struct {
	ignore *IgnoreMatcher
}

// NewMatcher creates a Matcher. Paths matched by ignore are never returned;
// ignore may be nil.
func NewMatcher(ignore *IgnoreMatcher) *Matcher {
	return &Matcher{ignore: ignore}
}

// NewProjectMatcher creates a Matcher using the ignore file in root, if any,
// plus extra patterns.
func NewProjectMatcher(root string, extra ...string) (*Matcher, error) {
	patterns, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	return NewMatcher(NewIgnoreMatcher(append(patterns, extra...))), nil
}

// Expand returns the regular files under cwd matching patterns, relative to
// cwd with forward slashes, deduplicated and sorted. An empty result is not
// an error.
func (m *Matcher) Expand(patterns []string, cwd string) ([]string, error) {
	matched := make(map[string]struct{})
	for _, raw := range patterns {
		pattern := strings.TrimSpace(raw)
		if pattern == "" {
			continue
		}

		if exclude, ok := strings.CutPrefix(pattern, "!"); ok {
			exclude = cleanPattern(exclude)
			if !doublestar.ValidatePattern(exclude) {
				return nil, fmt.Errorf("invalid pattern %q", raw)
			}
			for p := range matched {
				if ok, _ := doublestar.Match(exclude, p); ok {
					delete(matched, p)
				}
			}
			continue
		}

		files, err := m.glob(cleanPattern(pattern), cwd)
		if err != nil {
			return nil, fmt.Errorf("expanding %q: %w", raw, err)
		}
		for _, f := range files {
			if m.ignore.Match(f) {
				continue
			}
			matched[f] = struct{}{}
		}
	}

	out := make([]string, 0, len(matched))
	for p := range matched {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Matcher) glob(pattern, cwd string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, doublestar.ErrBadPattern
	}
	if iofs.ValidPath(pattern) {
		return doublestar.Glob(os.DirFS(cwd), pattern, doublestar.WithFilesOnly())
	}

	// Absolute patterns and patterns climbing out of cwd.
	full := pattern
	if !filepath.IsAbs(filepath.FromSlash(pattern)) {
		full = filepath.ToSlash(filepath.Join(cwd, filepath.FromSlash(pattern)))
	}
	abs, err := doublestar.FilepathGlob(full, doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}
	rel := make([]string, 0, len(abs))
	for _, a := range abs {
		r, err := filepath.Rel(cwd, a)
		if err != nil {
			return nil, err
		}
		rel = append(rel, filepath.ToSlash(r))
	}
	return rel, nil
}

func cleanPattern(p string) string {
	p = filepath.ToSlash(p)
	p = strings.TrimPrefix(p, "./")
	return p
}

// Map expands one file spec into file sets with absolute paths.
//
// Without expand, every match goes into a single set whose Dest is the spec
// destination: empty means in place and a trailing separator means a
// directory. With expand, each match becomes its own set and the destination
// is built from dest, the path relative to cwd (only the basename when
// flatten is set) and ext. Destinations that collide
// after flattening are kept in order; the last one written wins.
func (m *Matcher) Map(root string, spec pipeline.FileSpec) ([]pipeline.FileSet, error) {
	cwd := resolve(root, spec.Cwd)
	files, err := m.Expand(spec.Src, cwd)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	if !spec.Expand {
		set := pipeline.FileSet{Src: make([]string, len(files))}
		for i, f := range files {
			set.Src[i] = resolve(cwd, f)
		}
		if spec.Dest != "" {
			set.Dest = resolve(root, spec.Dest)
			// A trailing slash marks a directory destination.
			if strings.HasSuffix(filepath.ToSlash(spec.Dest), "/") {
				set.Dest += string(filepath.Separator)
			}
		}
		return []pipeline.FileSet{set}, nil
	}

	destBase := cwd
	if spec.Dest != "" {
		destBase = resolve(root, spec.Dest)
	}
	sets := make([]pipeline.FileSet, 0, len(files))
	for _, f := range files {
		rel := f
		if spec.Flatten {
			rel = path.Base(rel)
		}
		if spec.Ext != "" {
			rel = ReplaceExt(rel, spec.Ext)
		}
		sets = append(sets, pipeline.FileSet{
			Src:  []string{resolve(cwd, f)},
			Dest: resolve(destBase, rel),
		})
	}
	return sets, nil
}

// ReplaceExt replaces the last extension of name with ext ("a.min.scss",
// ".css" -> "a.min.css"). ext may be given with or without the leading dot.
func ReplaceExt(name, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return strings.TrimSuffix(name, path.Ext(name)) + ext
}

func resolve(base, p string) string {
	if p == "" {
		return filepath.Clean(base)
	}
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}

// Compile-time check that Matcher implements pipeline.Matcher
var _ pipeline.Matcher = (*Matcher)(nil)
