// Package stage implements the executors behind every stage kind: local
// build steps (sass, assemble, premailer, imagemin, replace, cdn) and the
// delivery steps that talk to remote services through the collaborator
// interfaces in collaborators.go.
package stage

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"mailbuild/internal/fs"
	"mailbuild/internal/pipeline"
)

// Executor kinds.
const (
	KindSass       = "sass"
	KindAssemble   = "assemble"
	KindPremailer  = "premailer"
	KindImagemin   = "imagemin"
	KindReplace    = "replace"
	KindCDN        = "cdn"
	KindMailgun    = "mailgun"
	KindLitmus     = "litmus"
	KindCloudFiles = "cloudfiles"
	KindS3         = "s3"
	KindPublish    = "publish"
)

// RegisterAll registers every executor kind with reg.
func RegisterAll(reg *pipeline.Registry, deps Dependencies) error {
	if deps.Clock == nil {
		deps.Clock = pipeline.RealClock{}
	}
	executors := []struct {
		kind string
		exec pipeline.Executor
	}{
		{KindSass, &Sass{}},
		{KindAssemble, &Assemble{}},
		{KindPremailer, &Premailer{}},
		{KindImagemin, &Imagemin{}},
		{KindReplace, &Replace{}},
		{KindCDN, &CDN{}},
		{KindMailgun, &Mailgun{deps: deps}},
		{KindLitmus, &Litmus{deps: deps}},
		{KindCloudFiles, &CloudFiles{deps: deps}},
		{KindS3, &S3{deps: deps}},
		{KindPublish, &Publish{deps: deps}},
	}
	for _, e := range executors {
		if err := reg.Register(e.kind, e.exec); err != nil {
			return fmt.Errorf("registering %s: %w", e.kind, err)
		}
	}
	return nil
}

// outputPath returns where src is written for a file set. An empty Dest means
// in place. A directory Dest receives the source basename.
func outputPath(set pipeline.FileSet, src string) string {
	switch {
	case set.Dest == "":
		return src
	case isDirDest(set):
		return filepath.Join(set.Dest, filepath.Base(src))
	default:
		return set.Dest
	}
}

// isDirDest reports whether a set's Dest names a directory: it has a trailing
// separator, the set has several sources, or it already exists as a directory.
func isDirDest(set pipeline.FileSet) bool {
	if set.Dest == "" {
		return false
	}
	if strings.HasSuffix(set.Dest, string(filepath.Separator)) || len(set.Src) > 1 {
		return true
	}
	info, err := os.Stat(set.Dest)
	return err == nil && info.IsDir()
}

// objectKey returns the remote key for src. Keys mirror the local
// destination relative to the project root, or the basename when the set has
// no destination, under an optional prefix.
func objectKey(root, prefix string, set pipeline.FileSet, src string) string {
	var key string
	if set.Dest == "" {
		key = filepath.Base(src)
	} else {
		key = fs.RelSlash(root, outputPath(set, src))
	}
	key = path.Join(strings.Trim(filepath.ToSlash(prefix), "/"), key)
	return strings.TrimPrefix(key, "/")
}

// writeIfChanged writes data to dst unless dst already holds exactly data.
// It reports whether the file was written.
func writeIfChanged(dst string, data []byte) (bool, error) {
	if existing, err := os.ReadFile(dst); err == nil && bytes.Equal(existing, data) {
		return false, nil
	}
	if err := fs.WriteFile(dst, data); err != nil {
		return false, fmt.Errorf("writing %s: %w", dst, err)
	}
	return true, nil
}

// transform applies fn to every source file and writes the result to its
// output path. It returns the number of files processed.
func transform(inv *pipeline.Invocation, fn func(src string, data []byte) ([]byte, error)) (int, error) {
	n := 0
	for _, set := range inv.Files {
		for _, src := range set.Src {
			data, err := os.ReadFile(src)
			if err != nil {
				return n, fmt.Errorf("reading %s: %w", src, err)
			}
			out, err := fn(src, data)
			if err != nil {
				return n, fmt.Errorf("processing %s: %w", fs.RelSlash(inv.Root, src), err)
			}
			dst := outputPath(set, src)
			if _, err := writeIfChanged(dst, out); err != nil {
				return n, err
			}
			inv.Logger.Debug("wrote file", "stage", inv.Definition.ID(), "file", fs.RelSlash(inv.Root, dst))
			n++
		}
	}
	return n, nil
}

func now(deps Dependencies) time.Time {
	if deps.Clock == nil {
		return time.Now()
	}
	return deps.Clock.Now()
}
