package stage

import (
	"context"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"mailbuild/internal/pipeline"
)

// CDN points relative asset references at a CDN base URI. In HTML it rewrites
// src and background attributes and CSS url() references; in CSS only url().
type CDN struct{}

type cdnOptions struct {
	CDN            string   `mapstructure:"cdn" validate:"required,url"`
	Flatten        bool     `mapstructure:"flatten"`
	SupportedTypes []string `mapstructure:"supported_types"`
}

var (
	cdnAttrPattern = regexp.MustCompile(`(?i)(\s(?:src|background)\s*=\s*)(["'])([^"']*)(["'])`)
	cdnURLPattern  = regexp.MustCompile(`(?i)(url\(\s*)(["']?)([^"')]+)(["']?\s*\))`)
)

func (c *CDN) Run(ctx context.Context, inv *pipeline.Invocation) (*pipeline.Output, error) {
	opts := cdnOptions{SupportedTypes: []string{"html", "css"}}
	if err := inv.Decode(&opts); err != nil {
		return nil, err
	}
	types := make(map[string]bool, len(opts.SupportedTypes))
	for _, t := range opts.SupportedTypes {
		types[strings.TrimPrefix(strings.ToLower(t), ".")] = true
	}
	base := strings.TrimRight(opts.CDN, "/")

	n, err := transform(inv, func(src string, data []byte) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(src)), ".")
		if !types[ext] {
			return data, nil
		}
		text := string(data)
		if ext != "css" {
			text = rewriteRefs(cdnAttrPattern, text, base, opts.Flatten)
		}
		text = rewriteRefs(cdnURLPattern, text, base, opts.Flatten)
		return []byte(text), nil
	})
	if err != nil {
		return nil, err
	}
	return &pipeline.Output{Files: n}, nil
}

// rewriteRefs rewrites the third capture group of every match of re.
func rewriteRefs(re *regexp.Regexp, text, base string, flatten bool) string {
	return re.ReplaceAllStringFunc(text, func(m string) string {
		g := re.FindStringSubmatch(m)
		ref := strings.TrimSpace(g[3])
		if !isRelativeRef(ref) {
			return m
		}
		return g[1] + g[2] + cdnURL(base, ref, flatten) + g[4]
	})
}

func isRelativeRef(ref string) bool {
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "//") {
		return false
	}
	if strings.Contains(ref, "<%") || strings.Contains(ref, "{{") {
		return false
	}
	if i := strings.Index(ref, ":"); i >= 0 && !strings.ContainsAny(ref[:i], "/.") {
		// Has a scheme: http:, data:, cid:, mailto:.
		return false
	}
	return true
}

func cdnURL(base, ref string, flatten bool) string {
	p := ref
	suffix := ""
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p, suffix = p[:i], p[i:]
	}
	if flatten {
		p = path.Base(p)
	} else {
		p = path.Clean("/" + p)
		p = strings.TrimPrefix(p, "/")
	}
	return base + "/" + p + suffix
}
