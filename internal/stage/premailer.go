package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/vanng822/go-premailer/premailer"

	"mailbuild/internal/pipeline"
)

// Premailer moves CSS into style attributes so mail clients that strip
// <style> blocks still render the template. Local stylesheets referenced
// with <link rel="stylesheet"> are inlined first.
type Premailer struct{}

type premailerOptions struct {
	RemoveComments  bool `mapstructure:"remove_comments"`
	RemoveClasses   bool `mapstructure:"remove_classes"`
	CSSToAttributes bool `mapstructure:"css_to_attributes"`
	KeepImportant   bool `mapstructure:"keep_important"`
}

func (p *Premailer) Run(ctx context.Context, inv *pipeline.Invocation) (*pipeline.Output, error) {
	opts := premailerOptions{CSSToAttributes: true}
	if err := inv.Decode(&opts); err != nil {
		return nil, err
	}

	n, err := transform(inv, func(src string, data []byte) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return p.inline(inv, opts, src, data)
	})
	if err != nil {
		return nil, err
	}
	return &pipeline.Output{Files: n}, nil
}

func (p *Premailer) inline(inv *pipeline.Invocation, opts premailerOptions, src string, data []byte) ([]byte, error) {
	html, err := inlineStylesheets(inv, src, string(data))
	if err != nil {
		return nil, err
	}

	po := premailer.NewOptions()
	po.RemoveClasses = opts.RemoveClasses
	po.CssToAttributes = opts.CSSToAttributes
	po.KeepBangImportant = opts.KeepImportant

	pm, err := premailer.NewPremailerFromString(html, po)
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	out, err := pm.Transform()
	if err != nil {
		return nil, fmt.Errorf("inlining css: %w", err)
	}
	if opts.RemoveComments {
		out = removeComments(out)
	}
	return []byte(out), nil
}

// inlineStylesheets replaces <link rel="stylesheet"> elements pointing at
// local files with <style> blocks holding the file contents. Remote
// stylesheets are left alone.
func inlineStylesheets(inv *pipeline.Invocation, src, html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	links := doc.Find(`link[rel="stylesheet"]`)
	if links.Length() == 0 {
		return html, nil
	}

	var inlineErr error
	links.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href := s.AttrOr("href", "")
		if href == "" || isRemote(href) {
			return true
		}
		cssPath := filepath.Join(filepath.Dir(src), filepath.FromSlash(href))
		if strings.HasPrefix(href, "/") {
			cssPath = inv.Abs(strings.TrimPrefix(href, "/"))
		}
		css, err := os.ReadFile(cssPath)
		if err != nil {
			inlineErr = fmt.Errorf("reading stylesheet %s: %w", href, err)
			return false
		}
		s.ReplaceWithHtml("<style type=\"text/css\">\n" + string(css) + "\n</style>")
		return true
	})
	if inlineErr != nil {
		return "", inlineErr
	}
	return doc.Html()
}

func isRemote(href string) bool {
	return strings.HasPrefix(href, "//") || strings.Contains(href, "://") || strings.HasPrefix(href, "data:")
}

// removeComments strips HTML comments but keeps conditional comments, which
// Outlook relies on.
func removeComments(html string) string {
	var b strings.Builder
	for {
		start := strings.Index(html, "<!--")
		if start < 0 {
			b.WriteString(html)
			return b.String()
		}
		end := strings.Index(html[start+4:], "-->")
		if end < 0 {
			b.WriteString(html)
			return b.String()
		}
		end += start + 4 + len("-->")

		body := html[start+4 : end-3]
		b.WriteString(html[:start])
		if strings.HasPrefix(body, "[if") || strings.HasPrefix(body, "<![endif]") {
			b.WriteString(html[start:end])
		}
		html = html[end:]
	}
}
