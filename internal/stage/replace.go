package stage

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"mailbuild/internal/pipeline"
)

// Replace applies ordered regular expression rules to each file. Rules come
// from "patterns" (match/replacement) and "replacements" (from/to); both
// forms may be used together and run in that order. Replacement strings use
// $1 style group references. Identical rules run once.
type Replace struct{}

type replaceRule struct {
	Match       string `mapstructure:"match"`
	Replacement string `mapstructure:"replacement"`
	From        string `mapstructure:"from"`
	To          string `mapstructure:"to"`
	Flags       string `mapstructure:"flags"`
	Literal     bool   `mapstructure:"literal"`
}

type replaceOptions struct {
	Patterns     []replaceRule `mapstructure:"patterns"`
	Replacements []replaceRule `mapstructure:"replacements"`
}

type compiledRule struct {
	re     *regexp.Regexp
	repl   string
	global bool
}

func (r *Replace) Run(ctx context.Context, inv *pipeline.Invocation) (*pipeline.Output, error) {
	var opts replaceOptions
	if err := inv.Decode(&opts); err != nil {
		return nil, err
	}
	rules, err := compileRules(opts)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("no patterns or replacements configured")
	}

	n, err := transform(inv, func(_ string, data []byte) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return applyRules(rules, data), nil
	})
	if err != nil {
		return nil, err
	}
	return &pipeline.Output{Files: n}, nil
}

func compileRules(opts replaceOptions) ([]compiledRule, error) {
	all := make([]replaceRule, 0, len(opts.Patterns)+len(opts.Replacements))
	all = append(all, opts.Patterns...)
	for _, r := range opts.Replacements {
		r.Match, r.Replacement = r.From, r.To
		all = append(all, r)
	}

	seen := make(map[replaceRule]bool, len(all))
	rules := make([]compiledRule, 0, len(all))
	for i, r := range all {
		r.From, r.To = "", ""
		if seen[r] {
			continue
		}
		seen[r] = true
		if r.Match == "" {
			return nil, fmt.Errorf("rule %d has an empty pattern", i)
		}
		expr := r.Match
		if r.Literal {
			expr = regexp.QuoteMeta(expr)
		}
		prefix, global, err := regexpFlags(r.Flags)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		re, err := regexp.Compile(prefix + expr)
		if err != nil {
			return nil, fmt.Errorf("rule %d: compiling %q: %w", i, r.Match, err)
		}
		rules = append(rules, compiledRule{re: re, repl: convertReplacement(r.Replacement), global: global})
	}
	return rules, nil
}

// regexpFlags turns JavaScript style flags into a Go inline flag group.
// "g" is handled by the caller: without it only the first match is replaced.
func regexpFlags(flags string) (string, bool, error) {
	var inline strings.Builder
	global := false
	for _, f := range flags {
		switch f {
		case 'g':
			global = true
		case 'i', 'm', 's':
			inline.WriteRune(f)
		default:
			return "", false, fmt.Errorf("unsupported flag %q", f)
		}
	}
	if inline.Len() == 0 {
		return "", global, nil
	}
	return "(?" + inline.String() + ")", global, nil
}

// convertReplacement rewrites $1, $& and $$ into regexp.Expand syntax.
func convertReplacement(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '$' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		next := s[i+1]
		switch {
		case next == '$':
			b.WriteString("$$")
			i++
		case next == '&':
			b.WriteString("${0}")
			i++
		case next >= '0' && next <= '9':
			j := i + 1
			for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			b.WriteString("${" + s[i+1:j] + "}")
			i = j - 1
		default:
			b.WriteString("$$")
		}
	}
	return b.String()
}

func applyRules(rules []compiledRule, data []byte) []byte {
	for _, r := range rules {
		if r.global {
			data = r.re.ReplaceAll(data, []byte(r.repl))
			continue
		}
		loc := r.re.FindSubmatchIndex(data)
		if loc == nil {
			continue
		}
		var out []byte
		out = append(out, data[:loc[0]]...)
		out = r.re.Expand(out, []byte(r.repl), data, loc)
		out = append(out, data[loc[1]:]...)
		data = out
	}
	return data
}
