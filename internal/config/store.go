package config

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"mailbuild/internal/pipeline"
)

// placeholderPattern matches "<%= dotted.path %>".
var placeholderPattern = regexp.MustCompile(`<%=\s*(.+?)\s*%>`)

// Store holds the raw configuration tree plus mounted namespaces (secrets,
// option, env) and resolves placeholders against it. Resolution never
// mutates the raw tree; every call returns new values.
type Store struct {
	tree  map[string]any
	hints map[string]string
}

// NewStore creates a Store over tree. The top level is copied so mounting
// namespaces does not affect the caller's map.
func NewStore(tree map[string]any) *Store {
	t := make(map[string]any, len(tree))
	for k, v := range tree {
		t[k] = v
	}
	return &Store{tree: t, hints: make(map[string]string)}
}

// Mount places value at the top-level key namespace, replacing what was there.
func (s *Store) Mount(namespace string, value any) {
	s.tree[namespace] = value
}

// SetHint attaches an explanation to not-found errors for paths under
// namespace, e.g. that the secrets file is missing.
func (s *Store) SetHint(namespace, hint string) {
	s.hints[namespace] = hint
}

// Has reports whether path exists in the raw tree.
func (s *Store) Has(path string) bool {
	_, err := s.Lookup(path)
	return err == nil
}

// Lookup returns the raw value at a dotted path. Numeric segments index lists.
func (s *Store) Lookup(path string) (any, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, s.notFound(path)
	}
	var cur any = s.tree
	for _, seg := range strings.Split(path, ".") {
		next, ok := child(cur, seg)
		if !ok {
			return nil, s.notFound(path)
		}
		cur = next
	}
	return cur, nil
}

// Get returns the fully resolved value at a dotted path.
func (s *Store) Get(path string) (any, error) {
	r := &resolver{store: s}
	return r.ref(path)
}

// Resolve substitutes every placeholder in value, recursively.
func (s *Store) Resolve(value any) (any, error) {
	r := &resolver{store: s}
	return r.value(value)
}

// Keys returns the sorted keys of the table at path.
func (s *Store) Keys(path string) ([]string, error) {
	raw, err := s.Lookup(path)
	if err != nil {
		return nil, err
	}
	table, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("config key %s is not a table", path)
	}
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) notFound(path string) error {
	ns, _, _ := strings.Cut(path, ".")
	return &pipeline.ConfigKeyNotFoundError{Path: path, Hint: s.hints[ns]}
}

func child(v any, seg string) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		c, ok := t[seg]
		return c, ok
	case map[string]string:
		c, ok := t[seg]
		return c, ok
	case []any:
		if i, err := strconv.Atoi(seg); err == nil && i >= 0 && i < len(t) {
			return t[i], true
		}
	case []map[string]any:
		if i, err := strconv.Atoi(seg); err == nil && i >= 0 && i < len(t) {
			return t[i], true
		}
	case []string:
		if i, err := strconv.Atoi(seg); err == nil && i >= 0 && i < len(t) {
			return t[i], true
		}
	}
	return nil, false
}

// resolver carries the chain of paths being resolved so that a placeholder
// referring back to one of them is reported instead of recursing forever.
type resolver struct {
	store *Store
	stack []string
}

func (r *resolver) ref(path string) (any, error) {
	path = strings.TrimSpace(path)
	for i, p := range r.stack {
		if p == path {
			chain := append(append([]string{}, r.stack[i:]...), path)
			return nil, &pipeline.ConfigCycleError{Chain: chain}
		}
	}

	raw, err := r.store.Lookup(path)
	if err != nil {
		return nil, err
	}

	r.stack = append(r.stack, path)
	defer func() { r.stack = r.stack[:len(r.stack)-1] }()
	return r.value(raw)
}

func (r *resolver) value(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return r.str(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			resolved, err := r.value(item)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, item := range t {
			resolved, err := r.str(item)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			resolved, err := r.value(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case []map[string]any:
		out := make([]any, len(t))
		for i, item := range t {
			resolved, err := r.value(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case []string:
		out := make([]any, len(t))
		for i, item := range t {
			resolved, err := r.str(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// str resolves placeholders in s. A string that is exactly one placeholder
// takes the referenced value's type; otherwise each placeholder is replaced
// by its string form.
func (r *resolver) str(s string) (any, error) {
	matches := placeholderPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		return r.ref(s[matches[0][2]:matches[0][3]])
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		path := s[m[2]:m[3]]
		v, err := r.ref(path)
		if err != nil {
			return nil, err
		}
		text, err := stringify(v)
		if err != nil {
			return nil, fmt.Errorf("interpolating %s: %w", path, err)
		}
		b.WriteString(text)
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func stringify(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case int:
		return strconv.Itoa(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case time.Time:
		return t.Format(time.RFC3339), nil
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			p, err := stringify(item)
			if err != nil {
				return "", err
			}
			parts[i] = p
		}
		return strings.Join(parts, ","), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("cannot interpolate %T into a string", v)
	}
}
