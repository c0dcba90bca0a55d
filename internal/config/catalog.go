package config

import (
	"fmt"
	"sort"

	"dario.cat/mergo"

	"mailbuild/internal/pipeline"
)

const (
	tasksKey  = "tasks"
	stagesKey = "stages"
)

// reservedKeys are stage-table keys that are never targets.
var reservedKeys = map[string]bool{
	"options":     true,
	"executor":    true,
	"description": true,
	"allow_empty": true,
	"files":       true,
	"src":         true,
	"dest":        true,
	"cwd":         true,
	"expand":      true,
	"flatten":     true,
	"ext":         true,
}

// builtinTasks returns the tasks available without any [tasks] table.
func builtinTasks() map[string]*pipeline.TaskDefinition {
	return map[string]*pipeline.TaskDefinition{
		"default": {
			Name:        "default",
			Description: "Build the email templates into dist",
			Stages: []pipeline.StageRef{
				{Name: "sass"},
				{Name: "assemble"},
				{Name: "premailer"},
				{Name: "imagemin", Target: "dynamic"},
				{Name: "img_replace", Target: "src_images"},
			},
		},
		"send": {
			Name:        "send",
			Description: "Send a built template as a test email",
			Stages:      []pipeline.StageRef{{Name: "mailgun"}},
			Requires:    []string{"to", "template"},
		},
		"cdnify": {
			Name:        "cdnify",
			Description: "Point image references at the CDN",
			Stages: []pipeline.StageRef{
				{Name: "cdn"},
				{Name: "text_replace", Target: "cdn_replace"},
			},
		},
	}
}

// Catalog builds task and stage definitions from a Store. Stage definitions
// are resolved on demand, right before the stage runs.
type Catalog struct {
	store *Store
}

// NewCatalog creates a Catalog over store.
func NewCatalog(store *Store) *Catalog {
	return &Catalog{store: store}
}

// TaskNames returns the built-in and configured task names, sorted.
func (c *Catalog) TaskNames() []string {
	seen := make(map[string]bool)
	for name := range builtinTasks() {
		seen[name] = true
	}
	if keys, err := c.store.Keys(tasksKey); err == nil {
		for _, k := range keys {
			seen[k] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type taskRecord struct {
	Description string   `mapstructure:"description"`
	Stages      []string `mapstructure:"stages"`
	Requires    []string `mapstructure:"requires"`
}

// Task returns the named task. A [tasks.<name>] entry overrides a built-in
// task of the same name.
func (c *Catalog) Task(name string) (*pipeline.TaskDefinition, error) {
	path := tasksKey + "." + name
	if !c.store.Has(path) {
		if t, ok := builtinTasks()[name]; ok {
			return t, nil
		}
		return nil, &pipeline.ConfigKeyNotFoundError{Path: path}
	}

	v, err := c.store.Get(path)
	if err != nil {
		return nil, err
	}

	var rec taskRecord
	switch t := v.(type) {
	case []any, string:
		if err := pipeline.DecodeOptions(map[string]any{"stages": t}, &rec); err != nil {
			return nil, fmt.Errorf("task %s: %w", name, err)
		}
	case map[string]any:
		if err := pipeline.DecodeOptions(t, &rec); err != nil {
			return nil, fmt.Errorf("task %s: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("task %s: expected a list of stages or a table, got %T", name, v)
	}

	task := &pipeline.TaskDefinition{Name: name, Description: rec.Description, Requires: rec.Requires}
	for _, s := range rec.Stages {
		ref, err := pipeline.ParseStageRef(s)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", name, err)
		}
		task.Stages = append(task.Stages, ref)
	}
	return task, nil
}

// Executors returns the executor kind of every configured stage. A stage
// uses the executor named like itself unless it sets executor = "...".
func (c *Catalog) Executors() map[string]string {
	out := make(map[string]string)
	names, err := c.store.Keys(stagesKey)
	if err != nil {
		return out
	}
	for _, name := range names {
		out[name] = c.executor(name)
	}
	return out
}

func (c *Catalog) executor(name string) string {
	v, err := c.store.Get(stagesKey + "." + name + ".executor")
	if err != nil {
		return name
	}
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return name
}

// Targets returns the target names of a stage, sorted.
func (c *Catalog) Targets(name string) ([]string, error) {
	path := stagesKey + "." + name
	keys, err := c.store.Keys(path)
	if err != nil {
		return nil, err
	}
	var targets []string
	for _, k := range keys {
		if reservedKeys[k] {
			continue
		}
		raw, _ := c.store.Lookup(path + "." + k)
		if _, ok := raw.(map[string]any); ok {
			targets = append(targets, k)
		}
	}
	return pipeline.SortedTargets(targets), nil
}

// Stages resolves the definitions selected by ref. A stage without targets
// is its own single target.
func (c *Catalog) Stages(ref pipeline.StageRef) ([]*pipeline.StageDefinition, error) {
	base := stagesKey + "." + ref.Name
	targets, err := c.Targets(ref.Name)
	if err != nil {
		return nil, err
	}

	if ref.Target != "" {
		found := false
		for _, t := range targets {
			if t == ref.Target {
				found = true
				break
			}
		}
		if !found {
			return nil, &pipeline.ConfigKeyNotFoundError{Path: base + "." + ref.Target}
		}
		targets = []string{ref.Target}
	}

	executor := c.executor(ref.Name)
	if len(targets) == 0 {
		def, err := c.definition(ref.Name, "", base, executor)
		if err != nil {
			return nil, err
		}
		return []*pipeline.StageDefinition{def}, nil
	}

	defs := make([]*pipeline.StageDefinition, 0, len(targets))
	for _, target := range targets {
		def, err := c.definition(ref.Name, target, base+"."+target, executor)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (c *Catalog) definition(name, target, path, executor string) (*pipeline.StageDefinition, error) {
	base := stagesKey + "." + name
	id := (&pipeline.StageDefinition{Name: name, Target: target}).ID()

	opts := map[string]any{}
	if c.store.Has(base + ".options") {
		v, err := c.table(base + ".options")
		if err != nil {
			return nil, err
		}
		opts = v
	}

	resolved, err := c.table(path)
	if err != nil {
		return nil, err
	}

	if target != "" {
		if targetOpts, ok := resolved["options"].(map[string]any); ok {
			if err := mergo.Merge(&opts, targetOpts, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("stage %s: merging options: %w", id, err)
			}
		}
	}

	files, err := c.fileSpecs(id, resolved)
	if err != nil {
		return nil, err
	}

	allowEmpty, err := c.allowEmpty(base, resolved)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", id, err)
	}

	return &pipeline.StageDefinition{
		Name:       name,
		Target:     target,
		Executor:   executor,
		Options:    opts,
		Files:      files,
		AllowEmpty: allowEmpty,
	}, nil
}

func (c *Catalog) table(path string) (map[string]any, error) {
	v, err := c.store.Get(path)
	if err != nil {
		return nil, err
	}
	t, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("config key %s is not a table", path)
	}
	return t, nil
}

func (c *Catalog) allowEmpty(base string, target map[string]any) (bool, error) {
	v, ok := target["allow_empty"]
	if !ok {
		if !c.store.Has(base + ".allow_empty") {
			return false, nil
		}
		var err error
		if v, err = c.store.Get(base + ".allow_empty"); err != nil {
			return false, err
		}
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("allow_empty must be a boolean, got %T", v)
	}
	return b, nil
}

// fileSpecs reads the three file formats of a resolved target: the files
// table ({dest = src}), the files array and the compact src/dest form.
func (c *Catalog) fileSpecs(id string, target map[string]any) ([]pipeline.FileSpec, error) {
	var specs []pipeline.FileSpec

	switch files := target["files"].(type) {
	case nil:
	case map[string]any:
		dests := make([]string, 0, len(files))
		resolvedDest := make(map[string]any, len(files))
		for rawDest, src := range files {
			// Keys may hold placeholders too.
			d, err := c.store.Resolve(rawDest)
			if err != nil {
				return nil, err
			}
			dest, err := stringify(d)
			if err != nil {
				return nil, fmt.Errorf("stage %s: files key %q: %w", id, rawDest, err)
			}
			dests = append(dests, dest)
			resolvedDest[dest] = src
		}
		sort.Strings(dests)
		for _, dest := range dests {
			var spec pipeline.FileSpec
			if err := pipeline.DecodeOptions(map[string]any{"src": resolvedDest[dest], "dest": dest}, &spec); err != nil {
				return nil, fmt.Errorf("stage %s: files: %w", id, err)
			}
			specs = append(specs, spec)
		}
	case []any:
		for i, item := range files {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("stage %s: files[%d] must be a table", id, i)
			}
			var spec pipeline.FileSpec
			if err := pipeline.DecodeOptions(m, &spec); err != nil {
				return nil, fmt.Errorf("stage %s: files[%d]: %w", id, i, err)
			}
			specs = append(specs, spec)
		}
	default:
		return nil, fmt.Errorf("stage %s: files must be a table or an array of tables, got %T", id, files)
	}

	if _, ok := target["src"]; ok {
		compact := make(map[string]any)
		for _, k := range []string{"src", "dest", "cwd", "expand", "flatten", "ext"} {
			if v, ok := target[k]; ok {
				compact[k] = v
			}
		}
		var spec pipeline.FileSpec
		if err := pipeline.DecodeOptions(compact, &spec); err != nil {
			return nil, fmt.Errorf("stage %s: %w", id, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Compile-time check that Catalog implements pipeline.DefinitionSource
var _ pipeline.DefinitionSource = (*Catalog)(nil)
