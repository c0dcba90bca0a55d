package pipeline

import (
	"fmt"
	"strings"
)

// StageRef names a stage in a task, optionally narrowed to one target
// ("imagemin:dynamic"). An empty Target means every target of the stage.
type StageRef struct {
	Name   string
	Target string
}

// ParseStageRef parses "name" or "name:target".
func ParseStageRef(s string) (StageRef, error) {
	name, target, _ := strings.Cut(strings.TrimSpace(s), ":")
	if name == "" {
		return StageRef{}, fmt.Errorf("invalid stage reference %q", s)
	}
	if strings.Contains(target, ":") {
		return StageRef{}, fmt.Errorf("invalid stage reference %q", s)
	}
	return StageRef{Name: name, Target: target}, nil
}

func (r StageRef) String() string {
	if r.Target == "" {
		return r.Name
	}
	return r.Name + ":" + r.Target
}

// TaskDefinition is a named, ordered list of stage references.
type TaskDefinition struct {
	Name        string
	Description string
	Stages      []StageRef
	// Requires lists CLI arguments that must be present before any stage runs.
	Requires []string
}

// FileSpec is one source/destination declaration of a stage target, before
// glob expansion.
type FileSpec struct {
	Src     []string `mapstructure:"src"`
	Dest    string   `mapstructure:"dest"`
	Cwd     string   `mapstructure:"cwd"`
	Expand  bool     `mapstructure:"expand"`
	Flatten bool     `mapstructure:"flatten"`
	Ext     string   `mapstructure:"ext"`
}

// FileSet is a concrete group of source files and the destination they map
// to. Paths are absolute.
type FileSet struct {
	Src  []string
	Dest string
}

// StageDefinition is a fully resolved stage target. It is built right before
// the stage runs and never mutated afterwards.
type StageDefinition struct {
	Name       string
	Target     string
	Executor   string
	Options    map[string]any
	Files      []FileSpec
	AllowEmpty bool
}

// ID returns "name:target".
func (d *StageDefinition) ID() string {
	if d.Target == "" {
		return d.Name
	}
	return d.Name + ":" + d.Target
}

// Patterns returns every source pattern declared by the definition.
func (d *StageDefinition) Patterns() []string {
	var patterns []string
	for _, f := range d.Files {
		patterns = append(patterns, f.Src...)
	}
	return patterns
}

// DefinitionSource supplies task and stage definitions. Stage definitions are
// resolved lazily so that a stage referencing missing secrets only fails when
// it is about to run.
type DefinitionSource interface {
	Task(name string) (*TaskDefinition, error)
	Stages(ref StageRef) ([]*StageDefinition, error)
	// Executors returns the executor kind for every configured stage name.
	Executors() map[string]string
	TaskNames() []string
}
