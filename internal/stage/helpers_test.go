package stage_test

import (
	"context"
	"testing"

	"mailbuild/internal/fs"
	"mailbuild/internal/pipeline"
)

// run maps the definition's file specs under root and runs exec once.
func run(t *testing.T, exec pipeline.Executor, root string, def *pipeline.StageDefinition) (*pipeline.Output, error) {
	t.Helper()
	m := fs.NewMatcher(nil)
	var sets []pipeline.FileSet
	for _, spec := range def.Files {
		mapped, err := m.Map(root, spec)
		if err != nil {
			t.Fatalf("Map() error = %v", err)
		}
		sets = append(sets, mapped...)
	}
	inv := &pipeline.Invocation{
		Definition: def,
		Files:      sets,
		Root:       root,
		RunID:      "run-1",
		Logger:     pipeline.NewNopLogger(),
		Matcher:    m,
	}
	return exec.Run(context.Background(), inv)
}

func mustRun(t *testing.T, exec pipeline.Executor, root string, def *pipeline.StageDefinition) *pipeline.Output {
	t.Helper()
	out, err := run(t, exec, root, def)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return out
}
