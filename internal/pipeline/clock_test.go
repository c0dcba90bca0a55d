package pipeline_test

import (
	"testing"

	"github.com/google/uuid"

	"mailbuild/internal/pipeline"
)

func TestUUIDGenerator(t *testing.T) {
	gen := pipeline.UUIDGenerator{}
	first, second := gen.New(), gen.New()

	for _, s := range []string{first, second} {
		id, err := uuid.Parse(s)
		if err != nil {
			t.Fatalf("uuid.Parse(%q) error = %v", s, err)
		}
		if id.Version() != 7 {
			t.Errorf("version = %d, want 7", id.Version())
		}
	}
	if first == second {
		t.Error("generated ids are equal")
	}
	if second < first {
		t.Errorf("ids not ordered by creation: %s then %s", first, second)
	}
}
