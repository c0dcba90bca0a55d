package pipeline

import (
	"fmt"
	"sort"
)

// Registry maps executor kinds to executors. It is populated once at startup
// and only read by the Sequencer afterwards.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds an executor under kind. Registering a kind twice is an error.
func (r *Registry) Register(kind string, e Executor) error {
	if kind == "" {
		return fmt.Errorf("executor kind must not be empty")
	}
	if e == nil {
		return fmt.Errorf("executor %q is nil", kind)
	}
	if _, ok := r.executors[kind]; ok {
		return fmt.Errorf("executor %q already registered", kind)
	}
	r.executors[kind] = e
	return nil
}

// Get returns the executor registered under kind.
func (r *Registry) Get(kind string) (Executor, bool) {
	e, ok := r.executors[kind]
	return e, ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.executors))
	for k := range r.executors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
