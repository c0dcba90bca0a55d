// Package pipeline is the orchestration core: stage and task definitions, the
// executor registry and the sequencer that runs a task's stages in order,
// stopping at the first failure.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// OptionNamespace is the configuration namespace holding CLI arguments.
const OptionNamespace = "option"

// RetryPolicy bounds retries of transient stage failures. Attempts is the
// number of retries after the first try; zero disables retrying.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Request selects a task and carries the CLI arguments for one run.
type Request struct {
	Task  string
	Args  map[string]string
	RunID string
}

// Sequencer expands a task into stages and runs them one at a time. A stage
// starts only after the previous one returned successfully: later stages read
// what earlier stages wrote to disk, so stages are never reordered or overlapped.
type Sequencer struct {
	source   DefinitionSource
	registry *Registry
	matcher  Matcher
	root     string
	logger   Logger
	clock    Clock
	retry    RetryPolicy
	observer func(from, to State)
}

// SequencerOption customizes a Sequencer.
type SequencerOption func(*Sequencer)

// WithRetry enables bounded retries for transient stage failures.
func WithRetry(p RetryPolicy) SequencerOption {
	return func(s *Sequencer) { s.retry = p }
}

// WithObserver registers a callback invoked on every state transition.
func WithObserver(fn func(from, to State)) SequencerOption {
	return func(s *Sequencer) { s.observer = fn }
}

// WithClock replaces the clock used for stage timings.
func WithClock(c Clock) SequencerOption {
	return func(s *Sequencer) { s.clock = c }
}

// NewSequencer creates a Sequencer. root is the project directory that
// relative patterns and destinations are resolved against.
func NewSequencer(source DefinitionSource, registry *Registry, matcher Matcher, root string, logger Logger, opts ...SequencerOption) *Sequencer {
	s := &Sequencer{
		source:   source,
		registry: registry,
		matcher:  matcher,
		root:     root,
		logger:   logger,
		clock:    RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate checks every configured task statically: each referenced stage
// must be configured and its executor registered.
func (s *Sequencer) Validate() error {
	var errs []error
	for _, name := range s.source.TaskNames() {
		task, err := s.source.Task(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", name, err))
			continue
		}
		if err := s.checkExecutors(task); err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sequencer) checkExecutors(task *TaskDefinition) error {
	executors := s.source.Executors()
	for _, ref := range task.Stages {
		kind, ok := executors[ref.Name]
		if !ok {
			return &ConfigKeyNotFoundError{Path: "stages." + ref.Name}
		}
		if _, ok := s.registry.Get(kind); !ok {
			return &UnknownExecutorError{Stage: ref.String(), Executor: kind}
		}
	}
	return nil
}

// Run executes the requested task. The returned RunResult is always non-nil;
// on failure the error is a *TaskError naming the failing stage.
func (s *Sequencer) Run(ctx context.Context, req Request) (*RunResult, error) {
	result := &RunResult{
		RunID:     req.RunID,
		Task:      req.Task,
		StartedAt: s.clock.Now(),
	}
	m := newMachine(s.observer)

	fail := func(stage string, err error) (*RunResult, error) {
		m.to(State{Phase: PhaseFailed, Index: m.state().Index, Stage: stage})
		result.FinishedAt = s.clock.Now()
		result.Err = &TaskError{Task: req.Task, Stage: stage, Err: err}
		s.logger.Error("task failed", "task", req.Task, "stage", stage, "error", err)
		return result, result.Err
	}

	task, err := s.source.Task(req.Task)
	if err != nil {
		return fail("", err)
	}
	for _, arg := range task.Requires {
		if strings.TrimSpace(req.Args[arg]) == "" {
			return fail("", &ValidationError{Task: task.Name, Argument: arg})
		}
	}
	if err := s.checkExecutors(task); err != nil {
		return fail("", err)
	}

	s.logger.Info("task started", "task", task.Name, "stages", len(task.Stages))

	index := 0
	for i, ref := range task.Stages {
		if err := ctx.Err(); err != nil {
			result.Stages = append(result.Stages, skipped(task.Stages[i:])...)
			return fail(ref.String(), fmt.Errorf("cancelled before stage: %w", err))
		}

		defs, err := s.source.Stages(ref)
		if err != nil {
			err = asArgumentError(task.Name, err)
			result.Stages = append(result.Stages, StageResult{Stage: ref.String(), Status: StatusFailed, Err: err})
			result.Stages = append(result.Stages, skipped(task.Stages[i+1:])...)
			return fail(ref.String(), err)
		}

		for j, def := range defs {
			m.to(State{Phase: PhaseRunning, Index: index, Stage: def.ID()})
			index++

			sr, err := s.runStage(ctx, def, req)
			result.Stages = append(result.Stages, sr)
			if err != nil {
				for _, rest := range defs[j+1:] {
					result.Stages = append(result.Stages, StageResult{Stage: rest.ID(), Executor: rest.Executor, Status: StatusSkipped})
				}
				result.Stages = append(result.Stages, skipped(task.Stages[i+1:])...)
				return fail(def.ID(), err)
			}
		}
	}

	m.to(State{Phase: PhaseCompleted, Index: index})
	result.FinishedAt = s.clock.Now()
	s.logger.Info("task completed", "task", task.Name, "duration", result.Duration().String())
	return result, nil
}

// runStage maps files and invokes the executor for one stage definition.
func (s *Sequencer) runStage(ctx context.Context, def *StageDefinition, req Request) (StageResult, error) {
	start := s.clock.Now()
	sr := StageResult{Stage: def.ID(), Executor: def.Executor}
	finish := func(err error) (StageResult, error) {
		sr.Duration = s.clock.Now().Sub(start)
		if err != nil {
			sr.Status = StatusFailed
			sr.Err = err
			return sr, err
		}
		sr.Status = StatusSucceeded
		return sr, nil
	}

	exec, ok := s.registry.Get(def.Executor)
	if !ok {
		return finish(&UnknownExecutorError{Stage: def.ID(), Executor: def.Executor})
	}

	files, err := s.mapFiles(def)
	if err != nil {
		return finish(err)
	}

	inv := &Invocation{
		Definition: def,
		Files:      files,
		Root:       s.root,
		Args:       req.Args,
		RunID:      req.RunID,
		Logger:     s.logger,
		Matcher:    s.matcher,
	}

	s.logger.Info("stage started", "stage", def.ID(), "executor", def.Executor, "files", countFiles(files))

	out, attempts, err := s.invoke(ctx, exec, inv)
	sr.Attempts = attempts
	if err != nil {
		return finish(&StageExecutionError{
			Stage:     def.ID(),
			Err:       err,
			Transient: IsTransient(err),
			Attempts:  attempts,
		})
	}
	if out != nil {
		sr.Files = out.Files
		sr.Output = out.Status
	}
	sr, _ = finish(nil)
	s.logger.Info("stage finished", "stage", def.ID(), "duration", sr.Duration.String())
	return sr, nil
}

// invoke runs the executor, retrying transient failures within the policy.
func (s *Sequencer) invoke(ctx context.Context, exec Executor, inv *Invocation) (*Output, int, error) {
	if s.retry.Attempts <= 0 {
		out, err := exec.Run(ctx, inv)
		return out, 1, err
	}

	base := s.retry.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	backoff := retry.NewExponential(base)
	if s.retry.MaxDelay > 0 {
		backoff = retry.WithCappedDuration(s.retry.MaxDelay, backoff)
	}
	backoff = retry.WithMaxRetries(uint64(s.retry.Attempts), backoff)

	var out *Output
	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		var err error
		out, err = exec.Run(ctx, inv)
		if err != nil && IsTransient(err) {
			s.logger.Warn("stage failed with a network error", "stage", inv.Definition.ID(), "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	return out, attempts, err
}

func (s *Sequencer) mapFiles(def *StageDefinition) ([]FileSet, error) {
	var sets []FileSet
	for _, spec := range def.Files {
		mapped, err := s.matcher.Map(s.root, spec)
		if err != nil {
			return nil, fmt.Errorf("stage %s: expanding files: %w", def.ID(), err)
		}
		sets = append(sets, mapped...)
	}
	patterns := def.Patterns()
	if len(patterns) > 0 && countFiles(sets) == 0 && !def.AllowEmpty {
		return nil, &MatchError{Stage: def.ID(), Patterns: patterns}
	}
	return sets, nil
}

// asArgumentError reports an unresolved option.* placeholder as a missing CLI argument.
func asArgumentError(task string, err error) error {
	var nf *ConfigKeyNotFoundError
	if errors.As(err, &nf) && strings.HasPrefix(nf.Path, OptionNamespace+".") {
		return &ValidationError{Task: task, Argument: strings.TrimPrefix(nf.Path, OptionNamespace+".")}
	}
	return err
}

func skipped(refs []StageRef) []StageResult {
	results := make([]StageResult, 0, len(refs))
	for _, ref := range refs {
		results = append(results, StageResult{Stage: ref.String(), Status: StatusSkipped})
	}
	return results
}

func countFiles(sets []FileSet) int {
	seen := make(map[string]struct{})
	for _, fs := range sets {
		for _, src := range fs.Src {
			seen[src] = struct{}{}
		}
	}
	return len(seen)
}

// SortedTargets returns target names in the order the sequencer runs them.
func SortedTargets(targets []string) []string {
	out := append([]string(nil), targets...)
	sort.Strings(out)
	return out
}
