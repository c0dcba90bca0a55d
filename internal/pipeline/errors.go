package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfig is matched by every configuration error (missing key, reference
// cycle, unknown executor) via errors.Is.
var ErrConfig = errors.New("configuration error")

// ConfigKeyNotFoundError reports a dotted path that does not exist in the
// configuration tree.
type ConfigKeyNotFoundError struct {
	Path string
	Hint string
}

func (e *ConfigKeyNotFoundError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("config key not found: %s (%s)", e.Path, e.Hint)
	}
	return fmt.Sprintf("config key not found: %s", e.Path)
}

func (e *ConfigKeyNotFoundError) Is(target error) bool { return target == ErrConfig }

// ConfigCycleError reports a placeholder chain that refers back to itself.
// Chain lists the paths in resolution order; the last entry repeats an earlier one.
type ConfigCycleError struct {
	Chain []string
}

func (e *ConfigCycleError) Error() string {
	return fmt.Sprintf("config reference cycle: %s", strings.Join(e.Chain, " -> "))
}

func (e *ConfigCycleError) Is(target error) bool { return target == ErrConfig }

// UnknownExecutorError reports a stage whose executor kind is not registered.
type UnknownExecutorError struct {
	Stage    string
	Executor string
}

func (e *UnknownExecutorError) Error() string {
	return fmt.Sprintf("stage %s: no executor registered for %q", e.Stage, e.Executor)
}

func (e *UnknownExecutorError) Is(target error) bool { return target == ErrConfig }

// MatchError reports a stage whose source patterns matched no files.
type MatchError struct {
	Stage    string
	Patterns []string
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("stage %s: no files matched %s", e.Stage, strings.Join(e.Patterns, ", "))
}

// ValidationError reports invalid invocation input, such as a required CLI
// argument that was not supplied.
type ValidationError struct {
	Task     string
	Argument string
	Message  string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Task != "":
		return fmt.Sprintf("task %s requires --%s", e.Task, e.Argument)
	default:
		return fmt.Sprintf("missing required argument --%s", e.Argument)
	}
}

// StageExecutionError wraps the native failure of a stage executor.
type StageExecutionError struct {
	Stage     string
	Err       error
	Transient bool
	Attempts  int
}

func (e *StageExecutionError) Error() string {
	kind := "failed"
	if e.Transient {
		kind = "failed (network)"
	}
	if e.Attempts > 1 {
		return fmt.Sprintf("stage %s %s after %d attempts: %v", e.Stage, kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("stage %s %s: %v", e.Stage, kind, e.Err)
}

func (e *StageExecutionError) Unwrap() error { return e.Err }

// TaskError is returned to the caller when a task aborts. It names the task
// and the stage the failure originated from.
type TaskError struct {
	Task  string
	Stage string
	Err   error
}

func (e *TaskError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("task %s: %v", e.Task, e.Err)
	}
	return fmt.Sprintf("task %s failed at %s: %v", e.Task, e.Stage, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// transientError marks an executor failure as network-level and retryable.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as a transient network failure. Executors use it for
// timeouts, connection errors and 5xx responses. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Transientf is fmt.Errorf followed by Transient.
func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}

// IsTransient reports whether err, or anything it wraps, was marked transient.
func IsTransient(err error) bool {
	var t *transientError
	if errors.As(err, &t) {
		return true
	}
	var se *StageExecutionError
	if errors.As(err, &se) {
		return se.Transient
	}
	return false
}
