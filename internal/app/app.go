// Package app wires mailbuild together: it builds the configuration store,
// stage registry, ledger and sequencer from a loaded config and exposes the
// operations the CLI runs.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"mailbuild/internal/config"
	"mailbuild/internal/fs"
	"mailbuild/internal/ledger"
	"mailbuild/internal/pipeline"
	"mailbuild/internal/remote"
	"mailbuild/internal/secrets"
	"mailbuild/internal/stage"
	"mailbuild/internal/watch"
)

// Options tune how an App is built. The zero value is what the CLI uses.
type Options struct {
	Verbose bool
	// Stderr receives log output next to the log file. Defaults to os.Stderr.
	Stderr io.Writer
	Clock  pipeline.Clock
	IDs    pipeline.IDGenerator
	// Passphrase unlocks passphrase-encrypted secrets files. Defaults to
	// MAILBUILD_SECRETS_PASSPHRASE, then a terminal prompt.
	Passphrase func() (string, error)
	// Dependencies builds the stage collaborators. Defaults to the network
	// clients in package remote.
	Dependencies func(l stage.Ledger, c pipeline.Clock) stage.Dependencies
}

// App is the application layer between the CLI and the pipeline.
// The caller must call Close when done.
type App struct {
	cfg      *config.Config
	store    *config.Store
	catalog  *config.Catalog
	registry *pipeline.Registry
	matcher  *fs.Matcher
	ledger   ledger.Ledger
	clock    pipeline.Clock
	ids      pipeline.IDGenerator
	logs     *logSink
}

// New creates a fully wired App from cfg.
func New(cfg *config.Config, opts Options) (*App, error) {
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Clock == nil {
		opts.Clock = pipeline.RealClock{}
	}
	if opts.IDs == nil {
		opts.IDs = pipeline.UUIDGenerator{}
	}
	if opts.Passphrase == nil {
		opts.Passphrase = secrets.EnvPassphrase(PassphraseEnv)
	}
	if opts.Dependencies == nil {
		opts.Dependencies = remote.Dependencies
	}

	store := config.NewStore(cfg.Tree)

	env, err := config.LoadEnv(cfg.Settings.EnvFile)
	if err != nil {
		return nil, err
	}
	store.Mount(config.EnvNamespace, env)
	store.Mount(config.OptionNamespace, map[string]any{})

	if err := mountSecrets(store, SecretsPath(cfg), cfg.Settings.SecretsIdentity, opts.Passphrase); err != nil {
		return nil, err
	}

	matcher, err := newMatcher(cfg)
	if err != nil {
		return nil, err
	}

	l, err := ledger.NewFromConfig(cfg.Settings.Ledger)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	registry := pipeline.NewRegistry()
	if err := stage.RegisterAll(registry, opts.Dependencies(l, opts.Clock)); err != nil {
		l.Close()
		return nil, err
	}

	logs, err := openLogSink(cfg.Settings.LogDir, opts.Stderr, opts.Verbose)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	return &App{
		cfg:      cfg,
		store:    store,
		catalog:  config.NewCatalog(store),
		registry: registry,
		matcher:  matcher,
		ledger:   l,
		clock:    opts.Clock,
		ids:      opts.IDs,
		logs:     logs,
	}, nil
}

// mountSecrets loads the secrets file into the secrets namespace. A missing
// file mounts an empty table so that only stages referencing secrets fail.
func mountSecrets(store *config.Store, path, identity string, passphrase func() (string, error)) error {
	values, err := secrets.Load(path, secrets.Options{IdentityFile: identity, Passphrase: passphrase})
	if errors.Is(err, secrets.ErrNotFound) {
		store.Mount(config.SecretsNamespace, map[string]any{})
		store.SetHint(config.SecretsNamespace, fmt.Sprintf("secrets file %s does not exist", path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading secrets: %w", err)
	}
	store.Mount(config.SecretsNamespace, values)
	return nil
}

// newMatcher combines the project ignore file with settings.ignore.
func newMatcher(cfg *config.Config) (*fs.Matcher, error) {
	m, err := fs.NewProjectMatcher(cfg.Root, cfg.Settings.Ignore...)
	if err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return m, nil
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config { return a.cfg }

func (a *App) sequencer(runID string) *pipeline.Sequencer {
	logger := &slogAdapter{l: a.logs.logger(runID)}
	retry := a.cfg.Settings.Retry
	return pipeline.NewSequencer(a.catalog, a.registry, a.matcher, a.cfg.Root, logger,
		pipeline.WithClock(a.clock),
		pipeline.WithRetry(pipeline.RetryPolicy{
			Attempts:  retry.Attempts,
			BaseDelay: retry.BaseDelay,
			MaxDelay:  retry.MaxDelay,
		}),
	)
}

// Run executes task with the given CLI arguments and records the outcome in
// the ledger. The result is non-nil even when err is not.
func (a *App) Run(ctx context.Context, task string, args map[string]string) (*pipeline.RunResult, error) {
	if task == "" {
		task = "default"
	}
	runID := a.ids.New()
	a.store.Mount(config.OptionNamespace, config.OptionTable(args))

	res, err := a.sequencer(runID).Run(ctx, pipeline.Request{Task: task, Args: args, RunID: runID})

	// Recording uses a fresh context so cancelled runs are still remembered.
	if rerr := a.ledger.RecordRun(context.WithoutCancel(ctx), newRunRecord(res)); rerr != nil {
		a.logs.logger(runID).Warn("failed to record run", "error", rerr)
	}
	return res, err
}

// Validate checks that every task references configured stages with
// registered executors.
func (a *App) Validate() error {
	return a.sequencer("").Validate()
}

// TaskInfo describes a task for listing.
type TaskInfo struct {
	Name        string
	Description string
	Stages      []string
	Requires    []string
	Err         error
}

// Tasks lists the built-in and configured tasks, sorted by name.
func (a *App) Tasks() []TaskInfo {
	var out []TaskInfo
	for _, name := range a.catalog.TaskNames() {
		info := TaskInfo{Name: name}
		task, err := a.catalog.Task(name)
		if err != nil {
			info.Err = err
			out = append(out, info)
			continue
		}
		info.Description = task.Description
		info.Requires = task.Requires
		for _, ref := range task.Stages {
			info.Stages = append(info.Stages, ref.String())
		}
		out = append(out, info)
	}
	return out
}

// History returns the most recent runs, newest first.
func (a *App) History(ctx context.Context, limit int) ([]ledger.RunRecord, error) {
	return a.ledger.Runs(ctx, limit)
}

// Uploads returns what the ledger remembers about destination.
func (a *App) Uploads(ctx context.Context, destination string) ([]stage.UploadRecord, error) {
	return a.ledger.Uploads(ctx, destination)
}

// Forget drops the ledger entries of destination so the next upload sends
// every file again.
func (a *App) Forget(ctx context.Context, destination string) (int64, error) {
	return a.ledger.Forget(ctx, destination)
}

// WatchPatterns resolves settings.watch.files against the configuration.
func (a *App) WatchPatterns() ([]string, error) {
	var patterns []string
	for _, raw := range a.cfg.Settings.Watch.Files {
		v, err := a.store.Resolve(raw)
		if err != nil {
			return nil, fmt.Errorf("resolving watch pattern %q: %w", raw, err)
		}
		switch p := v.(type) {
		case string:
			patterns = append(patterns, p)
		case []any:
			for _, item := range p {
				patterns = append(patterns, fmt.Sprint(item))
			}
		default:
			patterns = append(patterns, fmt.Sprint(p))
		}
	}
	return patterns, nil
}

// Watch runs the watch tasks once and then again whenever a watched file
// changes, until ctx is cancelled. report is called after every run.
func (a *App) Watch(ctx context.Context, args map[string]string, report func(*pipeline.RunResult)) error {
	patterns, err := a.WatchPatterns()
	if err != nil {
		return err
	}

	tasks := a.cfg.Settings.Watch.Tasks
	w, err := watch.New(watch.Options{
		Root:       a.cfg.Root,
		Patterns:   patterns,
		Debounce:   a.cfg.Settings.Watch.Debounce,
		RunOnStart: true,
		Logger:     &slogAdapter{l: a.logs.logger("")},
	}, func(ctx context.Context) error {
		for _, task := range tasks {
			res, err := a.Run(ctx, task, args)
			if report != nil {
				report(res)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

// Close closes the ledger and the log file.
func (a *App) Close() error {
	var errs []error
	if err := a.ledger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing ledger: %w", err))
	}
	if err := a.logs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing log file: %w", err))
	}
	return errors.Join(errs...)
}
