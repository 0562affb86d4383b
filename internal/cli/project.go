package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/grund/internal/config"
	"github.com/roach88/grund/internal/engine"
	"github.com/roach88/grund/internal/journal"
	"github.com/roach88/grund/internal/runner"
	"github.com/roach88/grund/internal/vlog/gitlog"
)

// Working copy directories inside a project directory.
const (
	JobsDir    = "jobs"
	ResultsDir = "results"
)

func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// openProject opens the jobs and results working copies under dir.
func openProject(ctx context.Context, cfg config.Config, dir string) (engine.Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return engine.Project{}, engine.NewInvalidWorkingCopy(dir, err)
	}
	p := engine.Project{Name: filepath.Base(abs)}

	open := func(name string) (*gitlog.Log, error) {
		l, err := gitlog.Open(ctx, gitlog.Options{
			Name:    name,
			Dir:     filepath.Join(abs, name),
			Remote:  cfg.Remote,
			Branch:  cfg.Branch,
			Binary:  cfg.GitBinary,
			Retries: uint64(cfg.Sync.Retries),
			Backoff: cfg.BackoffDuration(),
		})
		if err != nil {
			return nil, engine.NewInvalidWorkingCopy(fmt.Sprintf("project %s: %s", p.Name, name), err)
		}
		return l, nil
	}

	jobs, err := open(JobsDir)
	if err != nil {
		return engine.Project{}, err
	}
	results, err := open(ResultsDir)
	if err != nil {
		return engine.Project{}, err
	}
	p.Jobs, p.Results = jobs, results
	return p, nil
}

// openJournal opens the journal at path, falling back to the configured
// one. A nil store means journaling is off.
func openJournal(path string, cfg config.Config) (*journal.Store, error) {
	if path == "" {
		path = cfg.Journal
	}
	if path == "" {
		return nil, nil
	}
	st, err := journal.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	return st, nil
}

func closeJournal(st *journal.Store) {
	if st == nil {
		return
	}
	if err := st.Close(); err != nil {
		slog.Error("error closing journal", "error", err)
	}
}

// newEngine builds an engine from the configuration.
func newEngine(cfg config.Config, st *journal.Store, extra ...engine.Option) *engine.Engine {
	opts := []engine.Option{
		engine.WithRunner(runner.NewExec(cfg.Runner.Script, cfg.Runner.Interpreter)),
		engine.WithProjectCreator(engine.ActionCreator(runner.Action{Argv: cfg.NewProjectCommand})),
	}
	if st != nil {
		opts = append(opts, engine.WithJournal(st))
	}
	opts = append(opts, extra...)
	return engine.New(engine.Settings{
		CommandPrefix: cfg.CommandPrefix,
		Marker:        cfg.Marker,
		Manifest:      cfg.Manifest,
		WatermarkFile: cfg.WatermarkFile,
		RunnerScript:  cfg.Runner.Script,
	}, opts...)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
