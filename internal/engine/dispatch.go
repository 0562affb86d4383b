package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/roach88/grund/internal/directive"
	"github.com/roach88/grund/internal/journal"
	"github.com/roach88/grund/internal/manifest"
	"github.com/roach88/grund/internal/runner"
)

// dispatch applies one directive and records its outcome. Skip errors are
// absorbed; anything else is returned and aborts the batch.
func (e *Engine) dispatch(ctx context.Context, b *batch, d directive.Directive) error {
	seq := b.clock.Next()
	slog.Info("grund command",
		"at", manifest.FormatTimestamp(e.now()),
		"verb", d.Name,
		"job_dir", d.JobDir,
		"revision", d.Revision,
	)

	var err error
	switch d.Verb {
	case directive.VerbUpdate:
		err = e.update(ctx, b, d)
	case directive.VerbArchive, directive.VerbDelete, directive.VerbNuke:
		err = e.lifecycle(ctx, b, d)
	case directive.VerbNewProject:
		err = e.createProject(ctx, b, d)
	default:
		err = e.runVerb(ctx, b, d)
	}

	if IsFatal(err) {
		return err
	}

	out := Outcome{
		Seq:       seq,
		Directive: d,
		Revision:  d.Revision,
		Verb:      d.Name,
		JobDir:    d.JobDir,
		Err:       err,
	}
	rec := journal.DirectiveRecord{
		BatchID:  b.id,
		Seq:      seq,
		Revision: d.Revision,
		Verb:     d.Name,
		JobDir:   d.JobDir,
		Outcome:  journal.OutcomeApplied,
	}
	if err != nil {
		out.Error = err.Error()
		rec.Outcome = journal.OutcomeSkipped
		rec.Message = err.Error()
		var ee *Error
		if errors.As(err, &ee) {
			rec.Code = string(ee.Code)
		}
		slog.Warn("directive skipped",
			"verb", d.Name,
			"job_dir", d.JobDir,
			"revision", d.Revision,
			"error", err,
		)
	}
	b.report.Outcomes = append(b.report.Outcomes, out)
	e.journalErr("directive", e.journal.RecordDirective(ctx, rec))
	return nil
}

// jobPath returns the absolute job directory in the jobs working copy and
// checks that it exists.
func (e *Engine) jobPath(b *batch, d directive.Directive) (string, error) {
	if d.JobDir == "" {
		return "", skipError(ErrCodeInvalidDirective, d, "command file is not inside a job directory", nil)
	}
	dir := filepath.Join(b.project.Jobs.Dir(), filepath.FromSlash(d.JobDir))
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", skipError(ErrCodeInvalidDirective, d, "job directory not found", err)
	}
	return dir, nil
}

// readCommand returns the non-empty lines of the command file.
func (e *Engine) readCommand(b *batch, d directive.Directive) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(b.project.Jobs.Dir(), filepath.FromSlash(d.Path())))
	if err != nil {
		return nil, skipError(ErrCodeInvalidDirective, d, "command file unreadable", err)
	}
	return runner.Lines(string(data)), nil
}

// runnerError maps a runner failure onto the skip taxonomy.
func runnerError(d directive.Directive, err error) error {
	if errors.Is(err, runner.ErrMissing) {
		return skipError(ErrCodeMissingRunner, d, "no job runner in job directory", err)
	}
	return skipError(ErrCodeRunnerFailed, d, fmt.Sprintf("job runner %q failed", d.Name), err)
}

// runVerb hands an unrecognized verb to the job runner and republishes the
// job metadata it may have changed.
func (e *Engine) runVerb(ctx context.Context, b *batch, d directive.Directive) error {
	dir, err := e.jobPath(b, d)
	if err != nil {
		return err
	}
	if !e.runner.Available(dir) {
		return skipError(ErrCodeMissingRunner, d, "no job runner in job directory", runner.ErrMissing)
	}
	res, err := e.runner.Run(ctx, dir, d.Name)
	if err != nil {
		return runnerError(d, err)
	}
	if res != nil && len(res.Stdout) > 0 {
		slog.Debug("job runner output", "job_dir", d.JobDir, "verb", d.Name, "output", string(res.Stdout))
	}
	return e.refreshJobFiles(ctx, b, d, dir)
}

// refreshJobFiles regenerates the manifest and stages every job.* file.
func (e *Engine) refreshJobFiles(ctx context.Context, b *batch, d directive.Directive, dir string) error {
	if _, err := manifest.Write(dir, e.settings.Manifest, e.settings.reserved()); err != nil {
		return skipError(ErrCodeInvalidDirective, d, "regenerate manifest", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return skipError(ErrCodeInvalidDirective, d, "list job directory", err)
	}
	var paths []string
	for _, ent := range entries {
		if ent.Type().IsRegular() && (strings.HasPrefix(ent.Name(), "job.") || ent.Name() == e.settings.Manifest) {
			paths = append(paths, path.Join(d.JobDir, ent.Name()))
		}
	}
	if err := b.project.Jobs.Stage(ctx, paths...); err != nil {
		return skipError(ErrCodeStageFailed, d, "stage job files", err)
	}
	return nil
}

// createProject runs the external project bootstrap with the name written
// on the first line of the command file.
func (e *Engine) createProject(ctx context.Context, b *batch, d directive.Directive) error {
	if e.newProject == nil {
		return skipError(ErrCodeInvalidDirective, d, "no project bootstrap action configured", nil)
	}
	lines, err := e.readCommand(b, d)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return skipError(ErrCodeInvalidDirective, d, "command file names no project", nil)
	}
	name := lines[0]
	if err := e.newProject.CreateProject(ctx, name); err != nil {
		return skipError(ErrCodeRunnerFailed, d, fmt.Sprintf("create project %q", name), err)
	}
	slog.Info("project created", "project", name)
	return nil
}
