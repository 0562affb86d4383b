package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/roach88/grund/internal/directive"
	"github.com/roach88/grund/internal/manifest"
	"github.com/roach88/grund/internal/runner"
)

// update copies a job's output files into the results log and regenerates
// its manifest.
//
// A command file whose first line is a timestamp asks the job runner for
// the file list ("runner results"); otherwise its lines are the file names.
func (e *Engine) update(ctx context.Context, b *batch, d directive.Directive) error {
	dir, err := e.jobPath(b, d)
	if err != nil {
		return err
	}
	lines, err := e.readCommand(b, d)
	if err != nil {
		return err
	}

	files := lines
	if len(lines) > 0 {
		if _, ok := manifest.ParseTimestamp(lines[0]); ok {
			res, err := e.runner.Run(ctx, dir, runner.ResultsArg)
			if err != nil {
				return runnerError(d, err)
			}
			files = res.Lines()
		}
	}

	if e.collect(ctx, b, d, dir, files) > 0 {
		b.resultsDirty = true
	}
	return e.refreshJobFiles(ctx, b, d, dir)
}

// collect copies files from the job directory to its mirror in the results
// log and stages them. Missing or unsafe names are reported and skipped, and
// so are files the results log refuses to stage.
func (e *Engine) collect(ctx context.Context, b *batch, d directive.Directive, dir string, files []string) int {
	results := b.project.Results
	var copied []string
	fresh := map[string]bool{}
	for _, name := range files {
		clean := filepath.Clean(filepath.FromSlash(name))
		if !filepath.IsLocal(clean) {
			slog.Warn("result file outside job directory", "job_dir", d.JobDir, "file", name)
			continue
		}
		src := filepath.Join(dir, clean)
		rel := path.Join(d.JobDir, filepath.ToSlash(clean))
		dst := filepath.Join(results.Dir(), filepath.FromSlash(rel))
		found, err := exists(dst)
		if err != nil {
			slog.Warn("result file not copied", "job_dir", d.JobDir, "file", name, "error", err)
			continue
		}
		if err := copyFile(src, dst); err != nil {
			slog.Warn("result file not copied", "job_dir", d.JobDir, "file", name, "error", err)
			continue
		}
		copied = append(copied, rel)
		fresh[rel] = !found
	}
	if len(copied) == 0 {
		return 0
	}
	if err := results.Stage(ctx, copied...); err == nil {
		slog.Info("results collected", "job_dir", d.JobDir, "files", len(copied))
		return len(copied)
	}

	// Staging is all or nothing; retry one file at a time to find the ones
	// the log rejects.
	staged := 0
	for _, rel := range copied {
		if err := results.Stage(ctx, rel); err != nil {
			slog.Warn("result file not staged", "job_dir", d.JobDir, "file", rel, "error", err)
			if fresh[rel] {
				os.Remove(filepath.Join(results.Dir(), filepath.FromSlash(rel)))
			}
			continue
		}
		staged++
	}
	if staged > 0 {
		slog.Info("results collected", "job_dir", d.JobDir, "files", staged)
	}
	return staged
}

// copyFile copies a regular file, creating parent directories of dst and
// overwriting any existing file.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", src)
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
