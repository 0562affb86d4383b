// Package gitlog implements vlog.Log on top of a git working copy by driving
// the git command line.
package gitlog

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	retry "github.com/sethvargo/go-retry"

	"github.com/roach88/grund/internal/vlog"
)

// Options configures a git-backed log.
type Options struct {
	Name   string // "jobs" or "results"
	Dir    string // working copy root
	Remote string // default "origin"
	Branch string // default "master"
	Binary string // default "git"

	// Retries is the number of extra attempts for pull, and for push when
	// the remote could not be reached.
	Retries uint64
	// Backoff is the base of the Fibonacci backoff between attempts.
	Backoff time.Duration
}

// Log is a git working copy.
type Log struct {
	opts Options
}

var _ vlog.Log = (*Log)(nil)

// Open verifies that dir is the top level of a git working copy and returns
// a Log for it. Returns an error wrapping vlog.ErrNotWorkingCopy otherwise.
func Open(ctx context.Context, opts Options) (*Log, error) {
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	if opts.Branch == "" {
		opts.Branch = "master"
	}
	if opts.Binary == "" {
		opts.Binary = "git"
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	abs, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", opts.Dir, vlog.ErrNotWorkingCopy, err)
	}
	opts.Dir = abs

	l := &Log{opts: opts}
	top, err := l.git(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", abs, vlog.ErrNotWorkingCopy, err)
	}
	top = strings.TrimSpace(top)
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if resolved, err := filepath.EvalSymlinks(top); err == nil {
		top = resolved
	}
	if top != abs {
		return nil, fmt.Errorf("%s: %w: working copy root is %s", opts.Dir, vlog.ErrNotWorkingCopy, top)
	}
	return l, nil
}

func (l *Log) Name() string { return l.opts.Name }

func (l *Log) Dir() string { return l.opts.Dir }

func (l *Log) Head(ctx context.Context) (string, error) {
	out, err := l.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("%s head: %w", l.opts.Name, err)
	}
	return strings.TrimSpace(out), nil
}

// Record and field separators used in the log format below. Neither can
// appear in a commit hash or a path, and git strips them from messages only
// if the author put them there deliberately.
const (
	recordSep = "\x1e"
	fieldSep  = "\x1f"
)

func (l *Log) Revisions(ctx context.Context, since, to string) ([]vlog.Revision, error) {
	out, err := l.git(ctx,
		"-c", "core.quotepath=off",
		"log", "--topo-order", "--reverse", "--no-renames", "--name-only",
		"--format="+"%x1e%H%x1f%B%x1f",
		since+".."+to,
	)
	if err != nil {
		return nil, fmt.Errorf("%s revisions %s..%s: %w", l.opts.Name, since, to, err)
	}
	return parseLog(out), nil
}

// parseLog splits `git log` output produced with the format above.
func parseLog(out string) []vlog.Revision {
	var revs []vlog.Revision
	for _, rec := range strings.Split(out, recordSep) {
		if strings.TrimSpace(rec) == "" {
			continue
		}
		fields := strings.SplitN(rec, fieldSep, 3)
		if len(fields) < 2 {
			continue
		}
		rev := vlog.Revision{
			ID:      strings.TrimSpace(fields[0]),
			Message: strings.TrimRight(fields[1], "\n"),
		}
		if len(fields) == 3 {
			for _, line := range strings.Split(fields[2], "\n") {
				if line = strings.TrimRight(line, "\r"); line != "" {
					rev.Paths = append(rev.Paths, line)
				}
			}
		}
		revs = append(revs, rev)
	}
	return revs
}

// Stage adds paths that exist in the working tree and records removal of
// those that do not. Removed paths that were never tracked are ignored.
func (l *Log) Stage(ctx context.Context, paths ...string) error {
	var present, missing []string
	for _, p := range paths {
		if _, err := os.Lstat(filepath.Join(l.opts.Dir, filepath.FromSlash(p))); err == nil {
			present = append(present, p)
		} else {
			missing = append(missing, p)
		}
	}
	if len(present) > 0 {
		args := append([]string{"add", "-A", "--"}, present...)
		if _, err := l.git(ctx, args...); err != nil {
			return fmt.Errorf("%s stage: %w", l.opts.Name, err)
		}
	}
	if len(missing) > 0 {
		args := append([]string{"rm", "-r", "-q", "--cached", "--ignore-unmatch", "--"}, missing...)
		if _, err := l.git(ctx, args...); err != nil {
			return fmt.Errorf("%s stage removal: %w", l.opts.Name, err)
		}
	}
	return nil
}

func (l *Log) Commit(ctx context.Context, message string) (string, error) {
	if _, err := l.git(ctx, "commit", "--allow-empty", "-q", "-m", message); err != nil {
		return "", fmt.Errorf("%s commit: %w", l.opts.Name, err)
	}
	return l.Head(ctx)
}

func (l *Log) ResetSoft(ctx context.Context, rev string) error {
	if _, err := l.git(ctx, "reset", "--soft", rev); err != nil {
		return fmt.Errorf("%s reset: %w", l.opts.Name, err)
	}
	return nil
}

func (l *Log) Pull(ctx context.Context) error {
	return l.withRetry(ctx, "pull", nil, "pull", "--no-edit", l.opts.Remote, l.opts.Branch)
}

// Push publishes the branch. A push the remote rejects is not retried: the
// same commits would be rejected again until the next pull.
func (l *Log) Push(ctx context.Context) error {
	return l.withRetry(ctx, "push", isRejected, "push", l.opts.Remote, l.opts.Branch)
}

// isRejected reports whether a push failed because the remote refused the
// update rather than because it could not be reached.
func isRejected(err error) bool {
	msg := err.Error()
	for _, s := range []string{"[rejected]", "non-fast-forward", "fetch first", "[remote rejected]"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// withRetry runs a network-bound git command with Fibonacci backoff. Errors
// for which final returns true end the attempts at once.
func (l *Log) withRetry(ctx context.Context, op string, final func(error) bool, args ...string) error {
	b := retry.WithMaxRetries(l.opts.Retries, retry.NewFibonacci(l.opts.Backoff))
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if _, err := l.git(ctx, args...); err != nil {
			slog.Warn("git sync attempt failed",
				"log", l.opts.Name,
				"op", op,
				"attempt", attempt,
				"error", err,
			)
			if final != nil && final(err) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", l.opts.Name, op, err)
	}
	return nil
}

// git runs one git command in the working copy and returns its stdout.
func (l *Log) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, l.opts.Binary, args...)
	cmd.Dir = l.opts.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("git %s: %w", args[0], err)
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, msg)
	}
	return stdout.String(), nil
}
