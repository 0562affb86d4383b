// Package memlog is an in-memory vlog.Log for tests and dry runs.
//
// History lives in memory; the working tree is a real directory so that job
// runners and file copies behave exactly as they do against git.
package memlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/roach88/grund/internal/vlog"
)

// Log is an in-memory history over a working directory.
type Log struct {
	mu     sync.Mutex
	name   string
	dir    string
	revs   []vlog.Revision
	staged []string
	pushed string

	pulls  int
	pushes int

	// PullErr, when set, is returned by every Pull.
	PullErr error
	// PushErr, when set, is called before every Push; a non-nil result
	// fails the push.
	PushErr func() error
	// StageErr, when set, is called for every path passed to Stage. A
	// non-nil result fails the whole call and nothing is staged, as git
	// does when one path is rejected.
	StageErr func(path string) error
}

var _ vlog.Log = (*Log)(nil)

// New creates a log rooted at dir with a single initial revision.
func New(name, dir string) *Log {
	l := &Log{name: name, dir: dir}
	l.revs = append(l.revs, vlog.Revision{ID: l.nextID(), Message: "initial"})
	l.pushed = l.revs[0].ID
	return l
}

func (l *Log) nextID() string {
	return fmt.Sprintf("%s-%04d", l.name, len(l.revs))
}

func (l *Log) Name() string { return l.name }

func (l *Log) Dir() string { return l.dir }

func (l *Log) Head(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.revs[len(l.revs)-1].ID, nil
}

func (l *Log) indexOf(id string) int {
	for i, r := range l.revs {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (l *Log) Revisions(ctx context.Context, since, to string) ([]vlog.Revision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	from := l.indexOf(since)
	if from < 0 {
		return nil, fmt.Errorf("%s: unknown revision %q", l.name, since)
	}
	end := l.indexOf(to)
	if end < 0 {
		return nil, fmt.Errorf("%s: unknown revision %q", l.name, to)
	}
	if end <= from {
		return nil, nil
	}
	out := make([]vlog.Revision, 0, end-from)
	for _, r := range l.revs[from+1 : end+1] {
		r.Paths = append([]string(nil), r.Paths...)
		out = append(out, r)
	}
	return out, nil
}

func (l *Log) Stage(ctx context.Context, paths ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.StageErr != nil {
		for _, p := range paths {
			if err := l.StageErr(p); err != nil {
				return fmt.Errorf("%s: stage %s: %w", l.name, p, err)
			}
		}
	}
	for _, p := range paths {
		l.stage(p)
	}
	return nil
}

func (l *Log) stage(p string) {
	for _, s := range l.staged {
		if s == p {
			return
		}
	}
	l.staged = append(l.staged, p)
}

func (l *Log) Commit(ctx context.Context, message string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rev := vlog.Revision{ID: l.nextID(), Message: message, Paths: l.staged}
	l.staged = nil
	l.revs = append(l.revs, rev)
	return rev.ID, nil
}

func (l *Log) ResetSoft(ctx context.Context, rev string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexOf(rev)
	if i < 0 {
		return fmt.Errorf("%s: unknown revision %q", l.name, rev)
	}
	var restaged []string
	for _, r := range l.revs[i+1:] {
		restaged = append(restaged, r.Paths...)
	}
	l.revs = l.revs[:i+1]
	pending := l.staged
	l.staged = nil
	for _, p := range append(restaged, pending...) {
		l.stage(p)
	}
	return nil
}

func (l *Log) Pull(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pulls++
	return l.PullErr
}

func (l *Log) Push(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pushes++
	if l.PushErr != nil {
		if err := l.PushErr(); err != nil {
			return err
		}
	}
	l.pushed = l.revs[len(l.revs)-1].ID
	return nil
}

// External simulates another user's commit arriving through a pull: files
// are written into the working tree and a revision touching them is
// appended. Paths listed in removes are deleted from the tree and recorded
// in the same revision.
func (l *Log) External(message string, files map[string]string, removes ...string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	paths := make([]string, 0, len(files)+len(removes))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		full := filepath.Join(l.dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			panic(err)
		}
		if err := os.WriteFile(full, []byte(files[p]), 0o644); err != nil {
			panic(err)
		}
	}
	for _, p := range removes {
		if err := os.RemoveAll(filepath.Join(l.dir, filepath.FromSlash(p))); err != nil {
			panic(err)
		}
		paths = append(paths, p)
	}

	rev := vlog.Revision{ID: l.nextID(), Message: message, Paths: paths}
	l.revs = append(l.revs, rev)
	return rev.ID
}

// History returns a copy of every revision, oldest first.
func (l *Log) History() []vlog.Revision {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]vlog.Revision, len(l.revs))
	copy(out, l.revs)
	return out
}

// Staged returns the paths staged for the next commit.
func (l *Log) Staged() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.staged...)
}

// Pushed returns the last revision a successful Push published.
func (l *Log) Pushed() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pushed
}

// Pulls returns the number of Pull calls.
func (l *Log) Pulls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pulls
}

// Pushes returns the number of Push calls, successful or not.
func (l *Log) Pushes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pushes
}
