package gitlog

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grund/internal/vlog"
)

func TestParseLog(t *testing.T) {
	out := "\x1eaaa\x1fGRUND: done up to commit 123\n\x1f\n\njobs/last_processed_commit.sha\n" +
		"\x1ebbb\x1fadd job\n\nbody line\n\x1f\n\nactive/p1/grcmd.update\nactive/p1/in.txt\n"

	revs := parseLog(out)

	require.Len(t, revs, 2)
	assert.Equal(t, "aaa", revs[0].ID)
	assert.Equal(t, "GRUND: done up to commit 123", revs[0].Message)
	assert.Equal(t, []string{"jobs/last_processed_commit.sha"}, revs[0].Paths)
	assert.Equal(t, "bbb", revs[1].ID)
	assert.Equal(t, "add job\n\nbody line", revs[1].Message)
	assert.Equal(t, []string{"active/p1/grcmd.update", "active/p1/in.txt"}, revs[1].Paths)
}

func TestParseLog_KeepsPathWhitespace(t *testing.T) {
	out := "\x1eaaa\x1fsubmit\n\x1f\n\nactive/ p1/grcmd.update\nactive/p2 /grcmd.build\n"

	revs := parseLog(out)

	require.Len(t, revs, 1)
	assert.Equal(t, []string{"active/ p1/grcmd.update", "active/p2 /grcmd.build"}, revs[0].Paths)
}

func TestIsRejected(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"git push: exit status 1: ! [rejected]        master -> master (fetch first)", true},
		{"git push: exit status 1: ! [rejected] master -> master (non-fast-forward)", true},
		{"git push: exit status 1: ! [remote rejected] master -> master (pre-receive hook declined)", true},
		{"git push: exit status 128: fatal: 'missing' does not appear to be a git repository", false},
		{"git push: exit status 128: fatal: unable to access: Could not resolve host", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isRejected(errors.New(tt.msg)), tt.msg)
	}
}

func TestParseLog_Empty(t *testing.T) {
	assert.Empty(t, parseLog(""))
	assert.Empty(t, parseLog("\n"))
}

// requireGit skips tests when no git binary is available and pins the
// identity used for commits.
func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	t.Setenv("GIT_AUTHOR_NAME", "grund test")
	t.Setenv("GIT_AUTHOR_EMAIL", "grund@example.invalid")
	t.Setenv("GIT_COMMITTER_NAME", "grund test")
	t.Setenv("GIT_COMMITTER_EMAIL", "grund@example.invalid")
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

// newClone creates a bare remote with one commit on master and a clone of it.
func newClone(t *testing.T) (remote, clone string) {
	t.Helper()
	root := t.TempDir()
	remote = filepath.Join(root, "remote.git")
	seed := filepath.Join(root, "seed")
	clone = filepath.Join(root, "clone")

	runGit(t, root, "init", "-q", "--bare", "-b", "master", remote)
	runGit(t, root, "init", "-q", "-b", "master", seed)
	require.NoError(t, os.WriteFile(filepath.Join(seed, "README"), []byte("jobs\n"), 0o644))
	runGit(t, seed, "add", "README")
	runGit(t, seed, "commit", "-q", "-m", "initial")
	runGit(t, seed, "remote", "add", "origin", remote)
	runGit(t, seed, "push", "-q", "origin", "master")
	runGit(t, root, "clone", "-q", "-b", "master", remote, clone)
	return remote, clone
}

func TestOpen_NotAWorkingCopy(t *testing.T) {
	requireGit(t)

	_, err := Open(context.Background(), Options{Name: "jobs", Dir: t.TempDir()})

	require.Error(t, err)
	assert.True(t, errors.Is(err, vlog.ErrNotWorkingCopy))
}

func TestOpen_SubdirectoryRejected(t *testing.T) {
	requireGit(t)
	_, clone := newClone(t)
	sub := filepath.Join(clone, "active")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	_, err := Open(context.Background(), Options{Name: "jobs", Dir: sub})

	assert.True(t, errors.Is(err, vlog.ErrNotWorkingCopy))
}

func TestLog_StageCommitRevisionsPush(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	_, clone := newClone(t)

	l, err := Open(ctx, Options{Name: "jobs", Dir: clone})
	require.NoError(t, err)
	base, err := l.Head(ctx)
	require.NoError(t, err)

	jobDir := filepath.Join(clone, "active", "p1")
	require.NoError(t, os.MkdirAll(jobDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(jobDir, "grcmd.update"), []byte("x\n"), 0o644))
	require.NoError(t, l.Stage(ctx, "active/p1"))
	head, err := l.Commit(ctx, "submit p1")
	require.NoError(t, err)
	assert.NotEqual(t, base, head)

	revs, err := l.Revisions(ctx, base, head)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, head, revs[0].ID)
	assert.Equal(t, "submit p1", revs[0].Message)
	assert.Equal(t, []string{"active/p1/grcmd.update"}, revs[0].Paths)

	require.NoError(t, l.Pull(ctx))
	require.NoError(t, l.Push(ctx))
}

func TestLog_StageRecordsMoves(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	_, clone := newClone(t)
	l, err := Open(ctx, Options{Name: "jobs", Dir: clone})
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(clone, "active", "p1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(clone, "active", "p1", "a.txt"), []byte("a"), 0o644))
	require.NoError(t, l.Stage(ctx, "active/p1"))
	before, err := l.Commit(ctx, "add")
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(clone, "archive"), 0o755))
	require.NoError(t, os.Rename(filepath.Join(clone, "active", "p1"), filepath.Join(clone, "archive", "p1")))
	require.NoError(t, l.Stage(ctx, "active/p1", "archive/p1"))
	after, err := l.Commit(ctx, "archive")
	require.NoError(t, err)

	revs, err := l.Revisions(ctx, before, after)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.ElementsMatch(t, []string{"active/p1/a.txt", "archive/p1/a.txt"}, revs[0].Paths)
}

func TestLog_ResetSoftKeepsStagedChanges(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	_, clone := newClone(t)
	l, err := Open(ctx, Options{Name: "jobs", Dir: clone})
	require.NoError(t, err)
	base, err := l.Head(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(clone, "w.sha"), []byte("abc\n"), 0o644))
	require.NoError(t, l.Stage(ctx, "w.sha"))
	_, err = l.Commit(ctx, "GRUND: done")
	require.NoError(t, err)

	require.NoError(t, l.ResetSoft(ctx, base))

	head, err := l.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, base, head)
	cmd := exec.Command("git", "diff", "--cached", "--name-only")
	cmd.Dir = clone
	out, err := cmd.Output()
	require.NoError(t, err)
	assert.Equal(t, "w.sha\n", string(out))
}

func TestLog_PushFailsWithoutRemote(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	_, clone := newClone(t)
	l, err := Open(ctx, Options{Name: "jobs", Dir: clone, Remote: "missing", Retries: 1, Backoff: time.Millisecond})
	require.NoError(t, err)

	err = l.Push(ctx)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "jobs push")
}

func TestLog_RejectedPushIsNotRetried(t *testing.T) {
	requireGit(t)
	remote, clone := newClone(t)

	other := filepath.Join(t.TempDir(), "other")
	runGit(t, filepath.Dir(other), "clone", "-q", "-b", "master", remote, other)
	require.NoError(t, os.WriteFile(filepath.Join(other, "theirs.txt"), []byte("t\n"), 0o644))
	runGit(t, other, "add", "theirs.txt")
	runGit(t, other, "commit", "-q", "-m", "theirs")
	runGit(t, other, "push", "-q", "origin", "master")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	l, err := Open(ctx, Options{Name: "jobs", Dir: clone, Retries: 5, Backoff: time.Hour})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(clone, "ours.txt"), []byte("o\n"), 0o644))
	require.NoError(t, l.Stage(ctx, "ours.txt"))
	_, err = l.Commit(ctx, "ours")
	require.NoError(t, err)

	err = l.Push(ctx)

	require.Error(t, err)
	assert.False(t, errors.Is(err, context.DeadlineExceeded), "rejected push waited for a retry")
	assert.Contains(t, err.Error(), "rejected")
}

func TestLog_RevisionsParentsFirstDespiteClockSkew(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	_, clone := newClone(t)
	l, err := Open(ctx, Options{Name: "jobs", Dir: clone})
	require.NoError(t, err)
	base, err := l.Head(ctx)
	require.NoError(t, err)

	commit := func(name, date string) string {
		t.Setenv("GIT_COMMITTER_DATE", date)
		t.Setenv("GIT_AUTHOR_DATE", date)
		require.NoError(t, os.WriteFile(filepath.Join(clone, name), []byte(name+"\n"), 0o644))
		require.NoError(t, l.Stage(ctx, name))
		id, err := l.Commit(ctx, name)
		require.NoError(t, err)
		return id
	}
	first := commit("first.txt", "2030-01-01T00:00:00Z")
	second := commit("second.txt", "2001-01-01T00:00:00Z")
	third := commit("third.txt", "2015-01-01T00:00:00Z")

	revs, err := l.Revisions(ctx, base, third)
	require.NoError(t, err)
	require.Len(t, revs, 3)
	assert.Equal(t, []string{first, second, third}, []string{revs[0].ID, revs[1].ID, revs[2].ID})
}
