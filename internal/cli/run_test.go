package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grund/internal/engine"
	"github.com/roach88/grund/internal/journal"
	"github.com/roach88/grund/internal/testutil"
	"github.com/roach88/grund/internal/watermark"
)

// requireGit skips tests when git or sh is unavailable and pins the commit
// identity.
func requireGit(t *testing.T) {
	t.Helper()
	for _, bin := range []string{"git", "sh"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not installed", bin)
		}
	}
	t.Setenv("GIT_AUTHOR_NAME", "grund test")
	t.Setenv("GIT_AUTHOR_EMAIL", "grund@example.invalid")
	t.Setenv("GIT_COMMITTER_NAME", "grund test")
	t.Setenv("GIT_COMMITTER_EMAIL", "grund@example.invalid")
}

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

// gitProject is a project directory whose jobs and results working copies
// are clones of their own bare remotes.
type gitProject struct {
	Dir    string
	Config string
}

func (p gitProject) jobs(rel string) string {
	return filepath.Join(p.Dir, JobsDir, filepath.FromSlash(rel))
}

func (p gitProject) results(rel string) string {
	return filepath.Join(p.Dir, ResultsDir, filepath.FromSlash(rel))
}

func newGitProject(t *testing.T) gitProject {
	t.Helper()
	requireGit(t)
	root := t.TempDir()
	dir := filepath.Join(root, "alpha")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	for _, name := range []string{JobsDir, ResultsDir} {
		remote := filepath.Join(root, name+".git")
		seed := filepath.Join(root, name+"-seed")
		git(t, root, "init", "-q", "--bare", "-b", "master", remote)
		git(t, root, "init", "-q", "-b", "master", seed)
		require.NoError(t, os.WriteFile(filepath.Join(seed, "README"), []byte(name+"\n"), 0o644))
		git(t, seed, "add", "README")
		git(t, seed, "commit", "-q", "-m", "initial")
		git(t, seed, "remote", "add", "origin", remote)
		git(t, seed, "push", "-q", "origin", "master")
		git(t, root, "clone", "-q", "-b", "master", remote, filepath.Join(dir, name))
	}

	cfg := filepath.Join(root, "grund.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`runner:
  script: `+testutil.RunnerScript+`
  interpreter: `+testutil.RunnerInterpreter+`
newproj_command: ["true"]
sync:
  retries: 0
  backoff: 1ms
`), 0o644))

	return gitProject{Dir: dir, Config: cfg}
}

// submit writes files into the jobs working copy, commits and pushes them.
func (p gitProject) submit(t *testing.T, msg string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := p.jobs(rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	dir := filepath.Join(p.Dir, JobsDir)
	git(t, dir, "add", "-A")
	git(t, dir, "commit", "-q", "-m", msg)
	git(t, dir, "push", "-q", "origin", "master")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func decodeRun(t *testing.T, out string) []ProjectResult {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   []ProjectResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp.Data
}

func TestRun_BootstrapThenUpdate(t *testing.T) {
	p := newGitProject(t)

	out, err := execute(t, "run", "--config", p.Config, "--format", "json", p.Dir)
	require.NoError(t, err)
	res := decodeRun(t, out)
	require.Len(t, res, 1)
	assert.Equal(t, "alpha", res[0].Project)
	require.NotNil(t, res[0].Report)
	assert.Equal(t, "bootstrap", res[0].Report.Status)
	assert.FileExists(t, p.jobs(watermark.DefaultFile))
	assert.FileExists(t, p.results(watermark.DefaultFile))

	p.submit(t, "submit p1", map[string]string{
		"active/p1/" + testutil.RunnerScript: testutil.Runner,
		"active/p1/out.txt":                  "42\n",
		"active/p1/grcmd.update":             "out.txt\n",
	})
	jobsHead := git(t, filepath.Join(p.Dir, JobsDir), "rev-parse", "HEAD")

	out, err = execute(t, "run", "--config", p.Config, "--format", "json", p.Dir)
	require.NoError(t, err)
	res = decodeRun(t, out)
	require.Len(t, res, 1)
	rep := res[0].Report
	require.NotNil(t, rep)
	assert.Equal(t, "published", rep.Status)
	assert.Equal(t, jobsHead, rep.Target)
	require.Len(t, rep.Outcomes, 1)
	assert.Empty(t, rep.Outcomes[0].Error)

	assert.Equal(t, "42\n", testutil.ReadFile(t, p.results("active/p1/out.txt")))
	assert.Equal(t, jobsHead+"\n", testutil.ReadFile(t, p.jobs(watermark.DefaultFile)))
	assert.FileExists(t, p.jobs("active/p1/job.list"))

	// Both remotes carry the publish commits.
	for _, name := range []string{JobsDir, ResultsDir} {
		dir := filepath.Join(p.Dir, name)
		assert.Equal(t, git(t, dir, "rev-parse", "HEAD"), git(t, dir, "rev-parse", "origin/master"), name)
		assert.True(t, strings.HasPrefix(git(t, dir, "log", "-1", "--format=%s"), "GRUND: done up to commit "), name)
	}

	// Nothing new: the publish commits do not trigger another batch.
	out, err = execute(t, "run", "--config", p.Config, "--format", "json", p.Dir)
	require.NoError(t, err)
	res = decodeRun(t, out)
	assert.Equal(t, "noop", res[0].Report.Status)
}

func TestRun_IgnoredResultFileDoesNotBlockBatch(t *testing.T) {
	p := newGitProject(t)
	_, err := execute(t, "run", "--config", p.Config, p.Dir)
	require.NoError(t, err)

	results := filepath.Join(p.Dir, ResultsDir)
	require.NoError(t, os.WriteFile(filepath.Join(results, ".gitignore"), []byte("*.dat\n"), 0o644))
	git(t, results, "add", ".gitignore")
	git(t, results, "commit", "-q", "-m", "ignore data files")
	git(t, results, "push", "-q", "origin", "master")

	p.submit(t, "submit jobs", map[string]string{
		"active/bad/out.dat":       "x\n",
		"active/bad/grcmd.update":  "out.dat\n",
		"active/good/ok.txt":       "fine\n",
		"active/good/grcmd.update": "ok.txt\n",
	})
	jobsHead := git(t, filepath.Join(p.Dir, JobsDir), "rev-parse", "HEAD")

	out, err := execute(t, "run", "--config", p.Config, "--format", "json", p.Dir)
	require.NoError(t, err)
	res := decodeRun(t, out)
	require.Len(t, res, 1)
	rep := res[0].Report
	require.NotNil(t, rep)
	assert.Equal(t, "published", rep.Status)
	assert.Equal(t, jobsHead, rep.Target)
	require.Len(t, rep.Outcomes, 2)
	for _, o := range rep.Outcomes {
		assert.Empty(t, o.Error, o.JobDir)
	}
	assert.Equal(t, jobsHead+"\n", testutil.ReadFile(t, p.jobs(watermark.DefaultFile)))

	tracked := git(t, results, "ls-tree", "-r", "--name-only", "origin/master")
	assert.Contains(t, tracked, "active/good/ok.txt")
	assert.NotContains(t, tracked, "active/bad/out.dat")

	out, err = execute(t, "run", "--config", p.Config, "--format", "json", p.Dir)
	require.NoError(t, err)
	assert.Equal(t, "noop", decodeRun(t, out)[0].Report.Status)
}

func TestRun_TextOutputReportsSkips(t *testing.T) {
	p := newGitProject(t)
	_, err := execute(t, "run", "--config", p.Config, p.Dir)
	require.NoError(t, err)

	p.submit(t, "submit p2", map[string]string{
		"active/p2/grcmd.run": "",
	})

	out, err := execute(t, "run", "--config", p.Config, p.Dir)

	require.NoError(t, err)
	assert.Contains(t, out, "alpha: published, 1 directives (1 skipped)")
	assert.Contains(t, out, "skipped run in active/p2")
}

func TestRun_InvalidWorkingCopy(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, JobsDir), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ResultsDir), 0o755))

	out, err := execute(t, "run", "--format", "json", dir)

	require.Error(t, err)
	assert.Equal(t, ExitInvalidWorkingCopy, GetExitCode(err))
	res := decodeRun(t, out)
	require.Len(t, res, 1)
	assert.Nil(t, res[0].Report)
	assert.Equal(t, string(engine.ErrCodeInvalidWorkingCopy), res[0].Code)
}

func TestRun_ContinuesAfterFailedProject(t *testing.T) {
	p := newGitProject(t)
	bad := t.TempDir()

	out, err := execute(t, "run", "--config", p.Config, "--format", "json", bad, p.Dir)

	require.Error(t, err)
	assert.Equal(t, ExitInvalidWorkingCopy, GetExitCode(err))
	res := decodeRun(t, out)
	require.Len(t, res, 2)
	assert.NotEmpty(t, res[0].Error)
	require.NotNil(t, res[1].Report)
	assert.Equal(t, "bootstrap", res[1].Report.Status)
}

func TestScanStatusReset(t *testing.T) {
	p := newGitProject(t)

	out, err := execute(t, "scan", "--config", p.Config, "--format", "json", p.Dir)
	require.NoError(t, err)
	var scan struct {
		Data ScanResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &scan))
	assert.True(t, scan.Data.Bootstrap)

	_, err = execute(t, "run", "--config", p.Config, p.Dir)
	require.NoError(t, err)
	p.submit(t, "submit p1", map[string]string{
		"active/p1/grcmd.archive": "",
		"active/p1/grcmd.build":   "",
	})

	out, err = execute(t, "scan", "--config", p.Config, "--format", "json", p.Dir)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &scan))
	assert.False(t, scan.Data.Bootstrap)
	require.Len(t, scan.Data.Directives, 2)
	verbs := []string{scan.Data.Directives[0].Verb, scan.Data.Directives[1].Verb}
	assert.ElementsMatch(t, []string{"archive", "build"}, verbs)
	assert.Equal(t, "active/p1", scan.Data.Directives[0].JobDir)

	out, err = execute(t, "status", "--config", p.Config, p.Dir)
	require.NoError(t, err)
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "pending")

	out, err = execute(t, "reset", "--config", p.Config, "--format", "json", p.Dir)
	require.NoError(t, err)
	var reset struct {
		Data []ResetResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &reset))
	require.Len(t, reset.Data, 1)
	assert.Equal(t, git(t, filepath.Join(p.Dir, JobsDir), "rev-parse", "HEAD"), reset.Data[0].Watermark)

	out, err = execute(t, "scan", "--config", p.Config, "--format", "json", p.Dir)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &scan))
	assert.Empty(t, scan.Data.Directives)
}

func TestRun_JournalFeedsHistory(t *testing.T) {
	p := newGitProject(t)
	db := filepath.Join(t.TempDir(), "grund.db")

	_, err := execute(t, "run", "--config", p.Config, "--db", db, p.Dir)
	require.NoError(t, err)
	p.submit(t, "submit p1", map[string]string{"active/p1/grcmd.build": ""})
	_, err = execute(t, "run", "--config", p.Config, "--db", db, p.Dir)
	require.NoError(t, err)

	out, err := execute(t, "history", "--config", p.Config, "--db", db, "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Data []journal.Batch `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, journal.StatusPublished, resp.Data[0].Status)
	assert.Equal(t, journal.StatusBootstrap, resp.Data[1].Status)
	assert.Equal(t, "alpha", resp.Data[0].Project)

	out, err = execute(t, "history", "--config", p.Config, "--db", db, "--batch", resp.Data[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "(MISSING_RUNNER)")
}
