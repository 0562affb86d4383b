package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/grund/internal/vlog/memlog"
)

// RunnerScript is the runner entry point name used by test fixtures. It is
// run through sh so tests need no python.
const RunnerScript = "grunter.sh"

// RunnerInterpreter runs RunnerScript.
const RunnerInterpreter = "sh"

// Runner is a job runner that understands a few verbs:
//
//	results  prints the names listed in job.outputs, one per line
//	fail     exits 3 with a message on stderr
//	*        appends the verb to job.status
const Runner = `case "$1" in
results) cat job.outputs 2>/dev/null ;;
fail) echo "runner failed" >&2; exit 3 ;;
*) echo "$1" >> job.status ;;
esac
`

// Project is a pair of in-memory logs over temporary working trees.
type Project struct {
	Root    string
	Jobs    *memlog.Log
	Results *memlog.Log
}

// NewProject creates root/jobs and root/results under t.TempDir().
func NewProject(t testing.TB) *Project {
	t.Helper()
	root := t.TempDir()
	jobs := filepath.Join(root, "jobs")
	results := filepath.Join(root, "results")
	require.NoError(t, os.MkdirAll(jobs, 0o755))
	require.NoError(t, os.MkdirAll(results, 0o755))
	return &Project{
		Root:    root,
		Jobs:    memlog.New("jobs", jobs),
		Results: memlog.New("results", results),
	}
}

// JobsPath joins slash-separated rel onto the jobs working tree.
func (p *Project) JobsPath(rel string) string {
	return filepath.Join(p.Jobs.Dir(), filepath.FromSlash(rel))
}

// ResultsPath joins slash-separated rel onto the results working tree.
func (p *Project) ResultsPath(rel string) string {
	return filepath.Join(p.Results.Dir(), filepath.FromSlash(rel))
}

// ReadFile returns the content of path, failing the test if it is missing.
func ReadFile(t testing.TB, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
