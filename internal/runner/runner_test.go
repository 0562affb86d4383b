package runner

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func writeScript(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.sh"), []byte(body), 0o755))
}

func TestExec_Missing(t *testing.T) {
	e := NewExec("run.sh", "sh")
	dir := t.TempDir()

	assert.False(t, e.Available(dir))
	_, err := e.Run(context.Background(), dir, "submit")
	assert.True(t, errors.Is(err, ErrMissing))
}

func TestExec_DirectoryIsNotARunner(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "run.sh"), 0o755))

	assert.False(t, NewExec("run.sh", "sh").Available(dir))
}

func TestExec_PassesArgAndWorkingDir(t *testing.T) {
	requireSh(t)
	dir := t.TempDir()
	writeScript(t, dir, "echo \"$1\" > arg.txt\necho out1\necho\necho out2\n")

	res, err := NewExec("run.sh", "sh").Run(context.Background(), dir, ResultsArg)

	require.NoError(t, err)
	assert.Equal(t, []string{"out1", "out2"}, res.Lines())
	data, err := os.ReadFile(filepath.Join(dir, "arg.txt"))
	require.NoError(t, err)
	assert.Equal(t, "results\n", string(data))
}

func TestExec_NonZeroExit(t *testing.T) {
	requireSh(t)
	dir := t.TempDir()
	writeScript(t, dir, "echo boom >&2\nexit 3\n")

	_, err := NewExec("run.sh", "sh").Run(context.Background(), dir, "submit")

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, "boom", exitErr.Stderr)
}

func TestExec_DirectInvocation(t *testing.T) {
	requireSh(t)
	dir := t.TempDir()
	writeScript(t, dir, "#!/bin/sh\necho direct\n")

	res, err := NewExec("run.sh", "").Run(context.Background(), dir, "x")

	require.NoError(t, err)
	assert.Equal(t, []string{"direct"}, res.Lines())
}

func TestAction_Run(t *testing.T) {
	requireSh(t)
	dir := t.TempDir()
	a := Action{Argv: []string{"sh", "-c", "echo \"$0 $1\"", "newproj"}, Dir: dir}

	out, err := a.Run(context.Background(), "alpha")

	require.NoError(t, err)
	assert.Equal(t, "newproj alpha\n", string(out))
}

func TestAction_NotConfigured(t *testing.T) {
	_, err := Action{}.Run(context.Background(), "x")
	assert.Error(t, err)
}

func TestLines(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Lines("a\r\n\n  b  \n"))
	assert.Nil(t, Lines(""))
}
