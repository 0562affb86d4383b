// Package runner invokes the user-supplied job runner and other external
// actions.
//
// The job runner is an executable checked into each job directory
// (grunter.py by default). It is run with the job directory as working
// directory and a single argument: the command verb, or "results" when the
// engine wants the list of files to publish. Standard output of a "results"
// call is one produced file name per line.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ResultsArg is the argument that asks the runner for its output files.
const ResultsArg = "results"

// DefaultScript and DefaultInterpreter match the conventional python runner.
const (
	DefaultScript      = "grunter.py"
	DefaultInterpreter = "python3"
)

// ErrMissing is returned when a job directory has no runner entry point.
var ErrMissing = errors.New("job runner not found")

// ExitError reports a runner that ran but exited abnormally.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("job runner exited with status %d: %s", e.Code, e.Stderr)
	}
	return fmt.Sprintf("job runner exited with status %d", e.Code)
}

// Result is the captured output of one runner call.
type Result struct {
	Stdout []byte
	Stderr []byte
}

// Lines returns the non-empty lines of stdout.
func (r *Result) Lines() []string {
	return Lines(string(r.Stdout))
}

// Runner runs the job runner of a job directory.
type Runner interface {
	// Available reports whether jobDir holds a runner entry point.
	Available(jobDir string) bool

	// Run invokes the runner in jobDir with arg. Returns ErrMissing when
	// there is no entry point and *ExitError on a non-zero exit.
	Run(ctx context.Context, jobDir, arg string) (*Result, error)
}

// Exec runs the entry point as a child process.
type Exec struct {
	// Script is the entry point file name inside the job directory.
	Script string
	// Interpreter, when set, is run with the script path as first
	// argument. Empty runs the script directly.
	Interpreter string
}

var _ Runner = (*Exec)(nil)

// NewExec returns an Exec with defaults filled in.
func NewExec(script, interpreter string) *Exec {
	if script == "" {
		script = DefaultScript
	}
	return &Exec{Script: script, Interpreter: interpreter}
}

func (e *Exec) Available(jobDir string) bool {
	info, err := os.Stat(filepath.Join(jobDir, e.Script))
	return err == nil && info.Mode().IsRegular()
}

func (e *Exec) Run(ctx context.Context, jobDir, arg string) (*Result, error) {
	if !e.Available(jobDir) {
		return nil, fmt.Errorf("%s in %s: %w", e.Script, jobDir, ErrMissing)
	}

	var cmd *exec.Cmd
	if e.Interpreter != "" {
		cmd = exec.CommandContext(ctx, e.Interpreter, e.Script, arg)
	} else {
		cmd = exec.CommandContext(ctx, "./"+e.Script, arg)
	}
	cmd.Dir = jobDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, &ExitError{Code: exitErr.ExitCode(), Stderr: strings.TrimSpace(stderr.String())}
		}
		return res, fmt.Errorf("start job runner: %w", err)
	}
	return res, nil
}

// Action is an external command with fixed leading arguments, such as the
// project bootstrap script.
type Action struct {
	Argv []string
	Dir  string
}

// Run executes the action with extra arguments appended and returns its
// combined output.
func (a Action) Run(ctx context.Context, args ...string) ([]byte, error) {
	if len(a.Argv) == 0 {
		return nil, errors.New("external action not configured")
	}
	argv := append(append([]string(nil), a.Argv[1:]...), args...)
	cmd := exec.CommandContext(ctx, a.Argv[0], argv...)
	cmd.Dir = a.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s: %w", strings.Join(a.Argv, " "), err)
	}
	return out, nil
}

// Lines splits s into trimmed, non-empty lines.
func Lines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
