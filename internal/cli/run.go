package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/grund/internal/engine"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
}

// ProjectResult is the outcome of one project in a run.
type ProjectResult struct {
	Project string         `json:"project"`
	Report  *engine.Report `json:"report,omitempty"`
	Code    string         `json:"code,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <project-dir>...",
		Short: "Process new commands in each project once",
		Long: `Run one batch per project directory.

Each batch pulls both working copies, dispatches the command files
committed since the jobs watermark and publishes results and watermarks.
The first run in a project only records the current heads.

Directive failures are reported but do not fail the command. The exit
code is 1 if a sync failure aborted a batch and 3 if a project directory
is not a pair of git working copies.

Example:
  grund run ./projects/alpha ./projects/beta
  grund run --db ./grund.db --format json ./projects/alpha`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjects(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (default: config journal, none if unset)")

	return cmd
}

func runProjects(opts *RunOptions, dirs []string, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	st, err := openJournal(opts.Database, cfg)
	if err != nil {
		return err
	}
	defer closeJournal(st)

	eng := newEngine(cfg, st)

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	results := make([]ProjectResult, 0, len(dirs))
	code := ExitSuccess
	for _, dir := range dirs {
		res := ProjectResult{Project: dir}
		out.VerboseLog("processing %s", dir)
		p, err := openProject(ctx, cfg, dir)
		if err == nil {
			res.Project = p.Name
			res.Report, err = eng.Process(ctx, p)
		}
		if err != nil {
			res.Error = err.Error()
			var ee *engine.Error
			if errors.As(err, &ee) {
				res.Code = string(ee.Code)
			}
			slog.Error("project failed", "project", res.Project, "error", err)
			code = max(code, exitCodeFor(err))
		}
		results = append(results, res)
		if ctx.Err() != nil {
			break
		}
	}

	if err := out.Emit(results, func(w io.Writer) { writeRunText(w, results) }); err != nil {
		return err
	}
	if code != ExitSuccess {
		return NewExitError(code, fmt.Sprintf("%d of %d projects failed", countFailed(results), len(dirs)))
	}
	return nil
}

func countFailed(results []ProjectResult) int {
	n := 0
	for _, r := range results {
		if r.Error != "" {
			n++
		}
	}
	return n
}

func writeRunText(w io.Writer, results []ProjectResult) {
	for _, r := range results {
		if r.Report == nil {
			fmt.Fprintf(w, "%s: error: %s\n", r.Project, r.Error)
			continue
		}
		rep := r.Report
		fmt.Fprintf(w, "%s: %s", r.Project, rep.Status)
		if n := len(rep.Outcomes); n > 0 {
			fmt.Fprintf(w, ", %d directives (%d skipped)", n, rep.Skipped())
		}
		if rep.Target != "" {
			fmt.Fprintf(w, ", jobs at %s", short(rep.Target))
		}
		fmt.Fprintln(w)
		for _, o := range rep.Outcomes {
			if !o.Applied() {
				fmt.Fprintf(w, "  skipped %s in %s: %s\n", o.Verb, o.JobDir, o.Error)
			}
		}
		if r.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", r.Error)
		}
	}
}

// short abbreviates a git revision for text output.
func short(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
