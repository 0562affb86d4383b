package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// ResetResult is the new watermark of one project.
type ResetResult struct {
	Project   string `json:"project"`
	Watermark string `json:"watermark"`
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <project-dir>...",
		Short: "Mark everything committed so far as processed",
		Long: `Pull the jobs working copy and move its watermark to the head. Commands
committed before the reset are never dispatched. The new watermark is
published with the next batch that dispatches something.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(rootOpts, args, cmd)
		},
	}
}

func runReset(opts *RootOptions, dirs []string, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	eng := newEngine(cfg, nil)
	results := make([]ResetResult, 0, len(dirs))
	for _, dir := range dirs {
		p, err := openProject(ctx, cfg, dir)
		if err != nil {
			return reportFailure(out, "failed to open project", err)
		}
		rev, err := eng.Reset(ctx, p)
		if err != nil {
			return reportFailure(out, "reset failed", err)
		}
		results = append(results, ResetResult{Project: p.Name, Watermark: rev})
	}

	return out.Emit(results, func(w io.Writer) {
		for _, r := range results {
			fmt.Fprintf(w, "%s: watermark reset to %s\n", r.Project, short(r.Watermark))
		}
	})
}
