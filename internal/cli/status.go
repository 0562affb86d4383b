package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/grund/internal/engine"
)

// StatusResult is the status of one project.
type StatusResult struct {
	Project string             `json:"project"`
	Logs    []engine.LogStatus `json:"logs"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status <project-dir>...",
		Short:         "Show watermarks against local heads",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, args, cmd)
		},
	}
}

func runStatus(opts *RootOptions, dirs []string, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	eng := newEngine(cfg, nil)
	results := make([]StatusResult, 0, len(dirs))
	for _, dir := range dirs {
		p, err := openProject(ctx, cfg, dir)
		if err != nil {
			return reportFailure(out, "failed to open project", err)
		}
		logs, err := eng.Status(ctx, p)
		if err != nil {
			return reportFailure(out, "status failed", err)
		}
		results = append(results, StatusResult{Project: p.Name, Logs: logs})
	}

	return out.Emit(results, func(w io.Writer) {
		for _, r := range results {
			fmt.Fprintf(w, "%s\n", r.Project)
			for _, l := range r.Logs {
				state := "pending"
				switch {
				case l.Watermark == "":
					state = "no watermark"
				case l.UpToDate:
					state = "up to date"
				}
				fmt.Fprintf(w, "  %-8s %-12s head %-12s %s\n", l.Log, short(l.Watermark), short(l.Head), state)
			}
		}
	})
}
