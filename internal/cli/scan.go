package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// PendingDirective is one directive a dry run found.
type PendingDirective struct {
	Revision string `json:"revision"`
	Verb     string `json:"verb"`
	JobDir   string `json:"job_dir"`
}

// ScanResult is the output of the scan command.
type ScanResult struct {
	Project       string             `json:"project"`
	Bootstrap     bool               `json:"bootstrap"`
	Watermark     string             `json:"watermark,omitempty"`
	Head          string             `json:"head"`
	Revisions     int                `json:"revisions"`
	SelfRevisions int                `json:"self_revisions"`
	Directives    []PendingDirective `json:"directives"`
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <project-dir>",
		Short: "List the commands the next run would dispatch",
		Long: `Scan the local jobs working copy from its watermark to its head and list
the command directives found, without pulling, running or committing
anything.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(rootOpts, args[0], cmd)
		},
	}
}

func runScan(opts *RootOptions, dir string, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	p, err := openProject(ctx, cfg, dir)
	if err != nil {
		return reportFailure(out, "failed to open project", err)
	}
	pend, err := newEngine(cfg, nil).Pending(ctx, p)
	if err != nil {
		return reportFailure(out, "scan failed", err)
	}

	res := ScanResult{
		Project:       pend.Project,
		Bootstrap:     pend.Bootstrap,
		Watermark:     pend.Watermark,
		Head:          pend.Head,
		Revisions:     pend.Revisions,
		SelfRevisions: pend.SelfRevisions,
		Directives:    []PendingDirective{},
	}
	for _, d := range pend.Directives {
		res.Directives = append(res.Directives, PendingDirective{Revision: d.Revision, Verb: d.Name, JobDir: d.JobDir})
	}

	return out.Emit(res, func(w io.Writer) {
		if res.Bootstrap {
			fmt.Fprintf(w, "%s: no watermark, next run bootstraps at %s\n", res.Project, short(res.Head))
			return
		}
		fmt.Fprintf(w, "%s: %d pending directives in %d revisions (%d own)\n",
			res.Project, len(res.Directives), res.Revisions, res.SelfRevisions)
		for _, d := range res.Directives {
			fmt.Fprintf(w, "  %s %s %s\n", short(d.Revision), d.Verb, d.JobDir)
		}
	})
}
