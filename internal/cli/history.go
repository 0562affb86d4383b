package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/grund/internal/journal"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Project  string
	Batch    string
	Limit    int
}

// BatchDetail is one batch with its directives and publishes.
type BatchDetail struct {
	journal.Batch
	Directives []journal.DirectiveRecord `json:"directives"`
	Publishes  []journal.PublishRecord   `json:"publishes"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent batches from the journal",
		Long: `List recent batches recorded in the journal, newest first, or show one
batch in detail with --batch.

Examples:
  grund history --db ./grund.db
  grund history --db ./grund.db --project alpha --limit 5
  grund history --db ./grund.db --batch 0190c1e2-... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (default: config journal)")
	cmd.Flags().StringVar(&opts.Project, "project", "", "only batches of this project")
	cmd.Flags().StringVar(&opts.Batch, "batch", "", "show one batch in detail")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of batches")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	st, err := openJournal(opts.Database, cfg)
	if err != nil {
		return err
	}
	if st == nil {
		return NewExitError(ExitCommandError, "no journal: pass --db or set journal in grund.yaml")
	}
	defer closeJournal(st)

	ctx := context.Background()
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	if opts.Batch != "" {
		detail, err := readBatchDetail(ctx, st, opts.Batch)
		if errors.Is(err, sql.ErrNoRows) {
			return NewExitError(ExitCommandError, fmt.Sprintf("batch %q not found", opts.Batch))
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read batch", err)
		}
		return out.Emit(detail, func(w io.Writer) { writeBatchDetail(w, detail) })
	}

	batches, err := st.RecentBatches(ctx, opts.Project, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	return out.Emit(batches, func(w io.Writer) {
		if len(batches) == 0 {
			fmt.Fprintln(w, "No batches recorded.")
			return
		}
		for _, b := range batches {
			fmt.Fprintf(w, "%s  %-10s %-10s %s", b.StartedAt.UTC().Format("2006-01-02 15:04:05"), b.Project, b.Status, b.ID)
			if b.Error != "" {
				fmt.Fprintf(w, "  %s", b.Error)
			}
			fmt.Fprintln(w)
		}
	})
}

func readBatchDetail(ctx context.Context, st *journal.Store, id string) (BatchDetail, error) {
	b, err := st.ReadBatch(ctx, id)
	if err != nil {
		return BatchDetail{}, err
	}
	ds, err := st.Directives(ctx, id)
	if err != nil {
		return BatchDetail{}, err
	}
	ps, err := st.Publishes(ctx, id)
	if err != nil {
		return BatchDetail{}, err
	}
	return BatchDetail{Batch: b, Directives: ds, Publishes: ps}, nil
}

func writeBatchDetail(w io.Writer, d BatchDetail) {
	fmt.Fprintf(w, "Batch %s (%s)\n", d.ID, d.Project)
	fmt.Fprintf(w, "  status: %s\n", d.Status)
	if d.JobsFrom != "" || d.JobsTo != "" {
		fmt.Fprintf(w, "  range:  %s..%s\n", short(d.JobsFrom), short(d.JobsTo))
	}
	if d.Error != "" {
		fmt.Fprintf(w, "  error:  %s\n", d.Error)
	}
	if len(d.Directives) > 0 {
		fmt.Fprintln(w, "Directives:")
		for _, r := range d.Directives {
			fmt.Fprintf(w, "  [%d] %-8s %-16s %s", r.Seq, r.Outcome, r.Verb, r.JobDir)
			if r.Code != "" {
				fmt.Fprintf(w, " (%s)", r.Code)
			}
			fmt.Fprintln(w)
		}
	}
	if len(d.Publishes) > 0 {
		fmt.Fprintln(w, "Publishes:")
		for _, p := range d.Publishes {
			state := "ok"
			if !p.OK {
				state = "failed: " + p.Error
			}
			fmt.Fprintf(w, "  [%d] %-8s -> %s %s\n", p.Seq, p.Log, short(p.Target), state)
		}
	}
}
