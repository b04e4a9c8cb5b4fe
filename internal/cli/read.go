package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/attest/internal/ledger"
)

// ListResult is the output of list.
type ListResult struct {
	Ledger  string          `json:"ledger"`
	Party   ledger.Identity `json:"party"`
	Index   string          `json:"index,omitempty"`
	Records []RecordView    `json:"records"`
}

func (r ListResult) renderText(w io.Writer) {
	if len(r.Records) == 0 {
		fmt.Fprintf(w, "No records for %s.\n", r.Party)
		return
	}
	for _, rec := range r.Records {
		fmt.Fprintf(w, "%d\t%s\t%d\n", rec.Seq, rec.Key, rec.Timestamp)
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <ledger> <key>",
		Short: "Show one record",
		Long: `Show the record stored under key. Exits 1 with E306 if there is none.

Example:
  attest get project-publication proj-42 --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			e, err := openEnv(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return f.Fail(err)
			}
			defer e.Close()

			l, err := e.lookup(args[0])
			if err != nil {
				return f.Fail(err)
			}
			rec, ok, err := l.Get(cmd.Context(), args[1])
			if err != nil {
				return f.Fail(err)
			}
			if !ok {
				return f.Fail(withCode(ErrCodeNotFound, ExitFailure,
					fmt.Errorf("no record %q in %s", args[1], args[0])))
			}
			return f.Success(RecordView{rec})
		},
	}
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Index string
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list <ledger> <party>",
		Short: "List the records naming a party",
		Long: `List the records naming a party in the order they were written. With
--index only that index dimension is read; otherwise every dimension is
merged.

Example:
  attest list task-record client-1 --index client`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, args[0], ledger.Identity(args[1]), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Index, "index", "", "index dimension to read (default: all)")

	return cmd
}

func runList(opts *ListOptions, ledgerName string, party ledger.Identity, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	e, err := openEnv(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return f.Fail(err)
	}
	defer e.Close()

	l, err := e.lookup(ledgerName)
	if err != nil {
		return f.Fail(err)
	}

	var records []ledger.Record
	if opts.Index != "" {
		records, err = l.ListByIndex(cmd.Context(), opts.Index, party)
	} else {
		records, err = l.ListByParty(cmd.Context(), party)
	}
	if err != nil {
		return f.Fail(err)
	}

	views := make([]RecordView, len(records))
	for i, rec := range records {
		views[i] = RecordView{rec}
	}
	return f.Success(ListResult{Ledger: ledgerName, Party: party, Index: opts.Index, Records: views})
}
