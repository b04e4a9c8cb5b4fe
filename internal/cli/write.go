package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/attest/internal/api"
	"github.com/roach88/attest/internal/auth"
	"github.com/roach88/attest/internal/ledger"
)

// InitResult is the output of init.
type InitResult struct {
	Ledger string          `json:"ledger"`
	Admin  ledger.Identity `json:"admin"`
}

func (r InitResult) renderText(w io.Writer) {
	fmt.Fprintf(w, "✓ Initialized %s\n", r.Ledger)
	fmt.Fprintf(w, "Admin: %s\n", r.Admin)
}

// RecordView renders a record.
type RecordView struct {
	ledger.Record
}

func (r RecordView) renderText(w io.Writer) {
	fmt.Fprintf(w, "%s/%s (seq %d)\n", r.Ledger, r.Key, r.Seq)
	roles := make([]string, 0, len(r.Parties))
	for role := range r.Parties {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		fmt.Fprintf(w, "  %s: %s\n", role, r.Parties[role])
	}
	for _, name := range r.Fields.SortedKeys() {
		fmt.Fprintf(w, "  .%s = %v\n", name, r.Fields[name])
	}
	fmt.Fprintf(w, "  timestamp:   %d\n", r.Timestamp)
	fmt.Fprintf(w, "  recorded_at: %d\n", r.RecordedAt)
	fmt.Fprintf(w, "  digest:      %s\n", r.Digest)
}

// WriteOptions holds flags shared by init and record.
type WriteOptions struct {
	*RootOptions
	KeyPath string
	Admin   string
	Body    string
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init <ledger>",
		Short: "Register the admin identity of a ledger",
		Long: `Register the admin identity of a ledger. This succeeds once per ledger;
the caller (the identity of --key) must be the admin being registered.

Example:
  attest init task-record --key admin.key --db attest.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.KeyPath, "key", "", "path to the caller's key (required)")
	cmd.Flags().StringVar(&opts.Admin, "admin", "", "admin identity (defaults to the caller)")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}

func runInit(opts *WriteOptions, ledgerName string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	key, err := readKey(opts.KeyPath)
	if err != nil {
		return f.Fail(err)
	}
	caller := auth.IdentityOf(key)
	admin := ledger.Identity(opts.Admin)
	if admin == "" {
		admin = caller
	}

	e, err := openEnv(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return f.Fail(err)
	}
	defer e.Close()

	l, err := e.lookup(ledgerName)
	if err != nil {
		return f.Fail(err)
	}
	f.VerboseLog("Initializing %s as %s", ledgerName, caller)
	if err := l.Initialize(cmd.Context(), caller, admin); err != nil {
		return f.Fail(err)
	}
	return f.Success(InitResult{Ledger: ledgerName, Admin: admin})
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record <ledger>",
		Short: "Append a record",
		Long: `Append a record to a ledger as the identity of --key. The body has the
same shape as the HTTP record body:

  {"key": "...", "parties": {"role": "identity"}, "fields": {...}, "timestamp": 1700000000}

"key" is required for caller-keyed ledgers and must be omitted for
sequence-keyed ones.

Example:
  attest record task-record --key admin.key --body @outcome.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.KeyPath, "key", "", "path to the caller's key (required)")
	cmd.Flags().StringVar(&opts.Body, "body", "", "record body: JSON, @file, or - for stdin (required)")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("body")

	return cmd
}

func runRecord(opts *WriteOptions, ledgerName string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	key, err := readKey(opts.KeyPath)
	if err != nil {
		return f.Fail(err)
	}
	raw, err := readBody(opts.Body, cmd.InOrStdin())
	if err != nil {
		return f.Fail(err)
	}
	body, err := api.DecodeRecordBody(raw)
	if err != nil {
		return f.Fail(withCode(ErrCodeBody, ExitCommandError, err))
	}

	e, err := openEnv(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return f.Fail(err)
	}
	defer e.Close()

	l, err := e.lookup(ledgerName)
	if err != nil {
		return f.Fail(err)
	}
	rec, err := l.Record(cmd.Context(), auth.IdentityOf(key), body.Request())
	if err != nil {
		return f.Fail(err)
	}
	f.VerboseLog("Recorded %s/%s at seq %d", rec.Ledger, rec.Key, rec.Seq)
	return f.Success(RecordView{rec})
}
