package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/attest/internal/ledger"
	"github.com/roach88/attest/internal/notify"
)

// OutboxReport summarizes the notification outbox check.
type OutboxReport struct {
	Path     string `json:"path"`
	Entries  uint64 `json:"entries"`
	LastHash string `json:"last_hash,omitempty"`
	Problem  string `json:"problem,omitempty"`
}

// VerifyResult is the output of verify.
type VerifyResult struct {
	Ledgers []LedgerAudit `json:"ledgers"`
	Outbox  *OutboxReport `json:"outbox,omitempty"`
	OK      bool          `json:"ok"`
}

// LedgerAudit is one ledger's audit plus its admin.
type LedgerAudit struct {
	ledger.AuditReport
	Admin ledger.Identity `json:"admin,omitempty"`
}

func (r VerifyResult) renderText(w io.Writer) {
	for _, a := range r.Ledgers {
		mark := "✓"
		if !a.OK() {
			mark = "✗"
		}
		admin := string(a.Admin)
		if admin == "" {
			admin = "(uninitialized)"
		}
		fmt.Fprintf(w, "%s %s: %d records, sequence %d, admin %s\n", mark, a.Ledger, a.Records, a.Sequence, admin)
		for _, p := range a.Problems {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
	if o := r.Outbox; o != nil {
		if o.Problem != "" {
			fmt.Fprintf(w, "✗ outbox %s: %s\n", o.Path, o.Problem)
		} else {
			fmt.Fprintf(w, "✓ outbox %s: %d entries\n", o.Path, o.Entries)
		}
	}
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [ledger...]",
		Short: "Audit stored ledgers and the notification outbox",
		Long: `Re-read every record and check digests, sequence continuity and index
membership. With no arguments every ledger is audited. If notify.outbox_path
is configured, the outbox hash chain is checked too.

Exit codes:
  0 - No problems found
  1 - One or more problems found
  2 - Command error

Example:
  attest verify --db attest.db
  attest verify task-record --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, args, cmd)
		},
	}
}

func runVerify(opts *RootOptions, names []string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	e, err := openEnv(opts, cmd.ErrOrStderr())
	if err != nil {
		return f.Fail(err)
	}
	defer e.Close()

	targets := e.all()
	if len(names) > 0 {
		targets = targets[:0]
		for _, name := range names {
			l, err := e.lookup(name)
			if err != nil {
				return f.Fail(err)
			}
			targets = append(targets, l)
		}
	}

	result := VerifyResult{Ledgers: make([]LedgerAudit, 0, len(targets)), OK: true}
	for _, l := range targets {
		f.VerboseLog("Auditing %s", l.Name())
		report, err := l.Audit(cmd.Context())
		if err != nil {
			return f.Fail(err)
		}
		admin, _, err := l.Admin(cmd.Context())
		if err != nil {
			return f.Fail(err)
		}
		result.Ledgers = append(result.Ledgers, LedgerAudit{AuditReport: report, Admin: admin})
		if !report.OK() {
			result.OK = false
		}
	}

	if path := e.cfg.Notify.OutboxPath; path != "" {
		n, last, err := notify.VerifyOutbox(path)
		result.Outbox = &OutboxReport{Path: path, Entries: n, LastHash: last}
		if err != nil {
			result.Outbox.Problem = err.Error()
			result.OK = false
		}
	}

	if err := f.Success(result); err != nil {
		return err
	}
	if !result.OK {
		return NewExitError(ExitFailure, "verification found problems")
	}
	return nil
}
