package cli

import (
	"crypto/ed25519"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/attest/internal/auth"
	"github.com/roach88/attest/internal/ledger"
)

// KeyResult is the output of keygen.
type KeyResult struct {
	Path     string          `json:"path"`
	Identity ledger.Identity `json:"identity"`
}

func (r KeyResult) renderText(w io.Writer) {
	fmt.Fprintf(w, "✓ Wrote %s\n", r.Path)
	fmt.Fprintf(w, "Identity: %s\n", r.Identity)
}

// TokenResult is the output of token.
type TokenResult struct {
	Op       string          `json:"op"`
	Ledger   string          `json:"ledger"`
	Identity ledger.Identity `json:"identity"`
	Token    string          `json:"token"`
}

func (r TokenResult) renderText(w io.Writer) {
	fmt.Fprintln(w, r.Token)
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen <path>",
		Short: "Generate an Ed25519 identity key",
		Long: `Generate an Ed25519 private key and write it to path with owner-only
permissions. The identity derived from the key is printed; use it as the
admin when initializing a ledger. An existing file is never overwritten.

Example:
  attest keygen ~/.attest/admin.key`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			key, err := auth.GenerateKey()
			if err != nil {
				return f.Fail(err)
			}
			if err := auth.WritePrivateKey(args[0], key); err != nil {
				return f.Fail(withCode(ErrCodeKey, ExitCommandError, err))
			}
			return f.Success(KeyResult{Path: args[0], Identity: auth.IdentityOf(key)})
		},
	}
}

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	KeyPath string
	Body    string
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token <initialize|record> <ledger>",
		Short: "Issue an intent token for an HTTP write",
		Long: `Sign an intent token authorizing one write of exactly the given body.
The audience comes from auth.audience in the config file. Send the token
as "Authorization: Bearer <token>" together with the same body.

Example:
  attest token record task-record --key admin.key --body @outcome.json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.KeyPath, "key", "", "path to the signing key (required)")
	cmd.Flags().StringVar(&opts.Body, "body", "", "request body: JSON, @file, or - for stdin (required)")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("body")

	return cmd
}

func runToken(opts *TokenOptions, op, ledgerName string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	switch op {
	case auth.OpInitialize, auth.OpRecord:
	default:
		return f.Fail(withCode(ErrCodeGeneric, ExitCommandError,
			fmt.Errorf("unknown operation %q: must be %s or %s", op, auth.OpInitialize, auth.OpRecord)))
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return f.Fail(err)
	}
	key, err := readKey(opts.KeyPath)
	if err != nil {
		return f.Fail(err)
	}
	body, err := readBody(opts.Body, cmd.InOrStdin())
	if err != nil {
		return f.Fail(err)
	}

	signer := auth.NewSigner(key, cfg.Auth.Audience)
	token, err := signer.Sign(op, ledgerName, body)
	if err != nil {
		return f.Fail(err)
	}
	return f.Success(TokenResult{Op: op, Ledger: ledgerName, Identity: signer.Identity(), Token: token})
}

func readKey(path string) (ed25519.PrivateKey, error) {
	key, err := auth.ReadPrivateKey(path)
	if err != nil {
		return nil, withCode(ErrCodeKey, ExitCommandError, err)
	}
	return key, nil
}

// readBody resolves a --body value: "@path" reads a file, "-" reads stdin,
// anything else is the body itself.
func readBody(value string, stdin io.Reader) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case value == "-":
		data, err = io.ReadAll(stdin)
	case strings.HasPrefix(value, "@"):
		data, err = os.ReadFile(value[1:])
	default:
		data = []byte(value)
	}
	if err != nil {
		return nil, withCode(ErrCodeBody, ExitCommandError, fmt.Errorf("read body: %w", err))
	}
	return data, nil
}
