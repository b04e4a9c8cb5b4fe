package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/roach88/attest/internal/api"
	"github.com/roach88/attest/internal/auth"
	"github.com/roach88/attest/internal/config"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve ledgers over HTTP",
		Long: `Serve every built-in and configured ledger over HTTP until interrupted.

Reads are open. Writes need an intent token signed by the caller's key
(see "attest token").

Example:
  attest serve --config attest.yaml
  attest serve --db attest.db --addr :8080`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides http.addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	e, err := openEnv(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return f.Fail(err)
	}
	defer func() {
		if closeErr := e.Close(); closeErr != nil {
			e.logger.Error("error closing store", "error", closeErr)
		}
	}()

	addr := e.cfg.HTTP.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}
	verifier := auth.NewVerifier(e.cfg.Auth.Audience, e.cfg.Auth.MaxTokenAge, replayOption(e.cfg.Auth.Replay))
	srv, err := api.NewServer(e.all(), verifier,
		api.WithAddr(addr),
		api.WithRateLimit(e.cfg.HTTP.RateLimit, e.cfg.HTTP.Burst),
		api.WithLogger(e.logger),
	)
	if err != nil {
		return f.Fail(withCode(ErrCodeServer, ExitCommandError, err))
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx); err != nil {
		return f.Fail(withCode(ErrCodeServer, ExitFailure, err))
	}
	return nil
}

// replayOption shares used token ids through Redis when configured, so a
// token accepted by one server is refused by the others.
func replayOption(cfg config.ReplayConfig) auth.VerifierOption {
	if cfg.Addr == "" {
		return auth.WithReplayCache(nil)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return auth.WithReplayCache(auth.NewRedisReplayCache(client, cfg.Prefix))
}
