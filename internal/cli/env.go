package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/roach88/attest/internal/compiler"
	"github.com/roach88/attest/internal/config"
	"github.com/roach88/attest/internal/ledger"
	"github.com/roach88/attest/internal/notify"
	"github.com/roach88/attest/internal/store"
	"github.com/roach88/attest/internal/store/memstore"
)

// env is everything a ledger command needs: configuration, a logger, the
// open backend and one facade per configured ledger.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	ledgers map[string]*ledger.Ledger
	names   []string
	closers []func() error
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, withCode(ErrCodeConfig, ExitCommandError, err)
	}
	if opts.Database != "" {
		cfg.Store.Driver = config.DriverSQLite
		cfg.Store.DSN = opts.Database
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs always go to w (stderr) so
// they never interleave with command output.
func newLogger(cfg config.LoggingConfig, verbose bool, w io.Writer) *slog.Logger {
	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func openBackend(cfg config.StoreConfig) (ledger.Backend, func() error, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memstore.New(), func() error { return nil }, nil
	case config.DriverPostgres:
		st, err := store.OpenPostgres(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		st, err := store.Open(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	}
}

// openEnv loads configuration, opens the store and the notifier, and
// builds a facade for every built-in and configured ledger. The caller
// must Close it.
func openEnv(opts *RootOptions, logOut io.Writer) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	e := &env{
		cfg:     cfg,
		logger:  newLogger(cfg.Logging, opts.Verbose, logOut),
		ledgers: make(map[string]*ledger.Ledger),
	}

	schemas, err := compiler.LoadWithBuiltins(cfg.Ledger.SchemasDir)
	if err != nil {
		return nil, withCode(compiler.ErrCodeLoadFailed, ExitCommandError, fmt.Errorf("load schemas: %w", err))
	}

	backend, closeBackend, err := openBackend(cfg.Store)
	if err != nil {
		return nil, withCode(ErrCodeStore, ExitCommandError, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err))
	}
	e.closers = append(e.closers, closeBackend)
	e.logger.Debug("store ready", "driver", cfg.Store.Driver)

	notifier, err := notify.FromConfig(cfg.Notify, e.logger)
	if err != nil {
		_ = e.Close()
		return nil, withCode(ErrCodeConfig, ExitCommandError, fmt.Errorf("notifier: %w", err))
	}
	e.closers = append(e.closers, notifier.Close)

	ledgerOpts := []ledger.Option{
		ledger.WithNotifier(notifier),
		ledger.WithLogger(e.logger),
	}
	if cfg.Telemetry.Enabled {
		ledgerOpts = append(ledgerOpts,
			ledger.WithTracerProvider(otel.GetTracerProvider()),
			ledger.WithMeterProvider(otel.GetMeterProvider()),
		)
	} else {
		ledgerOpts = append(ledgerOpts,
			ledger.WithTracerProvider(tracenoop.NewTracerProvider()),
			ledger.WithMeterProvider(metricnoop.NewMeterProvider()),
		)
	}

	for _, schema := range schemas {
		l, err := ledger.New(backend, schema, ledgerOpts...)
		if err != nil {
			_ = e.Close()
			return nil, withCode(compiler.ErrCodeCompile, ExitCommandError, err)
		}
		e.ledgers[l.Name()] = l
		e.names = append(e.names, l.Name())
	}
	sort.Strings(e.names)
	return e, nil
}

// lookup returns the named ledger.
func (e *env) lookup(name string) (*ledger.Ledger, error) {
	l, ok := e.ledgers[name]
	if !ok {
		return nil, withCode(ErrCodeUnknownLedger, ExitCommandError,
			fmt.Errorf("unknown ledger %q (have %s)", name, strings.Join(e.names, ", ")))
	}
	return l, nil
}

// all returns every ledger in name order.
func (e *env) all() []*ledger.Ledger {
	out := make([]*ledger.Ledger, len(e.names))
	for i, name := range e.names {
		out[i] = e.ledgers[name]
	}
	return out
}

// Close releases the notifier and the store, last opened first.
func (e *env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
