// Package api serves ledgers over HTTP.
//
// Reads are open. Writes carry an intent token in the Authorization header
// (see package auth); the identity it proves is the caller handed to the
// ledger, which decides whether that identity may write.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/roach88/attest/internal/auth"
	"github.com/roach88/attest/internal/ledger"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = 5 * time.Second
	maxBodyBytes           = 1 << 20
)

// Server is the HTTP front end for a set of ledgers.
type Server struct {
	ledgers  map[string]*ledger.Ledger
	names    []string
	verifier *auth.Verifier
	bodies   *bodyValidator
	limiter  *rate.Limiter
	logger   *slog.Logger
	addr     string
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithRateLimit throttles write requests to rps per second with the given
// burst. A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a server for ledgers. Ledger names must be unique.
func NewServer(ledgers []*ledger.Ledger, verifier *auth.Verifier, opts ...Option) (*Server, error) {
	if verifier == nil {
		return nil, errors.New("api: nil verifier")
	}
	bodies, err := newBodyValidator()
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}

	s := &Server{
		ledgers:  make(map[string]*ledger.Ledger, len(ledgers)),
		verifier: verifier,
		bodies:   bodies,
		logger:   slog.Default(),
		addr:     "127.0.0.1:8080",
	}
	for _, l := range ledgers {
		if _, dup := s.ledgers[l.Name()]; dup {
			return nil, fmt.Errorf("api: duplicate ledger %q", l.Name())
		}
		s.ledgers[l.Name()] = l
		s.names = append(s.names, l.Name())
	}
	sort.Strings(s.names)

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/v1/ledgers", func(r chi.Router) {
		r.Get("/", s.handleListLedgers)
		r.Route("/{ledger}", func(r chi.Router) {
			r.Get("/", s.handleLedgerInfo)
			r.Get("/records/{key}", s.handleGetRecord)
			r.Get("/parties/{party}/records", s.handleListByParty)

			r.Group(func(r chi.Router) {
				r.Use(s.limitWrites)
				r.Post("/initialize", s.handleInitialize)
				r.Post("/records", s.handleRecord)
			})
		})
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server started", "addr", s.addr, "ledgers", s.names)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) limitWrites(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			s.writeJSON(w, http.StatusTooManyRequests, newErrorResponse(CodeRateLimited, "write rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
