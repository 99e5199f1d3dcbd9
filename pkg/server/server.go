// Package server exposes the chat gateway over HTTP.
package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chatbot-gateway/pkg/gateway"
	"github.com/go-go-golems/chatbot-gateway/pkg/ollama"
)

const (
	DefaultPort         = 8001
	DefaultMaxBodyBytes = 1 << 20

	// DefaultWriteTimeout covers a turn queued behind another one on the same
	// session plus its own backend call.
	DefaultWriteTimeout = gateway.DefaultTurnWait + ollama.GenerateTimeout + 30*time.Second
)

type Settings struct {
	Addr          string
	MaxBodyBytes  int64
	SweepInterval time.Duration
}

// ModelLister lists the models a backend offers.
type ModelLister interface {
	ListModels(ctx context.Context, baseURL string) ([]string, error)
}

// Server owns the HTTP handlers and the listener lifecycle.
type Server struct {
	settings Settings
	orch     *gateway.Orchestrator
	models   ModelLister
	logger   zerolog.Logger
	now      func() time.Time

	mux    *http.ServeMux
	server *http.Server
}

func NewServer(s Settings, orch *gateway.Orchestrator, models ModelLister, logger zerolog.Logger) *Server {
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
	srv := &Server{
		settings: s,
		orch:     orch,
		models:   models,
		logger:   logger.With().Str("component", "server").Logger(),
		now:      time.Now,
		mux:      http.NewServeMux(),
	}
	srv.registerHTTPHandlers()

	srv.server = &http.Server{
		Addr:              s.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return srv
}

// Handler returns the routes wrapped with CORS handling.
func (s *Server) Handler() http.Handler {
	return withCORS(s.mux)
}

// Run serves until ctx is done or the process receives SIGINT/SIGTERM, then
// shuts down gracefully. The background session sweep runs alongside.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.settings.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.settings.Addr)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srvCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s.orch.StartSweepLoop(srvCtx, s.settings.SweepInterval)

	eg := errgroup.Group{}
	eg.Go(func() error {
		<-srvCtx.Done()
		s.logger.Info().Msg("shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("server shutdown error")
			return err
		}
		s.logger.Info().Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("starting chatbot gateway")
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("server listen error")
			stop()
			return err
		}
		return nil
	})

	return eg.Wait()
}
