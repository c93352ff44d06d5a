// Package server runs gbasic as a service: the cron scheduler, the script
// watcher and an HTTP API for compiling and running scripts.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/GeneralBots/BotServer-sub001/internal/engine"
)

// Server is the gbasic service.
type Server struct {
	engine      *engine.Engine
	transcripts *Transcripts
	addr        string
	watch       bool
	logger      *slog.Logger
}

// Config holds configuration for the server.
type Config struct {
	Engine *engine.Engine
	// Transcripts must be the dialog channel the engine was built with.
	Transcripts *Transcripts
	Addr        string
	Watch       bool
	Logger      *slog.Logger
}

// New creates a new server instance.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tr := cfg.Transcripts
	if tr == nil {
		tr = NewTranscripts()
	}
	return &Server{
		engine:      cfg.Engine,
		transcripts: tr,
		addr:        cfg.Addr,
		watch:       cfg.Watch,
		logger:      logger,
	}
}

// Handler returns the HTTP API.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.Compress(5),
	)
	s.SetupRoutes(r)
	s.engine.Sandbox().SetupRoutes(r)
	return r
}

// Serve restores published scripts, then runs the scheduler, the watcher
// and the HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	programs, jobs, err := s.engine.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	result, err := s.engine.Discover(ctx, engine.DiscoveryOptions{})
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	s.logger.Info("scripts loaded", "restored", programs, "jobs", jobs, "summary", result.Summary())

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		s.engine.Scheduler().Start(egctx)
		return nil
	})

	if s.watch {
		eg.Go(func() error {
			return s.engine.Watch(egctx)
		})
	}

	s.logger.Info("starting server", "addr", s.addr)
	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
