// Package server wraps the admin HTTP surface in an http.Server with
// the timeouts the original constructor set, generalized from a fixed
// config-driven signature to any addr/handler pair so it can host the
// admin router instead of the REST API it used to carry.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"waconnect/pkg/logger"
)

type Server struct {
	httpServer *http.Server
	log        logger.Logger
}

func New(addr string, handler http.Handler, log logger.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		log: log.WithComponent("server"),
	}
}

// Start blocks until the server stops; returns nil on a clean Stop.
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info().Msg("starting admin http server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("start admin server: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.log.Info().Msg("shutting down admin http server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown admin server: %w", err)
	}
	return nil
}
