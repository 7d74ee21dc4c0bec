// Package server exposes an identity-record log over HTTP/1.1.
//
// A Service maps each request onto one log operation. A Dispatcher owns the
// listener and serves connections on a fixed pool of workers; the Service
// also implements http.Handler for use with a standard net/http server.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// Server couples a Service with the Dispatcher that feeds it.
type Server struct {
	service    *Service
	dispatcher *Dispatcher
}

// NewServer creates a log server.
//
// Parameters:
//   - opts: Configuration options (WithLog is required; WithCheckpointSigner,
//     WithOrigin, WithLogger, WithWorkers, WithRegisterer, WithKeyCacheSize,
//     WithMaxBodyBytes are optional)
func NewServer(opts ...Option) (*Server, error) {
	cfg := applyOptions(opts...)

	if cfg.Log == nil {
		return nil, errors.New("log is required")
	}
	if cfg.Workers <= 0 {
		return nil, errors.New("workers must be positive")
	}

	metrics := NewMetrics(cfg.Registerer)
	service, err := newService(cfg, metrics)
	if err != nil {
		return nil, err
	}
	dispatcher, err := NewDispatcher(service,
		WithPoolSize(cfg.Workers),
		WithDispatcherLogger(cfg.Logger),
		WithMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}

	return &Server{service: service, dispatcher: dispatcher}, nil
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	return s.dispatcher.Serve(ctx, ln)
}

// Handler returns the protocol as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.service
}
