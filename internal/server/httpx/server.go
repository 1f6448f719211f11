package httpx

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
)

const defaultShutdownTimeout = 10 * time.Second

// Server runs the operational router until its context is done.
type Server struct {
	address string
	handler http.Handler
	logger  logging.Logger
	timeout time.Duration
}

// NewServer returns a server for h. Requests still running shutdownTimeout
// after the context is done are cut off; a non-positive value means 10s.
func NewServer(address string, l logging.Logger, h http.Handler, shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	return &Server{address: address, handler: h, logger: l.With("module", "http_server"), timeout: shutdownTimeout}
}

// Run listens on the configured address.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve accepts connections on lis until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Starting HTTP server", "address", lis.Addr().String())
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info(ctx, "Stopping HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		s.logger.Warn(ctx, "HTTP shutdown timed out, closing connections", "timeout", s.timeout.String())
		if err := srv.Close(); err != nil {
			return err
		}
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
