// Package server runs the HTTP listener with graceful shutdown.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// HTTPServer wraps net/http with context-driven shutdown.
type HTTPServer struct {
	handler http.Handler
	logger  *zap.Logger
}

// NewHTTPServer builds a server around the router.
func NewHTTPServer(handler http.Handler, logger *zap.Logger) *HTTPServer {
	return &HTTPServer{handler: handler, logger: logger}
}

// Run serves until ctx is cancelled, then drains in-flight requests within
// shutdownTimeout.
func (s *HTTPServer) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.handler}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
