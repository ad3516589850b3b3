// SPDX-License-Identifier: MIT
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// defaultDrainTimeout bounds how long in-flight sync requests may run after
// a shutdown signal before their contexts are cancelled.
const defaultDrainTimeout = 30 * time.Second

// Shutdown stops a running server and waits for in-flight requests. It does
// nothing before ListenAndServe has started.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpMu.Lock()
	hs := s.httpSrv
	s.httpMu.Unlock()
	if hs == nil {
		return nil
	}
	return hs.Shutdown(ctx)
}

// Addr returns the bound listen address, or "" before the server started.
func (s *Server) Addr() string {
	s.httpMu.Lock()
	defer s.httpMu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ListenAndServe serves the API until ctx is done or Shutdown is called.
// Requests keep running during the drain; syncs still running when
// the drain timeout expires see their request context cancelled, so the engine
// abandons them and discards their working copies.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	requestCtx, cancelRequests := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRequests()
	hs := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return requestCtx },
	}
	s.httpMu.Lock()
	s.httpSrv, s.listener = hs, listener
	s.httpMu.Unlock()

	served := make(chan error, 1)
	go func() {
		err := hs.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		served <- err
	}()

	s.log.WithField("addr", listener.Addr().String()).Info("server started")
	close(s.ready)

	select {
	case err := <-served:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.log.Info("shutting down server")
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
	defer cancel()
	if err := hs.Shutdown(drainCtx); err != nil {
		s.log.WithError(err).Warn("requests still running after drain, cancelling them")
		cancelRequests()
		_ = hs.Close()
		<-served
		return err
	}
	<-served
	s.log.Info("server shutdown complete")
	return nil
}
