package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/MamunCrafts/video-chat-app/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server wires dependencies and hosts the public HTTP endpoint alongside the
// admin endpoint.
type Server struct {
	cfg       config.Config
	log       *zap.Logger
	handler   http.Handler
	promReg   *prometheus.Registry
	httpSrv   *http.Server
	adminHTTP *http.Server
	httpAddr  atomic.Value
	adminAddr atomic.Value
	ready     atomic.Bool
}

// New constructs a server around the public handler. The handler is expected
// to carry both the REST routes and the websocket endpoint.
func New(cfg config.Config, logger *zap.Logger, handler http.Handler, promReg *prometheus.Registry) *Server {
	return &Server{
		cfg:     cfg,
		log:     logger,
		handler: handler,
		promReg: promReg,
	}
}

// Addr reports the bound public address once Start has begun listening.
func (s *Server) Addr() string {
	if v, ok := s.httpAddr.Load().(string); ok {
		return v
	}
	return ""
}

// AdminAddr reports the bound admin address, or "" when the admin endpoint is
// disabled or not yet listening.
func (s *Server) AdminAddr() string {
	if v, ok := s.adminAddr.Load().(string); ok {
		return v
	}
	return ""
}

// Start boots the HTTP servers and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.HTTPAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.HTTPAddress, err)
	}
	s.httpAddr.Store(lis.Addr().String())

	s.startAdminServer()

	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.Relay.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
		defer cancel()
		s.Shutdown(stopCtx)
	}()

	s.log.Info("http server listening", zap.String("address", lis.Addr().String()))
	s.ready.Store(true)
	err = s.httpSrv.Serve(lis)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

func (s *Server) startAdminServer() {
	if s.cfg.AdminAddress == "" {
		return
	}

	mux := http.NewServeMux()
	if s.promReg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not_ready"))
	})

	lis, err := net.Listen("tcp", s.cfg.AdminAddress)
	if err != nil {
		s.log.Warn("admin listen failed", zap.String("address", s.cfg.AdminAddress), zap.Error(err))
		return
	}
	s.adminAddr.Store(lis.Addr().String())

	s.adminHTTP = &http.Server{Handler: mux}

	go func() {
		if err := s.adminHTTP.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server stopped", zap.Error(err))
		}
	}()
	s.log.Info("admin server listening", zap.String("address", lis.Addr().String()))
}

// Shutdown attempts a graceful stop before forcing termination.
func (s *Server) Shutdown(ctx context.Context) {
	s.ready.Store(false)

	if s.adminHTTP != nil {
		if err := s.adminHTTP.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server shutdown", zap.Error(err))
		}
	}
	if s.httpSrv == nil {
		return
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.log.Warn("graceful shutdown timed out; forcing close", zap.Error(err))
		_ = s.httpSrv.Close()
		return
	}
	s.log.Info("http server stopped")
}
