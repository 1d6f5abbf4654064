// Copyright (C) 2024 The kproxy Authors. All Rights Reserved.

// Package admin serves the operational endpoints of the proxy: metrics in
// Prometheus exposition format plus health and readiness probes.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// A Server exposes the admin endpoints over HTTP.
type Server struct {
	Addr     string               // listen address, e.g. ":9190"
	Registry *prometheus.Registry // metrics to expose
	Ready    func() bool          // readiness probe; nil means always ready
	Log      zerolog.Logger

	started time.Time
}

// Handler returns the admin route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"uptime": time.Since(s.started).String(),
		})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.Ready != nil && !s.Ready() {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"ready":  true,
			"uptime": time.Since(s.started).String(),
		})
	})
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Log.Warn().Err(err).Msg("write admin response")
	}
}

// Run serves the admin endpoints until ctx ends, then shuts the server down
// gracefully. It reports nil after a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.started = time.Now()
	srv := &http.Server{Addr: s.Addr, Handler: s.Handler()}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.Log.Info().Str("addr", s.Addr).Msg("admin endpoint listening")

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return err
		}
		<-errc
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
