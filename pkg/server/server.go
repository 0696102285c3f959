// Copyright 2025 Recall Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the REST surface: indexing control, search,
// navigation, analytics and health.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/recallhq/recall/pkg/analytics"
	"github.com/recallhq/recall/pkg/config"
	"github.com/recallhq/recall/pkg/engine"
	"github.com/recallhq/recall/pkg/health"
	"github.com/recallhq/recall/pkg/kv"
	"github.com/recallhq/recall/pkg/observability"
	"github.com/recallhq/recall/pkg/search"
)

// Server wires the HTTP surface over the core services.
type Server struct {
	cfg      *config.Config
	engine   *engine.Engine
	search   *search.Service
	checker  *health.Checker
	recorder *analytics.Recorder
	store    *kv.Store

	httpServer *http.Server
}

// New builds a Server.
func New(cfg *config.Config, eng *engine.Engine, svc *search.Service, checker *health.Checker, recorder *analytics.Recorder, store *kv.Store) *Server {
	s := &Server{
		cfg:      cfg,
		engine:   eng,
		search:   svc,
		checker:  checker,
		recorder: recorder,
		store:    store,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)

	// Health and metrics sit outside the authenticated prefix.
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", observability.Handler())

	prefix := "/" + strings.Trim(s.cfg.APIPrefix, "/")
	r.Route(prefix, func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/health", s.handleHealth)

		r.Post("/index", s.handleIndexAll)
		r.Get("/index/status", s.handleIndexStatus)
		r.Post("/index/{source}", s.handleIndexSource)
		r.Get("/index/{source}/status", s.handleSourceStatus)
		r.Post("/index/{source}/reset", s.handleIndexReset)

		r.Get("/search", s.handleSearch)
		r.Post("/navigate", s.handleNavigate)

		r.Get("/analytics/runs", s.handleAnalyticsRuns)
		r.Get("/analytics/stats", s.handleAnalyticsStats)
		r.Get("/analytics/daily", s.handleAnalyticsDaily)
		r.Get("/analytics/health", s.handleConnectorHealth)
		r.Get("/analytics/health/{source}", s.handleConnectorHealthSource)
		r.Get("/analytics/config/sources", s.handleConfigExport)
		r.Post("/analytics/config/sources/{source}", s.handleConfigImport)
		r.Post("/analytics/config/sources/{source}/enabled", s.handleConfigEnable)

		r.Get("/workflows", s.handleWorkflows)
		r.Get("/workflows/{id}", s.handleWorkflow)
	})

	return r
}

// ListenAndServe blocks serving HTTP until shutdown.
func (s *Server) ListenAndServe() error {
	slog.Info("http server listening", "addr", s.httpServer.Addr, "prefix", s.cfg.APIPrefix)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// authMiddleware enforces the shared-secret header when an API key is
// configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" && r.Header.Get("X-API-Key") != s.cfg.APIKey {
			respondError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware counts requests by route pattern and status class.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		observability.HTTPRequests.WithLabelValues(
			r.Method, route, fmt.Sprintf("%dxx", ww.Status()/100),
		).Inc()
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"service": "recall",
		"status":  "ok",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	deps := s.checker.CheckDependencies(r.Context())

	status := "ok"
	code := http.StatusOK
	if !deps.Healthy() {
		status = "partial"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":       status,
		"service":      "recall",
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"dependencies": deps,
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"error": message})
}
