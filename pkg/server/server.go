// Copyright 2025 Civic Labs
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

// Package server exposes the search pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/civiclabs/bylawd/pkg/bylaw"
	"github.com/civiclabs/bylawd/pkg/config"
	"github.com/civiclabs/bylawd/pkg/metrics"
	"github.com/civiclabs/bylawd/pkg/search"
	"github.com/civiclabs/bylawd/pkg/verify"
)

// Server is the bylaw search HTTP API.
type Server struct {
	engine  *search.Engine
	store   *verify.Store
	metrics *metrics.Metrics
	http    *http.Server
}

// New creates a Server bound per the config.
func New(cfg config.ServerConfig, engine *search.Engine, store *verify.Store, m *metrics.Metrics) *Server {
	s := &Server{
		engine:  engine,
		store:   store,
		metrics: m,
	}

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Get("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Get("/chunks/{id}", s.handleGetChunk)
		r.Get("/bylaws/{number}", s.handleGetBylaw)
		r.Post("/feedback", s.handleFeedback)
	})

	return r
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("Shutting down HTTP server")
	return s.http.Shutdown(shutdownCtx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

// searchRequest is the POST /v1/search body.
type searchRequest struct {
	Query    string         `json:"query"`
	Limit    int            `json:"limit,omitempty"`
	MinScore float32        `json:"minScore,omitempty"`
	Filters  map[string]any `json:"filters,omitempty"`
	NoCache  bool           `json:"noCache,omitempty"`
}

type searchResponse struct {
	Results []bylaw.VerifiedResult `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	results, err := s.engine.Search(r.Context(), req.Query, search.Options{
		Limit:    req.Limit,
		MinScore: req.MinScore,
		Filters:  req.Filters,
		NoCache:  req.NoCache,
	})
	if err != nil {
		slog.Error("Search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if results == nil {
		results = []bylaw.VerifiedResult{}
	}

	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

func (s *Server) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := s.engine.GetBylawByID(r.Context(), id)
	if err != nil {
		slog.Error("Chunk lookup failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if result == nil {
		writeError(w, http.StatusNotFound, "chunk not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type bylawResponse struct {
	Bylaw    *verify.Bylaw    `json:"bylaw"`
	Sections []verify.Section `json:"sections"`
}

func (s *Server) handleGetBylaw(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	record, err := s.store.GetBylaw(r.Context(), number)
	if err != nil {
		writeError(w, http.StatusNotFound, "bylaw not found")
		return
	}

	sections, err := s.store.GetSections(r.Context(), number)
	if err != nil {
		slog.Error("Section lookup failed", "bylaw", number, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, bylawResponse{Bylaw: record, Sections: sections})
}

// feedbackRequest is the POST /v1/feedback body.
type feedbackRequest struct {
	BylawNumber string `json:"bylawNumber"`
	Section     string `json:"section,omitempty"`
	Query       string `json:"query,omitempty"`
	Rating      string `json:"rating"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.store.RecordFeedback(r.Context(), verify.Feedback{
		BylawNumber: req.BylawNumber,
		SectionID:   req.Section,
		Query:       req.Query,
		Rating:      bylaw.FeedbackRating(req.Rating),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
