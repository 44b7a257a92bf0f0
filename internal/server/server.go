// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package server exposes acquisition over HTTP. It serves a health check
// and a synchronous search endpoint that runs one acquisition source and
// returns the raw records as JSON.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pdiddy/scholar-pipeline/internal/acquire"
	"github.com/pdiddy/scholar-pipeline/internal/cache"
	"github.com/pdiddy/scholar-pipeline/internal/httputil"
	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

const maxBodyBytes = 1 << 16

// Deps holds the collaborators shared by every request.
type Deps struct {
	// Session is the Scholar cookie jar; required for the gscholar source.
	Session *acquire.Session
	Store   cache.Store

	// Client, when set, replaces the per-request acquisition client and
	// ignores the request's proxy.
	Client *http.Client
}

// Server handles search requests against the configured acquisition source.
type Server struct {
	cfg  types.PipelineConfig
	deps Deps
}

// New creates a Server.
func New(cfg types.PipelineConfig, deps Deps) *Server {
	return &Server{cfg: cfg, deps: deps}
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Keyword string `json:"keyword"`

	// Pages lists the result pages to fetch (default [1]).
	Pages []int `json:"pages"`

	// YLo overrides the configured year floor.
	YLo *int `json:"ylo,omitempty"`

	Proxy  string `json:"proxy,omitempty"`
	Source string `json:"source,omitempty"`
}

// SearchResponse is the body of a successful POST /search.
type SearchResponse struct {
	Status     string         `json:"status"`
	Count      int            `json:"count"`
	Halted     bool           `json:"halted,omitempty"`
	HaltReason string         `json:"halt_reason,omitempty"`
	Results    []types.Record `json:"results"`
}

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if len(s.cfg.Server.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.Server.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Post("/search", s.handleSearch)
	return r
}

// ListenAndServe serves on cfg.Server.Host:Port until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("server: listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return
	}
	q, err := s.query(req)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	source, err := s.source(req)
	if err != nil {
		status := http.StatusInternalServerError
		if httputil.KindOf(err) == httputil.KindFatal {
			status = http.StatusBadRequest
		}
		writeErr(w, status, err)
		return
	}

	log := zap.L().With(zap.String("request_id", middleware.GetReqID(r.Context())))
	log.Info("server: search", zap.String("source", source.Name()),
		zap.String("keyword", q.Keyword), zap.Ints("pages", q.Pages))

	res, err := source.Search(r.Context(), q)
	if err != nil && len(res.Records) == 0 {
		log.Error("server: search failed", zap.Error(err))
		writeErr(w, statusFor(err), err)
		return
	}

	records := types.CloneAll(res.Records)
	for i := range records {
		records[i].ID = fmt.Sprintf("r%03d", i+1)
	}
	writeJSON(w, http.StatusOK, SearchResponse{
		Status:     "success",
		Count:      len(records),
		Halted:     res.Halted,
		HaltReason: res.HaltReason,
		Results:    records,
	})
}

func (s *Server) query(req SearchRequest) (acquire.Query, error) {
	keyword := strings.TrimSpace(req.Keyword)
	if keyword == "" {
		return acquire.Query{}, eris.New("keyword is required")
	}
	pages := req.Pages
	if len(pages) == 0 {
		pages = []int{1}
	}
	for _, p := range pages {
		if p < 1 {
			return acquire.Query{}, eris.Errorf("invalid page %d", p)
		}
	}
	yearFloor := s.cfg.Acquisition.YearFloor
	if req.YLo != nil {
		yearFloor = *req.YLo
	}
	return acquire.Query{Keyword: keyword, Pages: pages, YearFloor: yearFloor}, nil
}

func (s *Server) source(req SearchRequest) (acquire.Source, error) {
	acq := s.cfg.Acquisition
	if req.Proxy != "" {
		acq.Proxy = req.Proxy
	}
	if req.Source != "" {
		acq.Source = strings.ToLower(strings.TrimSpace(req.Source))
	}

	client := s.deps.Client
	if client == nil {
		var err error
		if client, err = httputil.NewClient(acq.HTTPConfig); err != nil {
			return nil, err
		}
	}
	return acquire.NewSource(acq, acquire.Deps{
		Client:  client,
		Policy:  httputil.PolicyFromConfig(s.cfg.Retry),
		Session: s.deps.Session,
		Store:   s.deps.Store,
		Cache:   s.cfg.Cache,
	})
}

func statusFor(err error) int {
	switch httputil.KindOf(err) {
	case httputil.KindRateLimited:
		return http.StatusTooManyRequests
	case httputil.KindTransient:
		return http.StatusServiceUnavailable
	case httputil.KindFatal:
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Status: "error", Error: err.Error()})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("server: request",
			zap.String("method", r.Method), zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()), zap.Duration("duration", time.Since(started)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
