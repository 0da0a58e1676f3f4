// SPDX-License-Identifier: MIT

// Package api exposes the engine over a small HTTP surface. The engine is
// the product; these handlers are a thin operability layer.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulsetv/pulse/internal/engine"
	"github.com/pulsetv/pulse/internal/guide"
	"github.com/pulsetv/pulse/internal/log"
	"github.com/pulsetv/pulse/internal/resolve"
)

// Server holds the handler dependencies.
type Server struct {
	engine *engine.Engine
}

// New returns a Server around the given engine.
func New(e *engine.Engine) *Server {
	return &Server{engine: e}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(correlate)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/snapshot", s.handleSnapshot)
		r.Post("/guide/refresh", s.handleGuideRefresh)
		r.Get("/resolve", s.handleResolve)
	})
	return r
}

// correlate copies the chi request id into the log context so every logger
// derived from the request context carries it.
func correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rid := chimw.GetReqID(r.Context()); rid != "" {
			r = r.WithContext(log.ContextWithRequestID(r.Context(), rid))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "1"
	snap, err := s.engine.Snapshot(r.Context(), force)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, snap)
	case errors.Is(err, engine.ErrNoPlaylist):
		writeError(w, http.StatusPreconditionFailed, err)
	default:
		lg := log.WithComponentFromContext(r.Context(), "api")
		lg.Error().Err(err).
			Str("event", "api.snapshot_failed").
			Msg("snapshot load failed")
		writeError(w, http.StatusBadGateway, err)
	}
}

func (s *Server) handleGuideRefresh(w http.ResponseWriter, r *http.Request) {
	err := s.engine.RefreshGuide(r.Context())
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, engine.ErrNotLoaded):
		writeError(w, http.StatusPreconditionFailed, err)
	case errors.Is(err, guide.ErrRefreshInFlight):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, guide.ErrThrottled):
		writeError(w, http.StatusTooManyRequests, err)
	case errors.Is(err, guide.ErrNoGuideData):
		// refresh ran; there simply is no guide
		w.WriteHeader(http.StatusAccepted)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	q := resolve.Query{
		Title:   r.URL.Query().Get("title"),
		TMDBID:  r.URL.Query().Get("tmdb"),
		IMDBID:  r.URL.Query().Get("imdb"),
		Year:    queryInt(r, "year"),
		Season:  queryInt(r, "season"),
		Episode: queryInt(r, "episode"),
	}
	resolved, err := s.engine.Resolve(r.Context(), q)
	switch {
	case err == nil:
		streamURL, _ := s.engine.StreamURL(resolved)
		writeJSON(w, http.StatusOK, resolveResponse{
			StreamID:           resolved.StreamID,
			StreamURL:          streamURL,
			ContainerExtension: resolved.ContainerExtension,
			SeriesID:           resolved.SeriesID,
			Confidence:         resolved.Confidence,
			Method:             resolved.Method,
		})
	case errors.Is(err, resolve.ErrNoMatch):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, engine.ErrNoProvider):
		writeError(w, http.StatusPreconditionFailed, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

type resolveResponse struct {
	StreamID           int     `json:"streamID"`
	StreamURL          string  `json:"streamURL,omitempty"`
	ContainerExtension string  `json:"containerExtension,omitempty"`
	SeriesID           int     `json:"seriesID"`
	Confidence         float64 `json:"confidence"`
	Method             string  `json:"method"`
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
