package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/okonma/reverie/internal/dreamer"
	"github.com/okonma/reverie/internal/query"
	"github.com/okonma/reverie/internal/store"
)

// Server is the reverie HTTP API server. It exposes the front-end
// operations; the dreamer mutates the same store independently and is
// only reachable here through its status and one-shot cycle trigger.
type Server struct {
	db       *store.DB
	queries  *query.Engine
	dreamer  *dreamer.Dreamer
	router   chi.Router
	validate *validator.Validate
	log      *zap.Logger
	version  string
	started  time.Time
}

// New creates a new Server. The dreamer may be nil when background
// consolidation is disabled.
func New(db *store.DB, queries *query.Engine, d *dreamer.Dreamer, log *zap.Logger, version string) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		db:       db,
		queries:  queries,
		dreamer:  d,
		validate: validator.New(),
		log:      log,
		version:  version,
		started:  time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/memories", s.handleStore)
		r.Get("/memories", s.handleContextFilter)
		r.Get("/memories/{id}", s.handleRecall)

		r.Get("/search", s.handleSearch)
		r.Get("/search/exhaustive", s.handleExhaustive)
		r.Get("/overview", s.handleOverview)

		r.Get("/dreamer/status", s.handleDreamerStatus)
		r.Post("/dreamer/cycle", s.handleDreamerCycle)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	nodeCount, err := s.db.NodeCount()
	if err != nil {
		s.writeError(w, err)
		return
	}
	edgeCount, err := s.db.EdgeCount()
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    s.version,
		"uptime":     time.Since(s.started).Seconds(),
		"node_count": nodeCount,
		"edge_count": edgeCount,
		"graph_size": nodeCount + edgeCount,
		"db_path":    s.db.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps store errors to responses. Front-end callers only
// ever see not-found and validation failures; everything else is a
// plain 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var nf *store.NotFoundError
	if errors.As(err, &nf) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "not_found",
			"id":    nf.ID,
		})
		return
	}

	var ve *store.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":  "validation",
			"field":  ve.Field,
			"reason": ve.Reason,
		})
		return
	}

	s.log.Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
}
