package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/okonma/reverie/internal/store"
)

type storeRequest struct {
	Content string         `json:"content" validate:"required,min=1"`
	Context map[string]any `json:"context"`
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		field := "content"
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field = verrs[0].Field()
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "validation",
			"field": field,
		})
		return
	}

	id, err := s.db.InsertNode(req.Content, store.TypeNormal, req.Context, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.log.Info("memory stored", zap.String("id", id), zap.Int("content_length", len(req.Content)))
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := s.queries.Recall(id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	n := result.Node
	writeJSON(w, http.StatusOK, map[string]any{
		"id":               n.ID,
		"content":          n.Content,
		"type":             n.Type,
		"context":          n.Context,
		"source_ids":       n.SourceIDs,
		"created_at":       n.CreatedAt,
		"last_accessed_at": n.LastAccessedAt,
		"access_count":     n.AccessCount,
		"priority_score":   n.Priority,
		"edges":            result.Edges,
	})
}

// handleContextFilter lists memories whose context matches every query
// parameter exactly, e.g. GET /api/memories?project=launch. Unlike the
// search operations this is a plain filter and does not count as a
// front-end access.
func (s *Server) handleContextFilter(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	if len(params) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "at least one context filter required"})
		return
	}

	match := make(map[string]any, len(params))
	for k := range params {
		match[k] = params.Get(k)
	}

	nodes, err := s.db.SearchByContext(match)
	if err != nil {
		s.writeError(w, err)
		return
	}

	results := make([]map[string]any, 0, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		results = append(results, map[string]any{
			"id":      n.ID,
			"type":    n.Type,
			"content": n.Content,
			"context": n.Context,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q parameter required"})
		return
	}

	hits, err := s.queries.SpecificSearch(q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "results": hits})
}

func (s *Server) handleExhaustive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q parameter required"})
		return
	}

	titles, err := s.queries.ExhaustiveSearch(q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "results": titles})
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "topic parameter required"})
		return
	}

	hits, err := s.queries.KnowledgeOverview(topic)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topic": topic, "results": hits})
}

func (s *Server) handleDreamerStatus(w http.ResponseWriter, r *http.Request) {
	if s.dreamer == nil {
		writeJSON(w, http.StatusOK, map[string]any{"running": false, "enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, s.dreamer.Status())
}

func (s *Server) handleDreamerCycle(w http.ResponseWriter, r *http.Request) {
	if s.dreamer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "dreamer not configured"})
		return
	}

	// One-shot cycle runs in the background; the response only
	// acknowledges the trigger.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.dreamer.RunCycle(ctx); err != nil {
			s.log.Error("manual dream cycle failed", zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "dreaming"})
}
