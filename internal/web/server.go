// Package web is a thin localhost JSON façade over the core, standing
// in for a UI layer: it only calls insert, update, search and the
// export trigger.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/notedrop/notedrop/internal/export"
	"github.com/notedrop/notedrop/internal/joplin"
	"github.com/notedrop/notedrop/internal/search"
	"github.com/notedrop/notedrop/internal/storage"
)

type Server struct {
	store    *storage.DB
	engine   *search.Engine
	exports  *export.Engine
	exporter *export.Joplin
}

type noteRequest struct {
	Text string `json:"text"`
	Link string `json:"link"`
	Tags string `json:"tags"`
	Note string `json:"note"`
}

type searchResponse struct {
	Query   string         `json:"query"`
	Count   int            `json:"count"`
	Results []storage.Note `json:"results"`
}

func NewServer(store *storage.DB, engine *search.Engine, exports *export.Engine, exporter *export.Joplin) *Server {
	return &Server{
		store:    store,
		engine:   engine,
		exports:  exports,
		exporter: exporter,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/search/help", s.handleSearchHelp)
	mux.HandleFunc("POST /api/notes", s.handleInsert)
	mux.HandleFunc("GET /api/notes/{id}", s.handleGet)
	mux.HandleFunc("PUT /api/notes/{id}", s.handleUpdate)
	mux.HandleFunc("POST /api/notes/{id}/export", s.handleExport)
	mux.HandleFunc("POST /api/export/reset", s.handleExportReset)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	results, err := s.engine.Search(r.Context(), query)
	if err != nil {
		if errors.Is(err, storage.ErrBadQuery) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, fmt.Sprintf("search failed: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, searchResponse{
		Query:   query,
		Count:   len(results),
		Results: results,
	})
}

func (s *Server) handleSearchHelp(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, search.Help)
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
		return
	}

	id, err := s.store.Insert(r.Context(), req.Text, req.Link, req.Tags, req.Note)
	if err != nil {
		// a failed capture is logged, never fatal
		slog.Error("insert note failed", "err", err)
		http.Error(w, "insert failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]int64{"id": id})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "bad note id", http.StatusBadRequest)
		return
	}

	note, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, fmt.Sprintf("get note: %v", err), http.StatusInternalServerError)
		return
	}
	if note == nil {
		http.Error(w, "note not found", http.StatusNotFound)
		return
	}

	writeJSON(w, note)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "bad note id", http.StatusBadRequest)
		return
	}

	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
		return
	}

	note := &storage.Note{
		ID:   id,
		Text: req.Text,
		Link: req.Link,
		Tags: req.Tags,
		Note: req.Note,
	}

	if err := s.store.Update(r.Context(), note); err != nil {
		if errors.Is(err, storage.ErrInvalidID) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("update note failed", "id", id, "err", err)
		http.Error(w, "update failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "bad note id", http.StatusBadRequest)
		return
	}

	// export the persisted state, not whatever the caller holds
	note, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, fmt.Sprintf("get note: %v", err), http.StatusInternalServerError)
		return
	}
	if note == nil {
		http.Error(w, "note not found", http.StatusNotFound)
		return
	}

	if err := s.exports.Export(r.Context(), note, s.exporter); err != nil {
		switch {
		case errors.Is(err, export.ErrMissingConfig):
			http.Error(w, s.exporter.Help(), http.StatusPreconditionFailed)
		case errors.Is(err, joplin.ErrUnauthorized), errors.Is(err, joplin.ErrConnection):
			http.Error(w, err.Error(), http.StatusBadGateway)
		default:
			slog.Error("export failed", "id", id, "err", err)
			http.Error(w, fmt.Sprintf("export failed: %v", err), http.StatusBadGateway)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportReset(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ResetExportMappings(r.Context(), s.exporter.Name()); err != nil {
		http.Error(w, fmt.Sprintf("reset failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count(r.Context())
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		if err := json.NewEncoder(w).Encode(map[string]any{
			"status": "degraded",
			"error":  err.Error(),
		}); err != nil {
			slog.Error("encode response", "err", err)
		}
		return
	}

	writeJSON(w, map[string]any{
		"status": "ok",
		"notes":  count,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "err", err)
	}
}
