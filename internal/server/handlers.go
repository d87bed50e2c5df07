package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lectern-search/lectern/internal/models"
	"github.com/lectern-search/lectern/internal/retriever"
	"github.com/lectern-search/lectern/internal/store"
	"github.com/lectern-search/lectern/internal/vector"
)

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Question string                    `json:"question"`
	Answer   string                    `json:"answer"`
	Results  []*models.RetrievalResult `json:"results"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("ask request", zap.String("question", req.Question))

	results, err := s.retriever.Retrieve(r.Context(), req.Question)
	if err != nil {
		s.respondRetrievalError(w, err)
		return
	}
	resp := askResponse{Question: req.Question, Results: results}
	if resp.Results == nil {
		resp.Results = []*models.RetrievalResult{}
	}
	if len(results) > 0 {
		genReq := s.assembler.Assemble(req.Question, results)
		answer, err := s.generator.Generate(r.Context(), genReq)
		if err != nil {
			s.logger.Error("generation failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Answer = answer
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type searchRequest struct {
	Question string `json:"question"`
}

type searchResponse struct {
	Question string                    `json:"question"`
	Results  []*models.RetrievalResult `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("question", req.Question))

	results, err := s.retriever.Retrieve(r.Context(), req.Question)
	if err != nil {
		s.respondRetrievalError(w, err)
		return
	}
	if results == nil {
		results = []*models.RetrievalResult{}
	}
	s.respondJSON(w, http.StatusOK, searchResponse{Question: req.Question, Results: results})
}

type ingestTextRequest struct {
	Title  string `json:"title"`
	Author string `json:"author,omitempty"`
	Text   string `json:"text"`
}

func (s *Server) handleIngestText(w http.ResponseWriter, r *http.Request) {
	var req ingestTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.Text == "" {
		s.respondError(w, http.StatusBadRequest, "title and text are required")
		return
	}
	book, err := s.ingestor.IngestText(r.Context(), req.Title, req.Author, req.Text)
	if err != nil {
		s.logger.Error("ingest failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.manager.Rebuild(r.Context()); err != nil {
		s.logger.Error("rebuild after ingest failed", zap.Error(err))
	}
	s.respondJSON(w, http.StatusCreated, book)
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.store.ListBooks(r.Context())
	if err != nil {
		s.logger.Error("list books failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if books == nil {
		books = []*models.Book{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"books": books})
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete book request", zap.String("id", id))
	if err := s.ingestor.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "book not found")
			return
		}
		s.logger.Error("deletion failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.manager.Rebuild(r.Context()); err != nil && !errors.Is(err, vector.ErrEmptyCorpus) {
		s.logger.Error("rebuild after delete failed", zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Rebuild(r.Context()); err != nil {
		if errors.Is(err, vector.ErrEmptyCorpus) {
			s.respondError(w, http.StatusBadRequest, "collection is empty")
			return
		}
		s.logger.Error("rebuild failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "rebuilt",
		"size":     s.manager.Size(),
		"revision": s.manager.Revision(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bookCount, err := s.store.CountBooks(ctx)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	chunkCount, err := s.store.CountChunks(ctx)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	revision, err := s.store.Revision(ctx)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stale, err := s.manager.IsStale(ctx)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"books":           bookCount,
		"chunks":          chunkCount,
		"corpus_revision": revision,
		"index_size":      s.manager.Size(),
		"index_revision":  s.manager.Revision(),
		"index_stale":     stale,
		"embedding_dims":  s.store.Dimensions(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondRetrievalError maps pipeline errors to HTTP statuses: bad input is
// the caller's fault, a stale index is a temporary availability condition,
// anything else is a server error.
func (s *Server) respondRetrievalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, retriever.ErrEmptyQuery):
		s.respondError(w, http.StatusBadRequest, "question is required")
	case errors.Is(err, vector.ErrIndexNotReady):
		s.respondError(w, http.StatusServiceUnavailable, "index is rebuilding, retry shortly")
	default:
		s.logger.Error("retrieval failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
