package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/promotion"
)

func entityKey(r *http.Request) models.Key {
	return models.Key{Store: chi.URLParam(r, "store"), Code: chi.URLParam(r, "code")}
}

type createEntityRequest struct {
	Store   string          `json:"store"`
	Code    string          `json:"code"`
	Kind    models.Kind     `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var req createEntityRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	e, err := s.promotion.Create(r.Context(), promotion.CreateInput{
		Key:     models.Key{Store: req.Store, Code: req.Code},
		Kind:    req.Kind,
		Payload: req.Payload,
		Actor:   actor(r),
	})
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, e)
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	e, err := s.promotion.Get(r.Context(), entityKey(r))
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	out, err := s.promotion.History(r.Context(), entityKey(r))
	if err != nil {
		respondAppError(w, err)
		return
	}
	if out == nil {
		out = []models.Transition{}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	var patch json.RawMessage
	if err := decodeJSON(w, r, &patch, false); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	e, err := s.promotion.UpdateDraft(r.Context(), entityKey(r), patch, actor(r))
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

type promoteRequest struct {
	Target string `json:"target"`
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var target models.Env
	if req.Target != "" {
		env, err := models.ParseEnv(req.Target)
		if err != nil {
			respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}
		target = env
	}
	e, err := s.promotion.Promote(r.Context(), entityKey(r), target, actor(r))
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	e, err := s.promotion.ValidateAsync(r.Context(), entityKey(r), actor(r))
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, e)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	e, err := s.promotion.Rollback(r.Context(), entityKey(r), actor(r))
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	e, err := s.promotion.Delete(r.Context(), entityKey(r), actor(r))
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}
