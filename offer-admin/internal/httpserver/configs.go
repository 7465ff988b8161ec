package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/apperr"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
)

func (s *Server) configsEnabled(w http.ResponseWriter) bool {
	if s.configs == nil {
		respondError(w, http.StatusNotImplemented, "NOT_CONFIGURED", "config service is not configured")
		return false
	}
	return true
}

type staleConfigBody struct {
	errorBody
	Live interface{} `json:"live,omitempty"`
}

func (s *Server) handleReadConfig(w http.ResponseWriter, r *http.Request) {
	if !s.configsEnabled(w) {
		return
	}
	view, err := s.configs.Read(r.Context(), chi.URLParam(r, "name"))
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Kind == apperr.KindStale {
		// the live documents are still useful to the operator
		respondJSON(w, appErr.HTTPStatus(), staleConfigBody{
			errorBody: errorBody{Error: appErr.Error(), Code: appErr.Code(), System: appErr.System, Entity: appErr.Entity, Env: appErr.Env},
			Live:      view.Live,
		})
		return
	}
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

type pushConfigRequest struct {
	Env     string          `json:"env"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handlePushConfig(w http.ResponseWriter, r *http.Request) {
	if !s.configsEnabled(w) {
		return
	}
	var req pushConfigRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	env, err := models.ParseEnv(req.Env)
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	rec, err := s.configs.Push(r.Context(), chi.URLParam(r, "name"), env, req.Payload, actor(r))
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRollbackConfig(w http.ResponseWriter, r *http.Request) {
	if !s.configsEnabled(w) {
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.configs.Rollback(r.Context(), name, actor(r)); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"name": name, "rolledBack": true})
}
