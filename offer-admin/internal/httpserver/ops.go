package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
)

func (s *Server) handleLockStatus(w http.ResponseWriter, r *http.Request) {
	if s.locks == nil {
		respondError(w, http.StatusNotImplemented, "NOT_CONFIGURED", "remote mutex is not configured")
		return
	}
	env, err := models.ParseEnv(chi.URLParam(r, "env"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	st, err := s.locks.Status(r.Context(), chi.URLParam(r, "system"), env)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) exportsEnabled(w http.ResponseWriter) bool {
	if s.exports == nil {
		respondError(w, http.StatusNotImplemented, "NOT_CONFIGURED", "export storage is not configured")
		return false
	}
	return true
}

func (s *Server) handleStartExport(w http.ResponseWriter, r *http.Request) {
	if !s.exportsEnabled(w) {
		return
	}
	res, err := s.exports.Start(r.Context(), chi.URLParam(r, "store"), actor(r))
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, res)
}

func (s *Server) handleExportStatus(w http.ResponseWriter, r *http.Request) {
	if !s.exportsEnabled(w) {
		return
	}
	op, err := s.exports.Status(r.Context(), chi.URLParam(r, "store"))
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, op)
}

func (s *Server) handleCompleteExport(w http.ResponseWriter, r *http.Request) {
	if !s.exportsEnabled(w) {
		return
	}
	if err := s.exports.Complete(r.Context(), chi.URLParam(r, "store")); err != nil {
		respondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
