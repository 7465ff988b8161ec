package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/apperr"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/auth"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error            string `json:"error"`
	Code             string `json:"code"`
	System           string `json:"system,omitempty"`
	Entity           string `json:"entity,omitempty"`
	Env              string `json:"env,omitempty"`
	RequiresOperator bool   `json:"requiresOperator,omitempty"`
}

// decodeJSON decodes the request body into v. An empty body leaves v
// untouched when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, allowEmpty bool) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, errorBody{Error: msg, Code: code})
}

// respondAppError renders err with the status and code of its kind.
func respondAppError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	respondJSON(w, appErr.HTTPStatus(), errorBody{
		Error:            appErr.Error(),
		Code:             appErr.Code(),
		System:           appErr.System,
		Entity:           appErr.Entity,
		Env:              appErr.Env,
		RequiresOperator: appErr.RequiresOperator(),
	})
}

func (s *Server) operatorAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			respondError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "operator authentication not configured")
			return
		}
		p, err := s.auth.Authenticate(r)
		if errors.Is(err, auth.ErrForbidden) {
			respondError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
			return
		}
		if err != nil {
			respondError(w, http.StatusUnauthorized, "UNAUTHENTICATED", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func actor(r *http.Request) string {
	if p, ok := auth.FromContext(r.Context()); ok {
		return p.Subject
	}
	return ""
}
