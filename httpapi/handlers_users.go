package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/whitelist"
)

// Admin endpoints managing the access whitelist stored in SharePoint.

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	entries, err := s.whitelist.List(r.Context())
	if err != nil {
		writeError(w, 502, err)
		return
	}
	if entries == nil {
		entries = []whitelist.Entry{}
	}
	writeJSON(w, 200, entries)
}

func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	err := s.whitelist.Add(r.Context(), req.Email)
	switch {
	case err == nil:
		writeJSON(w, 201, map[string]string{"email": req.Email, "status": "added"})
	case errors.Is(err, whitelist.ErrDuplicate):
		writeError(w, 409, err)
	case errors.Is(err, whitelist.ErrInvalidEmail),
		errors.Is(err, whitelist.ErrDomainNotAllowed):
		writeError(w, 400, err)
	default:
		writeError(w, 502, err)
	}
}

func (s *Server) handleRemoveUser(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")
	if err := s.whitelist.Remove(r.Context(), itemID); err != nil {
		writeError(w, 502, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "deleted"})
}
