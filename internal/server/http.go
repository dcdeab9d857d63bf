package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/contractsync/contractsync/internal/core/access"
	"github.com/contractsync/contractsync/internal/core/observability/log"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.GetStats())
}

// handleListVersions serves the version history over plain HTTP for tooling
// that does not hold a live session. Same token and read check as the
// WebSocket path.
func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]

	principal, ok := s.httpPrincipal(w, r, documentID)
	if !ok {
		return
	}

	versions, err := s.versions.ListVersions(r.Context(), documentID)
	if err != nil {
		s.logger.Error("list versions failed",
			log.String("document_id", documentID),
			log.String("principal", principal),
			log.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	documentID := vars["id"]
	number, err := strconv.ParseUint(vars["number"], 10, 64)
	if err != nil {
		http.Error(w, "bad version number", http.StatusBadRequest)
		return
	}

	if _, ok := s.httpPrincipal(w, r, documentID); !ok {
		return
	}

	comments, err := s.comments.ListComments(r.Context(), documentID, number)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

// httpPrincipal authenticates the request and checks read access, writing
// the failure response itself. Returns ok=false when the caller should stop.
func (s *Server) httpPrincipal(w http.ResponseWriter, r *http.Request, documentID string) (string, bool) {
	principal, err := s.principalFromToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	allowed, err := s.access.IsAuthorized(r.Context(), principal, documentID, access.ActionRead)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return "", false
	}
	if !allowed {
		http.Error(w, "forbidden", http.StatusForbidden)
		return "", false
	}
	return principal, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
