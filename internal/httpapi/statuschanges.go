package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"prevant/internal/apierr"
	"prevant/internal/statuschange"
)

// handleStatusChange serves GET /apps/{appName}/status-changes/{id}: 200
// with the result once ready, 202 while still pending, and an RFC 7807
// body if the operation failed.
func (s *Server) handleStatusChange(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	entry, ok := s.status.Get(id)
	if !ok {
		writeError(w, apierr.New(apierr.KindNotFound, "unknown or expired status-change id"))
		return
	}

	switch entry.State {
	case statuschange.Pending:
		w.WriteHeader(http.StatusAccepted)
	case statuschange.Failed:
		writeError(w, entry.Err)
	case statuschange.Ready:
		writeJSON(w, http.StatusOK, entry.Result)
	}
}
