package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"prevant/internal/apierr"
	"prevant/internal/domain"
)

type changeStateBody struct {
	Status domain.ServiceState `json:"status"`
}

// handleChangeServiceState serves PUT /apps/{appName}/states/{serviceName}:
// 202 once the backend call returns without error. A malformed body or a
// status other than running/paused is 400; a busy app or a backend failure
// is rendered as a problem body. There is no status-changes entry for it —
// changeServiceState does not move the app through the guarded state
// machine, see internal/apps.Service.
func (s *Server) handleChangeServiceState(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	appName := domain.AppName(vars["appName"])
	service := vars["serviceName"]

	var body changeStateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierr.Wrap(apierr.KindInvalidPayload, "malformed JSON body", err))
		return
	}
	if body.Status != domain.StateRunning && body.Status != domain.StatePaused {
		writeError(w, apierr.New(apierr.KindInvalidPayload, "status must be running or paused"))
		return
	}

	if err := s.apps.ChangeServiceState(r.Context(), appName, service, body.Status); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
