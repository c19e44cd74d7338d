package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"prevant/internal/apierr"
	"prevant/internal/apps"
	"prevant/internal/domain"
	"prevant/internal/events"
)

// appView is the wire shape of one inventory entry returned by GET /apps/.
type appView struct {
	Name     domain.AppName   `json:"name"`
	Status   domain.AppStatus `json:"status"`
	Services []domain.Service `json:"services"`
	Owners   []domain.Owner   `json:"owners,omitempty"`
}

func snapshotToView(snap events.Snapshot) []appView {
	out := make([]appView, 0, len(snap))
	for name, view := range snap {
		out = append(out, appView{Name: name, Status: view.Status, Services: view.Services, Owners: view.Owners})
	}
	return out
}

// handleListApps serves GET /apps/: a single JSON snapshot by default, or
// a server-sent-events stream of every coalesced snapshot when the client
// negotiates text/vnd.prevant.v2+event-stream.
func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	if wantsStream(r) {
		s.streamApps(w, r)
		return
	}
	writeJSON(w, http.StatusOK, snapshotToView(s.broadcaster.Current()))
}

func (s *Server) streamApps(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apierr.New(apierr.KindNotSupported, "streaming unsupported by this transport"))
		return
	}
	ch, unsubscribe := s.broadcaster.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, flusher, snapshotToView(s.broadcaster.Current()))
	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, flusher, snapshotToView(snap))
		}
	}
}

// createOrUpdateBody decodes either wire shape the request body can take: a
// bare array of ServiceConfig, or {services, userDefined}.
type createOrUpdateBody struct {
	Services    []domain.ServiceConfig `json:"services"`
	UserDefined interface{}            `json:"userDefined,omitempty"`
}

func decodeCreateOrUpdateBody(r *http.Request) (createOrUpdateBody, error) {
	raw, err := func() (json.RawMessage, error) {
		var m json.RawMessage
		err := json.NewDecoder(r.Body).Decode(&m)
		return m, err
	}()
	if err != nil {
		return createOrUpdateBody{}, apierr.Wrap(apierr.KindInvalidPayload, "malformed JSON body", err)
	}

	var asArray []domain.ServiceConfig
	if err := json.Unmarshal(raw, &asArray); err == nil {
		return createOrUpdateBody{Services: asArray}, nil
	}

	var asObject createOrUpdateBody
	if err := json.Unmarshal(raw, &asObject); err != nil {
		return createOrUpdateBody{}, apierr.Wrap(apierr.KindInvalidPayload, "body is neither a ServiceConfig array nor {services, userDefined}", err)
	}
	return asObject, nil
}

// handleCreateOrUpdate serves POST /apps/{appName}.
func (s *Server) handleCreateOrUpdate(w http.ResponseWriter, r *http.Request) {
	appName := domain.AppName(mux.Vars(r)["appName"])
	if !appName.Valid() {
		writeError(w, apierr.New(apierr.KindInvalidPayload, "invalid app name"))
		return
	}

	body, err := decodeCreateOrUpdateBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	req := apps.CreateOrUpdateRequest{
		Configs:     body.Services,
		UserDefined: body.UserDefined,
		BaseURL:     r.Host,
	}
	if rf := r.URL.Query().Get("replicateFrom"); rf != "" {
		from := domain.AppName(rf)
		req.ReplicateFrom = &from
	}

	statusID := s.status.Begin(appName)
	pref := parsePrefer(r)

	if !pref.async {
		result, err := s.apps.CreateOrUpdate(r.Context(), statusID, appName, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if s.queue == nil {
		result, err := s.apps.CreateOrUpdate(r.Context(), statusID, appName, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if err := s.enqueue(r.Context(), appName, domain.TaskCreate, statusID, taskPayload{CreateOrUpdate: &req}); err != nil {
		writeError(w, apierr.Wrap(apierr.KindTaskQueueError, "enqueue create/update", err))
		return
	}
	s.respondAsync(w, r, appName, statusID, pref)
}

// handleDeleteApp serves DELETE /apps/{appName} with the same async
// semantics as create/update.
func (s *Server) handleDeleteApp(w http.ResponseWriter, r *http.Request) {
	appName := domain.AppName(mux.Vars(r)["appName"])
	statusID := s.status.Begin(appName)
	pref := parsePrefer(r)

	if !pref.async || s.queue == nil {
		result, err := s.apps.DeleteApp(r.Context(), statusID, appName)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if err := s.enqueue(r.Context(), appName, domain.TaskDelete, statusID, taskPayload{}); err != nil {
		writeError(w, apierr.Wrap(apierr.KindTaskQueueError, "enqueue delete", err))
		return
	}
	s.respondAsync(w, r, appName, statusID, pref)
}

// respondAsync implements the `Prefer: respond-async[,wait=N]` long-poll:
// wait up to pref.wait for the statuschange entry to resolve, returning
// 200 with the result if it does in time, else 202 with a Location header
// the caller polls.
func (s *Server) respondAsync(w http.ResponseWriter, r *http.Request, appName domain.AppName, statusID string, pref preference) {
	location := "/apps/" + string(appName) + "/status-changes/" + statusID

	if pref.wait > 0 {
		if entry, ready := s.pollUntilReady(r.Context(), statusID, pref.wait); ready {
			if entry.State == "failed" {
				writeError(w, entry.Err)
				return
			}
			writeJSON(w, http.StatusOK, entry.Result)
			return
		}
	}

	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) pollUntilReady(ctx context.Context, statusID string, wait time.Duration) (statusEntry, bool) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if entry, ok := s.status.Get(statusID); ok && entry.State != "pending" {
			return statusEntry{State: string(entry.State), Result: entry.Result, Err: entry.Err}, true
		}
		if time.Now().After(deadline) {
			return statusEntry{}, false
		}
		select {
		case <-ctx.Done():
			return statusEntry{}, false
		case <-ticker.C:
		}
	}
}

type statusEntry struct {
	State  string
	Result []domain.Service
	Err    error
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", AcceptV2JSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
