package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"prevant/internal/apierr"
	"prevant/internal/backupstore"
	"prevant/internal/domain"
)

// handleBackupApp serves POST /apps/{appName}/backup (Kubernetes only —
// the Docker backend returns apierr.KindNotSupported). It runs
// synchronously: backupApp is not one of the queued task kinds (those are
// limited to create/delete/restore), since a backup has no effect visible
// to a concurrent createOrUpdate/deleteApp the way those three do.
func (s *Server) handleBackupApp(w http.ResponseWriter, r *http.Request) {
	appName := domain.AppName(mux.Vars(r)["appName"])
	statusID := s.status.Begin(appName)

	payload, err := s.apps.BackupApp(r.Context(), statusID, appName)
	if err != nil {
		writeError(w, err)
		return
	}

	rec := backupstore.Record{
		AppName:               appName,
		DeclaredConfigs:       s.apps.DeclaredConfigs(appName),
		InfrastructurePayload: payload,
		CreatedAt:             time.Now(),
	}
	if err := s.backups.Save(r.Context(), rec); err != nil {
		writeError(w, apierr.Wrap(apierr.KindBackendPermanent, "persist app_backup row", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRestoreApp serves POST /apps/{appName}/restore: it looks up the
// most recent app_backup row and runs the BackedUp -> Restoring -> Idle
// transition against its payload. Restore is a queued task kind (unlike
// backup), so it honors the same Prefer semantics as create/update.
func (s *Server) handleRestoreApp(w http.ResponseWriter, r *http.Request) {
	appName := domain.AppName(mux.Vars(r)["appName"])

	rec, ok, err := s.backups.Load(r.Context(), appName)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindBackendPermanent, "load app_backup row", err))
		return
	}
	if !ok {
		writeError(w, apierr.New(apierr.KindNotFound, "no backup recorded for this app"))
		return
	}

	statusID := s.status.Begin(appName)
	pref := parsePrefer(r)

	if !pref.async || s.queue == nil {
		result, err := s.apps.RestoreApp(r.Context(), statusID, appName, rec.InfrastructurePayload)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if err := s.enqueue(r.Context(), appName, domain.TaskRestore, statusID, taskPayload{RestorePayload: rec.InfrastructurePayload}); err != nil {
		writeError(w, apierr.Wrap(apierr.KindTaskQueueError, "enqueue restore", err))
		return
	}
	s.respondAsync(w, r, appName, statusID, pref)
}
