package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"prevant/internal/apierr"
	"prevant/internal/apps"
	"prevant/internal/backupstore"
	"prevant/internal/config"
	"prevant/internal/events"
	"prevant/internal/infra"
	"prevant/internal/queue"
	"prevant/internal/statuschange"
	"prevant/pkg/logging"
)

// AcceptV2JSON and AcceptV2Stream are the versioned media types this
// server negotiates. A request with neither in its Accept header is still
// served as JSON (permissive default); only the stream type switches
// GET /apps/ and GET .../logs/... into their SSE variant.
const (
	AcceptV2JSON   = "application/vnd.prevant.v2+json"
	AcceptV2Stream = "text/vnd.prevant.v2+event-stream"
)

// Server wires the Apps Service, the status-change registry, the event
// broadcaster, the active backend (for log streaming), and an optional
// task queue into the route handlers. Queue may be nil, in which case
// every request runs synchronously on the request goroutine (acceptable
// for the in-memory-only, single-instance deployments the memqueue
// already covers).
type Server struct {
	apps        *apps.Service
	status      *statuschange.Registry
	broadcaster *events.Broadcaster
	backend     infra.Backend
	queue       queue.Queue
	backups     backupstore.Store
	cfg         config.Config
	jira        *jiraClient
}

// New builds a Server. cfg is read for jira.* and used to build the
// tickets-endpoint client lazily (nil Jira config means "no tracker
// configured", in which case the tickets endpoint returns 204). backups
// may be backupstore.NewMemory() when cfg.Database is nil.
func New(cfg config.Config, appsSvc *apps.Service, status *statuschange.Registry, broadcaster *events.Broadcaster, backend infra.Backend, q queue.Queue, backups backupstore.Store) *Server {
	s := &Server{
		apps:        appsSvc,
		status:      status,
		broadcaster: broadcaster,
		backend:     backend,
		queue:       q,
		backups:     backups,
		cfg:         cfg,
	}
	if cfg.Jira != nil {
		s.jira = newJiraClient(*cfg.Jira)
	}
	return s
}

// Router builds the http.Handler serving every route this server exposes,
// including the backup/restore admin routes.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/apps/", s.handleListApps).Methods(http.MethodGet)
	r.HandleFunc("/apps/tickets/", s.handleTickets).Methods(http.MethodGet)
	r.HandleFunc("/apps/{appName}", s.handleCreateOrUpdate).Methods(http.MethodPost)
	r.HandleFunc("/apps/{appName}", s.handleDeleteApp).Methods(http.MethodDelete)
	r.HandleFunc("/apps/{appName}/states/{serviceName}", s.handleChangeServiceState).Methods(http.MethodPut)
	r.HandleFunc("/apps/{appName}/logs/{serviceName}", s.handleStreamLogs).Methods(http.MethodGet)
	r.HandleFunc("/apps/{appName}/backup", s.handleBackupApp).Methods(http.MethodPost)
	r.HandleFunc("/apps/{appName}/restore", s.handleRestoreApp).Methods(http.MethodPost)
	r.HandleFunc("/apps/{appName}/status-changes/{id}", s.handleStatusChange).Methods(http.MethodGet)
	r.Use(s.loggingMiddleware)
	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Debug("HTTPAPI", "%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

// writeError renders err as an RFC 7807 application/problem+json body.
func writeError(w http.ResponseWriter, err error) {
	problem := apierr.ProblemFor(err)
	if writeErr := problem.WriteJSON(w); writeErr != nil {
		logging.Error("HTTPAPI", writeErr, "writing problem+json body")
	}
}

// wantsStream reports whether the request negotiated the SSE media type.
func wantsStream(r *http.Request) bool {
	return r.Header.Get("Accept") == AcceptV2Stream
}
