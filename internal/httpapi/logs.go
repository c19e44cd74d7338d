package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"prevant/internal/apierr"
	"prevant/internal/domain"
	"prevant/internal/infra"
)

// logPageSize bounds a single non-follow response; a `since` query
// parameter past the last line's timestamp lets the caller page forward
// via the `Link: rel="next"` header.
const logPageSize = 500

// handleStreamLogs serves GET /apps/{appName}/logs/{serviceName}: a paged
// text response by default, or an SSE follow when the client negotiates
// text/vnd.prevant.v2+event-stream.
func (s *Server) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	appName := domain.AppName(vars["appName"])
	service := vars["serviceName"]

	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, apierr.Wrap(apierr.KindInvalidPayload, "since must be RFC3339", err))
			return
		}
		since = &t
	}

	follow := wantsStream(r)
	lines, err := s.backend.StreamLogs(r.Context(), appName, service, since, follow)
	if err != nil {
		writeError(w, err)
		return
	}

	if r.URL.Query().Get("asAttachment") == "true" {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-%s.log"`, appName, service))
	}

	if follow {
		s.followLogs(w, r, lines)
		return
	}
	s.pageLogs(w, r, appName, service, lines)
}

func (s *Server) followLogs(w http.ResponseWriter, r *http.Request, lines <-chan infra.LogLine) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apierr.New(apierr.KindNotSupported, "streaming unsupported by this transport"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case <-r.Context().Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s %s\n\n", line.Timestamp.Format(time.RFC3339Nano), line.Line)
			flusher.Flush()
		}
	}
}

func (s *Server) pageLogs(w http.ResponseWriter, r *http.Request, appName domain.AppName, service string, lines <-chan infra.LogLine) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	var last time.Time
	count := 0
	for line := range lines {
		fmt.Fprintf(w, "%s %s\n", line.Timestamp.Format(time.RFC3339Nano), line.Line)
		last = line.Timestamp
		count++
		if count >= logPageSize {
			break
		}
	}

	if count == logPageSize && !last.IsZero() {
		next := *r.URL
		q := next.Query()
		q.Set("since", last.Format(time.RFC3339Nano))
		next.RawQuery = q.Encode()
		w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next"`, next.String()))
	}
}
