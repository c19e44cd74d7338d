package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// writeSSE writes one `data: <json>\n\n` server-sent-event frame and
// flushes it immediately, so a slow long-poll client still sees each
// coalesced snapshot as it is produced.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", raw)
	flusher.Flush()
}
