package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// preference is the parsed form of a `Prefer: respond-async[,wait=N]`
// request header.
type preference struct {
	async bool
	wait  time.Duration // 0 means "no wait value given"
}

func parsePrefer(r *http.Request) preference {
	var p preference
	header := r.Header.Get("Prefer")
	if header == "" {
		return p
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "respond-async":
			p.async = true
		case strings.HasPrefix(part, "wait="):
			if secs, err := strconv.Atoi(strings.TrimPrefix(part, "wait=")); err == nil && secs > 0 {
				p.wait = time.Duration(secs) * time.Second
			}
		}
	}
	return p
}
