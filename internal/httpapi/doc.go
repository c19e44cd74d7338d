// Package httpapi is the HTTP/REST surface: a gorilla/mux router in front
// of the Apps Service, the Status Change Registry, and the Event Stream
// broadcaster. It is deliberately thin — content negotiation, request
// decoding, and RFC 7807 error rendering — with every operation delegated
// to internal/apps, internal/events, or internal/queue. Follows a
// mux.NewRouter-plus-method-receiver shape, generalized from a single
// fixed route set to one with content-negotiated responses and
// Prefer-driven sync/async branching.
package httpapi
