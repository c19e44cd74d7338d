// Package events coalesces backend polls into a single broadcast snapshot
// backing GET /apps/'s server-sent-events responder: a Poller
// (BackendPoller wraps an infra.Backend) feeds a Broadcaster, which
// debounces rapid changes within a coalesce window and fans the resulting
// Snapshot out to every subscriber. Task-queue transitions and service
// state changes are not fed in directly; they reach subscribers once the
// next poll observes them.
package events
