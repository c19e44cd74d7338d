// Package app wires the standalone pieces built under internal/ into the
// running prevant server: load configuration, construct the active
// infra.Backend, build the Apps Service and its collaborators, select a
// Task Queue mode, and start the HTTP surface plus its background loops.
// There is one configuration file and one execution mode, an HTTP server,
// so bootstrap is a simple two-phase Config-then-Application shape rather
// than a layered config/TUI/CLI-mode setup.
package app
