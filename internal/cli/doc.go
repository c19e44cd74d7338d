// Package cli provides the shared utilities behind the prevant command-line
// client: endpoint resolution, plain-text table rendering, common flags, and
// connection-error classification for talking to a running prevant server
// over plain HTTP.
//
// # Core components
//
// PlainTableWriter renders kubectl-style plain tables for "apps list" and
// "tasks watch" style output, without requiring a terminal that supports
// Unicode box-drawing.
//
// CommandFlags and RegisterCommonFlags provide a consistent set of
// --output/--no-headers/--quiet/--server flags shared by every subcommand.
//
// ConnectionError and ClassifyConnectionError turn a raw net/http dial error
// into an actionable, categorized message (TLS, DNS, timeout, network
// unreachable) instead of echoing the Go error string as-is.
package cli
