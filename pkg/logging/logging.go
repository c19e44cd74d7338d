// Package logging provides prevant's structured logging system: a thin
// subsystem-tagged wrapper around log/slog, bridged into
// sigs.k8s.io/controller-runtime so that client-go and controller-runtime
// machinery (used by the Kubernetes backend) log through the same pipeline
// as the rest of the service.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime"
)

// LogLevel defines the severity of the log entry.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String makes LogLevel satisfy the fmt.Stringer interface.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// Init initializes the process-wide logger. It must be called once at
// startup, before any backend (Docker or Kubernetes client) is constructed,
// so that controller-runtime's internal logger is set before first use.
func Init(level LogLevel, output io.Writer) {
	opts := &slog.HandlerOptions{Level: level.SlogLevel()}
	handler := slog.NewTextHandler(output, opts)
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
	ctrl.SetLogger(logr.FromSlogHandler(handler))
}

func logInternal(level LogLevel, subsystem string, err error, messageFmt string, args ...interface{}) {
	if defaultLogger == nil || !defaultLogger.Enabled(context.Background(), level.SlogLevel()) {
		return
	}

	msg := messageFmt
	if len(args) > 0 {
		msg = fmt.Sprintf(messageFmt, args...)
	}

	attrs := []slog.Attr{slog.String("subsystem", subsystem)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	defaultLogger.LogAttrs(context.Background(), level.SlogLevel(), msg, attrs...)
}

// Debug logs a debug message.
func Debug(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelDebug, subsystem, nil, messageFmt, args...)
}

// Info logs an informational message.
func Info(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelInfo, subsystem, nil, messageFmt, args...)
}

// Warn logs a warning message.
func Warn(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelWarn, subsystem, nil, messageFmt, args...)
}

// Error logs an error message.
func Error(subsystem string, err error, messageFmt string, args ...interface{}) {
	logInternal(LevelError, subsystem, err, messageFmt, args...)
}

// TruncateID returns a truncated identifier for secure logging: the first
// 8 characters plus an ellipsis, so correlation remains possible without
// leaking a full status-change ID, owner subject, or task ID into logs.
func TruncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}

// AuditEvent represents a structured audit log entry for security-sensitive
// operations: owner changes, secret mounts, app deletes.
type AuditEvent struct {
	Action  string // e.g. "app_delete", "owner_assigned", "secret_mount"
	Outcome string // "success" or "failure"
	AppName string
	Subject string // owner subject (sub claim), truncated
	Target  string // e.g. service name
	Details string
	Error   string
}

// Audit logs a structured audit event, always at INFO level with an
// [AUDIT] prefix so log aggregators can filter on it independently of
// severity.
func Audit(event AuditEvent) {
	parts := make([]string, 0, 6)
	parts = append(parts, "action="+event.Action)
	parts = append(parts, "outcome="+event.Outcome)
	if event.AppName != "" {
		parts = append(parts, "app="+event.AppName)
	}
	if event.Subject != "" {
		parts = append(parts, "subject="+TruncateID(event.Subject))
	}
	if event.Target != "" {
		parts = append(parts, "target="+event.Target)
	}
	if event.Details != "" {
		parts = append(parts, "details="+event.Details)
	}
	if event.Error != "" {
		parts = append(parts, "error="+event.Error)
	}
	logInternal(LevelInfo, "AUDIT", nil, "[AUDIT] %s", strings.Join(parts, " "))
}

var (
	pathPattern   = regexp.MustCompile(`(?:/[\w.-]+)+/`)
	tokenPattern  = regexp.MustCompile(`(?i)(bearer\s+|token[=:]\s*|apikey[=:]\s*|password[=:]\s*|secret[=:]\s*)[\w\-._~+/]+=*`)
	base64Pattern = regexp.MustCompile(`[A-Za-z0-9+/]{20,}={0,2}`)
)

// SanitizeErrorMessage strips absolute paths, bearer tokens, and
// base64-looking secrets from an error message before it is allowed to
// reach a Task result, status-change record, API response, or log line
// (invariant P9: secret confinement).
func SanitizeErrorMessage(errMsg string) string {
	if errMsg == "" {
		return ""
	}

	errMsg = pathPattern.ReplaceAllString(errMsg, "[path]/")
	errMsg = tokenPattern.ReplaceAllString(errMsg, "$1[REDACTED]")
	errMsg = base64Pattern.ReplaceAllStringFunc(errMsg, func(match string) string {
		if len(match) > 40 {
			return "[REDACTED]"
		}
		return match
	})

	return errMsg
}
