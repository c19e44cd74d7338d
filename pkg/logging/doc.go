// Package logging provides prevant's structured logging: subsystem-tagged
// messages over log/slog, an audit trail for security-sensitive operations,
// and error sanitization so secret material never reaches a log line, API
// response, task result, or event-stream message.
//
// # Usage
//
//	logging.Init(logging.LevelInfo, os.Stdout)
//	logging.Info("AppsService", "deploying %s", appName)
//	logging.Error("Infra", err, "failed to reconcile %s", appName)
//	logging.Audit(logging.AuditEvent{Action: "app_delete", Outcome: "success", AppName: appName})
package logging
