// Package config decodes prevant's TOML configuration file: runtime
// backend selection, applications policy, container limits, companions,
// hooks, registries, OpenID providers, and database (task-queue/backup)
// persistence. Configuration is read-only after startup; there is no
// hot-reload.
//
// # Usage
//
//	cfg, err := config.Load("/etc/prevant/config.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
