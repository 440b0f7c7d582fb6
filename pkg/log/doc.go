/*
Package log provides structured logging for burrow using zerolog.

It wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable levels, and helper
functions for the common logging patterns used across the catalog,
policy, auth, and HTTP packages.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	log.Info("server starting")

	component := log.WithComponent("httpapi")
	reqLog := log.WithRequestID(component, reqID)
	reqLog.Info().Str("path", r.URL.Path).Msg("handled request")

# Context loggers

  - WithComponent: tag logs with a subsystem name ("catalog", "policy", "scheduler")
  - WithPrincipal/WithNode/WithRequestID: chain further fields onto a
    component logger (or onto each other) rather than starting fresh
    from the global Logger, so a single log line can carry component,
    principal, node, and request correlation all at once

# Security

Never log secrets: raw API key material, refresh tokens, or signing
keys. Handlers log the principal id, the node, and the scope involved,
not the credential itself.
*/
package log
