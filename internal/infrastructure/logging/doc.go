// Package logging provides structured logging for DeviceHub Core.
//
// It wraps log/slog so every component logs with the same shape: JSON in
// production, text for development, and default service/version fields.
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	registryLog := logger.Component("registry")
//	registryLog.Info("device registered", "id", dev.ID, "type", dev.Type)
//
// Never log device config values verbatim: terminals and external API
// connections carry account identifiers there.
package logging
