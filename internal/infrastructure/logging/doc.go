// Package logging provides structured logging for HomeNet.
//
// It wraps log/slog so every component logs the same way:
//
//   - JSON output by default, text output for development
//   - service and version attributes on every entry
//   - level filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("listening", "port", 3000)
//	logger.Error("failed to save devices database", "error", err)
//
// Never log secrets such as the JWT secret, MQTT password or InfluxDB token.
package logging
