// Package logging provides structured logging for the Switcher REST service.
//
// It wraps log/slog with:
//
//   - JSON output for containers, text output for local runs
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
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
//	logger.Info("listening", "addr", cfg.Addr())
//
// Never log device keys or bearer tokens.
package logging
