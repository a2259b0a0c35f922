// Package logging provides structured logging utilities for the sandbox provider.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Key Features
//
//   - Structured logging with slog
//   - Credential/token masking
//   - Host/URL sanitization for security
//   - Consistent attribute naming across the codebase (pod, release, chart, task)
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithTask(slog.Default(), "ctf-sample-17")
//	logger.Info("installing release",
//	    logging.Release(r.ReleaseName),
//	    logging.Chart(chart))
//
// Sanitize sensitive data before logging:
//
//	logger.Error("exec failed",
//	    logging.SanitizedErr(err),
//	    logging.Host(apiServerURL))
//
// # Security Considerations
//
// This package is designed with security in mind:
//   - API server URLs have IP addresses redacted to prevent topology leakage
//   - Bearer tokens are never logged directly, only a length indicator
package logging
