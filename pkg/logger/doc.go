// Package logger provides the structured logging interface used across the crawler.
//
// It wraps zerolog with:
//   - Pretty console output with colored levels (or JSON lines)
//   - Structured fields via WithField/WithFields and the *WithFields methods
//   - An optional size-rotated JSON log file (lumberjack)
//
// There is no package-level logger; build one with New and pass it down:
//
//	log, err := logger.New(&cfg.Logging)
//	log = log.WithField("run_id", runID)
//	log.InfoWithFields("Page committed", map[string]interface{}{"page": 3})
//
// Tests use NewNopLogger or NewTestLogger, which records every call.
package logger
