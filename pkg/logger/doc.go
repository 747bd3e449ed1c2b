// Package logger provides the structured logging interface used across
// feedarchiver. It wraps zerolog with console output on stderr, an optional
// JSON log file and a process-wide logger.
//
//	logger.Initialize(&cfg.Logging)
//	log := logger.GetLogger().WithField("component", "traverser")
//	log.WithField("card", key).Warn("card skipped")
package logger
