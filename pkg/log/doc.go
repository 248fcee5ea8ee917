/*
Package log provides structured logging for Skalds using zerolog.

The log package wraps the zerolog library to provide structured logging
with component-specific loggers and configurable log levels. All logs include
timestamps and support filtering by severity level.

Components obtain child loggers tagged with their identity:

	logger := log.WithComponent("dispatcher")
	logger.Info().Str("task_id", id).Msg("task assigned")

Console output is human-readable by default; pass JSONOutput to Init for
machine-parseable logs in production.
*/
package log
