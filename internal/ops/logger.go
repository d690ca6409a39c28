// Package ops provides the structured logging convention shared by every
// pipeline stage: a thin wrapper over logrus that threads correlation IDs
// (request_id, run_id, source_path) and a machine-readable "event" field
// through every error-path log line.
package ops

import (
	log "github.com/sirupsen/logrus"
)

// Logger is satisfied by *logrus.Logger and *logrus.Entry, and by
// WithFields' return value, so call sites don't need to care which they
// hold.
type Logger interface {
	WithFields(fields log.Fields) *log.Entry
	WithField(key string, value interface{}) *log.Entry
}

// New returns the package-wide base logger, configured for JSON output so
// downstream log shippers can parse structured fields.
func New() *log.Logger {
	var l = log.New()
	l.SetFormatter(&log.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	return l
}

// WithEvent starts a field set carrying the machine-readable error/event
// kind every error-path log line must have per the error handling design.
func WithEvent(l Logger, event string) *log.Entry {
	return l.WithField("event", event)
}

// ForRequest scopes a logger to an inbound webhook request.
func ForRequest(l Logger, requestID string) *log.Entry {
	return l.WithField("request_id", requestID)
}

// ForRun scopes a logger to a compaction or analysis run.
func ForRun(l Logger, runID string) *log.Entry {
	return l.WithField("run_id", runID)
}

// ForSource scopes a logger to a source raw-log path.
func ForSource(l Logger, sourcePath string) *log.Entry {
	return l.WithField("source_path", sourcePath)
}
