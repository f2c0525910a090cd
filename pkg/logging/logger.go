package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/levantcash/bursar/pkg/config"
)

// Logger represents a logger instance
type Logger = *logrus.Logger

// Fields represents structured logging fields
type Fields = logrus.Fields

// Level represents a log level
type Level = logrus.Level

// Log levels
const (
	DebugLevel = logrus.DebugLevel
	InfoLevel  = logrus.InfoLevel
	WarnLevel  = logrus.WarnLevel
	ErrorLevel = logrus.ErrorLevel
)

// Entry represents a logger entry with bound fields
type Entry = *logrus.Entry

// NewLogger creates a new configured logger instance. Output is JSON for
// log shipping unless LOG_FORMAT=text is set for local development.
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	if config.GetEnv("LOG_FORMAT", "json") == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	logger.SetLevel(config.GetLogLevel())
	return logger
}

// NewLoggerWithService creates a logger with a service field
func NewLoggerWithService(serviceName string) *logrus.Logger {
	logger := NewLogger()
	logger = logger.WithField("service", serviceName).Logger
	return logger
}

// WithComponent returns an entry bound to a component name. Used by the
// ledger and verifier packages so their log lines are filterable.
func WithComponent(logger Logger, component string) Entry {
	return logger.WithField("component", component)
}
