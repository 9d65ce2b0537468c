// Package logging configures the process-wide structured logger, following
// the same init-from-env shape as zstore's internal/logging.
package logging

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Init configures the shared logrus logger from a log level string
// (trace|debug|info|warn|error), defaulting to error on anything else.
func Init(level string) {
	setLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

// InitFromEnv configures the logger from MODCACHE_LOG_LEVEL.
func InitFromEnv() {
	setLevel(strings.ToLower(os.Getenv("MODCACHE_LOG_LEVEL")))
}

func setLevel(level string) {
	switch level {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	default:
		log.SetLevel(log.ErrorLevel)
	}
}

// Component returns a logger entry pre-fielded with a component name, the
// shape every package in modcache logs through instead of the bare global
// logger.
func Component(name string) *log.Entry {
	return log.WithField("component", name)
}
