// Package logging hands out component loggers backed by logrus.
package logging

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a logger tagged with the component name.
func New(component string) *logrus.Entry {
	return logrus.StandardLogger().WithField("component", component)
}

// SetLevel sets the process-wide level from its name ("debug", "info", ...).
func SetLevel(name string) error {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logrus.SetLevel(lvl)
	return nil
}

// SetFormat selects "text" or "json" output.
func SetFormat(name string) error {
	switch strings.ToLower(name) {
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("log format: unknown format %q", name)
	}
	return nil
}

// OrDefault returns l, or a logger for component when l is nil.
func OrDefault(l *logrus.Entry, component string) *logrus.Entry {
	if l != nil {
		return l
	}
	return New(component)
}
