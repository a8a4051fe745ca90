// Package logging configures structured logging for the companion.
package logging

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Init configures the global logrus logger. Output is JSON so the
// desktop shell can ship logs without re-parsing them.
func Init(out io.Writer, level string) {
	logrus.SetOutput(out)
	logrus.SetFormatter(&logrus.JSONFormatter{})

	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
}

// WithComponent returns a logger entry tagged with the component name.
// Packages log through their component entry so every line carries
// its origin.
func WithComponent(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}
