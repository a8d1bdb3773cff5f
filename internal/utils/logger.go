package utils

import (
	"os"

	"github.com/sirupsen/logrus"
)

// ConfigureLogger sets up the global logrus logger for the given
// environment. Production emits JSON, everything else emits text.
func ConfigureLogger(environment, level string) {
	logrus.SetOutput(os.Stdout)

	if environment == "production" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithField("level", level).Warn("Unknown log level, using info")
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
}
