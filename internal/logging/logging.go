package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/andreiashu/coordclean/internal/config"
)

// NewLogger creates a logger writing to stderr. LOG_FORMAT selects "json"
// or "text" (default) output and LOG_LEVEL the level.
func NewLogger() *logrus.Logger {
	return NewLoggerTo(os.Stderr)
}

// NewLoggerTo creates a configured logger writing to w.
func NewLoggerTo(w io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	if strings.EqualFold(config.String("LOG_FORMAT", "text"), "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logger.SetLevel(config.LogLevel())
	return logger
}

// Bootstrap loads the env files and then builds the logger from the
// resulting environment, reporting what was loaded through it.
func Bootstrap() *logrus.Logger {
	return bootstrapTo(os.Stderr)
}

func bootstrapTo(w io.Writer) *logrus.Logger {
	loaded, err := config.LoadEnv()
	logger := NewLoggerTo(w)
	if err != nil {
		logger.WithError(err).Warn("failed to load env files")
	}
	if len(loaded) == 0 {
		logger.Debug("no env files loaded, using process environment")
	} else {
		logger.WithField("files", strings.Join(loaded, ", ")).Debug("loaded env files")
	}
	return logger
}
