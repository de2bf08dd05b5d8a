package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// SetupLogger configures a logger with the given verbosity and log path.
// Output goes to stderr; stdout belongs to the SSH session of a forced command.
// If logPath is set and can be opened, output is written to the file as well.
func SetupLogger(verbose bool, level string, logPath string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	switch {
	case verbose:
		logger.SetLevel(logrus.DebugLevel)
	case level != "":
		if parsed, err := logrus.ParseLevel(level); err == nil {
			logger.SetLevel(parsed)
		} else {
			logger.SetLevel(logrus.WarnLevel)
		}
	default:
		logger.SetLevel(logrus.WarnLevel)
	}

	if logPath != "" {
		if logFile, err := openLogFile(logPath); err == nil {
			logger.SetOutput(io.MultiWriter(os.Stderr, logFile))
			logger.WithField("log_file", logPath).Debug("Logging to file and stderr")
		} else {
			logger.WithError(err).WithField("log_path", logPath).Warn("Failed to open log file, using stderr only")
		}
	}

	return logger
}

// openLogFile opens a log file for writing, creating parent directories if needed
func openLogFile(logPath string) (*os.File, error) {
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return logFile, nil
}

// SetupLoggerFromConfig creates a logger using configuration from the config struct
func SetupLoggerFromConfig(verbose bool, config interface {
	GetLogPath() string
	GetLogLevel() string
}) *logrus.Logger {
	logPath, level := "", ""
	if config != nil {
		logPath = config.GetLogPath()
		level = config.GetLogLevel()
	}
	return SetupLogger(verbose, level, logPath)
}
