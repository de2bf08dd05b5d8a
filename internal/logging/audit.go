//go:build !windows

package logging

import (
	"io"
	"log/syslog"

	"github.com/sirupsen/logrus"
	lsyslog "github.com/sirupsen/logrus/hooks/syslog"
)

// NewAuditor attaches a LOG_AUTH syslog hook tagged with ident. If the local syslog
// socket is unavailable, audit records go to fallback instead.
func NewAuditor(ident string, fallback *logrus.Logger) *Auditor {
	hook, err := lsyslog.NewSyslogHook("", "", syslog.LOG_AUTH|syslog.LOG_INFO, ident)
	if err != nil {
		fallback.WithError(err).Warn("Syslog unavailable, writing audit records to the regular log")
		return NewAuditorWithLogger(fallback)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.AddHook(hook)

	return NewAuditorWithLogger(logger)
}
