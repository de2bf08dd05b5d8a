package logging

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Auditor records every invocation to the system authentication log
type Auditor struct {
	logger *logrus.Logger
}

// NewAuditorWithLogger creates an auditor writing to the given logger
func NewAuditorWithLogger(logger *logrus.Logger) *Auditor {
	return &Auditor{logger: logger}
}

// Record writes the raw argument line
func (a *Auditor) Record(argv []string) {
	a.logger.Info(strings.Join(argv, " "))
}
