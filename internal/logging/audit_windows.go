//go:build windows

package logging

import "github.com/sirupsen/logrus"

// NewAuditor writes audit records to fallback, there is no syslog to attach to
func NewAuditor(_ string, fallback *logrus.Logger) *Auditor {
	return NewAuditorWithLogger(fallback)
}
