package provision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ssh-access-granting-service/internal/osplugins"
)

// GracePeriod separates the TERM and KILL rounds
const GracePeriod = 2 * time.Second

// SessionTerminator ends every process of an account
type SessionTerminator struct {
	procs  ProcessManager
	grace  time.Duration
	sleep  func(ctx context.Context, d time.Duration)
	logger *logrus.Logger
}

func NewSessionTerminator(procs ProcessManager, logger *logrus.Logger) *SessionTerminator {
	return &SessionTerminator{
		procs:  procs,
		grace:  GracePeriod,
		sleep:  sleepContext,
		logger: logger,
	}
}

// Terminate sends TERM, waits for the grace period, then sends KILL. Signal
// failures are expected when no process is left and only reported.
func (t *SessionTerminator) Terminate(ctx context.Context, userName string) Result {
	logger := t.logger.WithField("username", userName)
	logger.Info("🔌 Terminating user sessions")

	var errs []string

	if err := t.procs.SignalUserProcesses(ctx, userName, osplugins.SignalTerm); err != nil {
		logger.WithError(err).Debug("TERM round reported an error")
		errs = append(errs, err.Error())
	}

	t.sleep(ctx, t.grace)

	if err := t.procs.SignalUserProcesses(ctx, userName, osplugins.SignalKill); err != nil {
		logger.WithError(err).Debug("KILL round reported an error")
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return Result{
			Success: false,
			Message: fmt.Sprintf("Sessions of %s signalled", userName),
			Error:   strings.Join(errs, "; "),
		}
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("Sessions of %s terminated", userName),
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
