package osplugins

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Runner executes system commands. In dry-run mode mutating commands are only logged.
type Runner struct {
	DryRun bool
	Logger *logrus.Logger
}

// NewRunner creates a command runner
func NewRunner(dryRun bool, logger *logrus.Logger) *Runner {
	return &Runner{DryRun: dryRun, Logger: logger}
}

// Exec runs a command that changes system state
func (r *Runner) Exec(ctx context.Context, stdin io.Reader, name string, args ...string) error {
	fields := logrus.Fields{
		"command": name,
		"args":    strings.Join(args, " "),
	}

	if r.DryRun {
		r.Logger.WithFields(fields).Info("🔍 DRY-RUN: Would execute command (no actual changes made)")
		return nil
	}

	r.Logger.WithFields(fields).Debug("Executing command")

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return commandError(name, args, output.String(), err)
	}

	return nil
}

// Query runs a read-only command and returns its standard output; it also runs in dry-run mode
func (r *Runner) Query(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.Logger.WithFields(logrus.Fields{
		"command": name,
		"args":    strings.Join(args, " "),
	}).Debug("Querying")

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, commandError(name, args, stderr.String(), err)
	}

	return out, nil
}

func commandError(name string, args []string, output string, err error) error {
	output = strings.TrimSpace(output)
	if output != "" {
		return fmt.Errorf("%s %s failed: %w: %s", name, strings.Join(args, " "), err, output)
	}
	return fmt.Errorf("%s %s failed: %w", name, strings.Join(args, " "), err)
}
