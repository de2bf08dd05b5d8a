package osplugins

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"ssh-access-granting-service/types"
)

// replaceScript copies $1 over $2 and hands it to $3 in a single privileged shell
const replaceScript = `cat "$1" > "$2" && chown "$3" "$2" && chmod 600 "$2"`

type LinuxPlugin struct {
	runner *Runner
	logger *logrus.Logger
	shell  string
}

// NewLinuxPlugin creates a new Linux plugin instance
func NewLinuxPlugin(runner *Runner, logger *logrus.Logger) *LinuxPlugin {
	return &LinuxPlugin{
		runner: runner,
		logger: logger,
		shell:  "/bin/bash",
	}
}

func (p *LinuxPlugin) GetName() string {
	return "linux"
}

// Detect always returns true as Linux is the fallback
func (p *LinuxPlugin) Detect() bool {
	return true
}

func (p *LinuxPlugin) DefaultShell() string {
	return p.shell
}

func (p *LinuxPlugin) GetSystemInfo() map[string]string {
	info := map[string]string{
		"os":   "linux",
		"arch": runtime.GOARCH,
	}

	if content, err := os.ReadFile("/etc/os-release"); err == nil {
		for _, line := range strings.Split(string(content), "\n") {
			if value, ok := strings.CutPrefix(line, "PRETTY_NAME="); ok {
				info["distribution"] = strings.Trim(value, `"`)
			}
		}
	}

	return info
}

func (p *LinuxPlugin) LookupAccount(name string) (*types.Account, error) {
	return lookupAccount(name)
}

func (p *LinuxPlugin) CreateAccount(ctx context.Context, spec types.AccountSpec) error {
	shell := spec.Shell
	if shell == "" {
		shell = p.shell
	}

	p.logger.WithFields(logrus.Fields{
		"username": spec.Name,
		"groups":   spec.Groups,
		"shell":    shell,
	}).Info("Creating user with useradd")

	if !commandExists("useradd") {
		return fmt.Errorf("useradd not found")
	}

	return p.runner.Exec(ctx, nil, "sudo", useraddArgs(spec, shell)...)
}

func (p *LinuxPlugin) PrepareCredentialDir(ctx context.Context, dir, owner string) error {
	p.logger.WithFields(logrus.Fields{
		"dir":   dir,
		"owner": owner,
	}).Debug("Preparing credential directory")

	if err := p.runner.Exec(ctx, nil, "sudo", "mkdir", "-p", dir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if err := p.runner.Exec(ctx, nil, "sudo", "chown", owner, dir); err != nil {
		return fmt.Errorf("failed to set ownership for %s: %w", dir, err)
	}

	if err := p.runner.Exec(ctx, nil, "sudo", "chmod", "0700", dir); err != nil {
		return fmt.Errorf("failed to set permissions for %s: %w", dir, err)
	}

	return nil
}

func (p *LinuxPlugin) ReplaceCredentialFile(ctx context.Context, src, dest, owner string) error {
	p.logger.WithFields(logrus.Fields{
		"src":   src,
		"dest":  dest,
		"owner": owner,
	}).Debug("Replacing credential file")

	if err := p.runner.Exec(ctx, nil, "sudo", "sh", "-c", replaceScript, "sh", src, dest, owner); err != nil {
		return fmt.Errorf("failed to install %s: %w", dest, err)
	}

	return nil
}

func (p *LinuxPlugin) ReadCredentialFile(ctx context.Context, path string) ([]byte, error) {
	if _, err := p.runner.Query(ctx, "sudo", "test", "-f", path); err != nil {
		return nil, fmt.Errorf("%s: %w", path, fs.ErrNotExist)
	}

	content, err := p.runner.Query(ctx, "sudo", "cat", path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return content, nil
}

func (p *LinuxPlugin) AppendProfile(ctx context.Context, path, owner, line string) error {
	if err := p.runner.Exec(ctx, strings.NewReader(line+"\n"), "sudo", "tee", "-a", path); err != nil {
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}

	if err := p.runner.Exec(ctx, nil, "sudo", "chown", owner, path); err != nil {
		return fmt.Errorf("failed to set ownership for %s: %w", path, err)
	}

	return nil
}

func (p *LinuxPlugin) SignalUserProcesses(ctx context.Context, username string, signal Signal) error {
	args := []string{"killall"}
	if signal != SignalTerm {
		args = append(args, "-"+string(signal))
	}
	args = append(args, "-u", username, "-w")

	p.logger.WithFields(logrus.Fields{
		"username": username,
		"signal":   signal,
	}).Info("🔪 Signalling user processes")

	return p.runner.Exec(ctx, nil, "sudo", args...)
}

func (p *LinuxPlugin) StagingFs() afero.Fs {
	return afero.NewOsFs()
}

func lookupAccount(name string) (*types.Account, error) {
	u, err := user.Lookup(name)
	if err != nil {
		var unknown user.UnknownUserError
		if errors.As(err, &unknown) {
			return nil, fmt.Errorf("%s: %w", name, ErrAccountNotFound)
		}
		return nil, fmt.Errorf("failed to look up user %s: %w", name, err)
	}

	return &types.Account{Name: u.Username, HomeDir: u.HomeDir}, nil
}
