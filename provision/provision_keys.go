package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"ssh-access-granting-service/types"
)

// Marker ends every authorized_keys entry written by this service. It is the
// only evidence of ownership checked before a revoke, so it must never change.
const Marker = "(generated by even)"

const (
	WelcomeMessage = "Your SSH access was granted by the SSH access granting service on %s"
	RevokedMessage = "Your SSH access was revoked by the SSH access granting service on %s"

	// DateLayout formats dates in banners and account comments
	DateLayout = "2006-01-02 15:04:05"
)

// KeysFilePath returns the authorized_keys path of account
func KeysFilePath(account types.Account) string {
	return filepath.Join(account.HomeDir, ".ssh", "authorized_keys")
}

// BuildEntry renders the single authorized_keys line for key
func BuildEntry(key PublicKey, forcedCommand string) string {
	var b strings.Builder
	if forcedCommand != "" {
		b.WriteString(`command="`)
		b.WriteString(strings.ReplaceAll(forcedCommand, `"`, `\"`))
		b.WriteString(`" `)
	}
	b.WriteString(key.String())
	b.WriteString(" ")
	b.WriteString(Marker)
	b.WriteString("\n")
	return b.String()
}

// HasMarker reports whether content was written by this service
func HasMarker(content []byte) bool {
	return bytes.Contains(content, []byte(Marker))
}

// EchoCommand returns a shell command printing message
func EchoCommand(message string) string {
	return shellquote.Join("echo", message)
}

// FallbackStagingDirs are tried in order when the configured staging directory is missing
var FallbackStagingDirs = []string{"/run/shm", "/dev/shm", os.TempDir()}

// KeyWriter installs authorized_keys entries through a CredentialStore
type KeyWriter struct {
	store        CredentialStore
	tempDir      string
	fallbackDirs []string
	logger       *logrus.Logger
}

// NewKeyWriter stages entries in tempDir, ideally on a memory-backed filesystem
func NewKeyWriter(store CredentialStore, tempDir string, logger *logrus.Logger) *KeyWriter {
	return &KeyWriter{
		store:        store,
		tempDir:      tempDir,
		fallbackDirs: FallbackStagingDirs,
		logger:       logger,
	}
}

// Install replaces keysFile with a single marked entry for key, owned by owner
func (w *KeyWriter) Install(ctx context.Context, owner, keysFile string, key PublicKey, forcedCommand string) error {
	logger := w.logger.WithFields(logrus.Fields{
		"username": owner,
		"path":     keysFile,
		"forced":   forcedCommand != "",
	})
	logger.Info("🔑 Installing authorized keys")

	if err := w.store.PrepareCredentialDir(ctx, filepath.Dir(keysFile), owner); err != nil {
		return &InstallError{UserName: owner, Path: keysFile, Err: err}
	}

	staged, err := w.stage(owner, BuildEntry(key, forcedCommand))
	if err != nil {
		return &InstallError{UserName: owner, Path: keysFile, Err: err}
	}
	defer func() {
		if err := w.store.StagingFs().Remove(staged); err != nil {
			logger.WithError(err).Debug("Failed to remove staged key file")
		}
	}()

	if err := w.store.ReplaceCredentialFile(ctx, staged, keysFile, owner); err != nil {
		return &InstallError{UserName: owner, Path: keysFile, Err: err}
	}

	logger.Debug("Authorized keys installed")
	return nil
}

func (w *KeyWriter) stage(owner, entry string) (string, error) {
	dir, err := w.stagingDir()
	if err != nil {
		return "", err
	}

	f, err := afero.TempFile(w.store.StagingFs(), dir, owner+"-sshkey-*.pub")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary key file in %s: %w", dir, err)
	}

	if _, err := f.WriteString(entry); err != nil {
		f.Close()
		w.store.StagingFs().Remove(f.Name())
		return "", fmt.Errorf("failed to write temporary key file: %w", err)
	}

	if err := f.Close(); err != nil {
		w.store.StagingFs().Remove(f.Name())
		return "", fmt.Errorf("failed to write temporary key file: %w", err)
	}

	return f.Name(), nil
}

// stagingDir returns the configured temp dir, or the first existing fallback
func (w *KeyWriter) stagingDir() (string, error) {
	candidates := append([]string{w.tempDir}, w.fallbackDirs...)

	for i, dir := range candidates {
		if dir == "" {
			continue
		}
		if ok, err := afero.DirExists(w.store.StagingFs(), dir); err != nil || !ok {
			continue
		}
		if i > 0 {
			w.logger.WithFields(logrus.Fields{
				"configured": w.tempDir,
				"using":      dir,
			}).Warn("⚠️ Staging directory missing, using fallback")
		}
		return dir, nil
	}

	return "", fmt.Errorf("no staging directory available, tried %s", strings.Join(candidates, ", "))
}

// WriteBanner appends a login banner rendered from format and the date of at
// to the account's ~/.profile, unless a banner from the same format is already
// there. Failures are reported in the result only.
func (w *KeyWriter) WriteBanner(ctx context.Context, account types.Account, format string, at time.Time) Result {
	profile := filepath.Join(account.HomeDir, ".profile")

	content, err := w.store.ReadCredentialFile(ctx, profile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.logger.WithError(err).WithField("path", profile).Debug("Cannot read profile, appending banner")
	}
	if hasBanner(content, format) {
		return Result{
			Success: true,
			Message: fmt.Sprintf("Welcome message already present in %s", profile),
		}
	}

	message := fmt.Sprintf(format, at.Format(DateLayout))
	if err := w.store.AppendProfile(ctx, profile, account.Name, EchoCommand(message)); err != nil {
		return failed(fmt.Errorf("failed to write welcome message to %s: %w", profile, err))
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("Welcome message written to %s", profile),
	}
}

// hasBanner reports whether profile holds an echo line whose text starts like format
func hasBanner(profile []byte, format string) bool {
	lead, _, _ := strings.Cut(format, "%s")
	if lead == "" {
		return false
	}

	for _, line := range strings.Split(string(profile), "\n") {
		words, err := shellquote.Split(line)
		if err != nil || len(words) != 2 || words[0] != "echo" {
			continue
		}
		if strings.HasPrefix(words[1], lead) {
			return true
		}
	}
	return false
}
