package provision

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/sirupsen/logrus"

	"ssh-access-granting-service/types"
)

// RevocationEnforcer replaces a granted key with a revoked-banner entry and ends the account's sessions
type RevocationEnforcer struct {
	creds    CredentialStore
	writer   *KeyWriter
	sessions *SessionTerminator
	now      func() time.Time
	logger   *logrus.Logger
}

func NewRevocationEnforcer(creds CredentialStore, writer *KeyWriter, sessions *SessionTerminator, logger *logrus.Logger) *RevocationEnforcer {
	return &RevocationEnforcer{
		creds:    creds,
		writer:   writer,
		sessions: sessions,
		now:      time.Now,
		logger:   logger,
	}
}

// Revoke rewrites the account's authorized_keys so that key only prints the
// revoked banner, then terminates the account's processes. Accounts whose
// credential file lacks the marker are left untouched.
func (e *RevocationEnforcer) Revoke(ctx context.Context, account types.Account, key PublicKey) error {
	keysFile := KeysFilePath(account)
	logger := e.logger.WithFields(logrus.Fields{
		"username": account.Name,
		"path":     keysFile,
	})

	content, err := e.creds.ReadCredentialFile(ctx, keysFile)
	if errors.Is(err, fs.ErrNotExist) {
		return &NotOwnedError{UserName: account.Name, Path: keysFile}
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", keysFile, err)
	}
	if !HasMarker(content) {
		return &NotOwnedError{UserName: account.Name, Path: keysFile}
	}

	logger.Info("🚫 Revoking SSH access")

	forced := EchoCommand(fmt.Sprintf(RevokedMessage, e.now().Format(DateLayout)))
	if err := e.writer.Install(ctx, account.Name, keysFile, key, forced); err != nil {
		return err
	}

	if result := e.sessions.Terminate(ctx, account.Name); !result.Success {
		logger.WithField("error", result.Error).Warn("Some user processes could not be signalled")
	}

	return nil
}
