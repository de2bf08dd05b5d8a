package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ssh-access-granting-service/internal/osplugins"
	"ssh-access-granting-service/types"
)

const AccountComment = "SSH user created by the SSH access granting service on %s"

// AccountProvisioner creates missing local accounts
type AccountProvisioner struct {
	accounts AccountStore
	groups   []string
	shell    string
	now      func() time.Time
	logger   *logrus.Logger
}

// NewAccountProvisioner creates accounts in groups with shell; an empty shell uses the system default
func NewAccountProvisioner(accounts AccountStore, groups []string, shell string, logger *logrus.Logger) *AccountProvisioner {
	return &AccountProvisioner{
		accounts: accounts,
		groups:   groups,
		shell:    shell,
		now:      time.Now,
		logger:   logger,
	}
}

// Ensure creates userName when it does not exist yet. It never fails the
// caller; the outcome is reported in the result.
func (p *AccountProvisioner) Ensure(ctx context.Context, userName string) Result {
	logger := p.logger.WithField("username", userName)

	_, err := p.accounts.LookupAccount(userName)
	if err == nil {
		logger.Debug("User already exists")
		return Result{Success: true, Message: "User already exists"}
	}
	if !errors.Is(err, osplugins.ErrAccountNotFound) {
		return failed(&AccountCreationError{UserName: userName, Err: err})
	}

	logger.WithField("groups", p.groups).Info("🧑 Creating user")

	spec := types.AccountSpec{
		Name:    userName,
		Groups:  p.groups,
		Shell:   p.shell,
		Comment: accountComment(p.now()),
	}
	if err := p.accounts.CreateAccount(ctx, spec); err != nil {
		return failed(&AccountCreationError{UserName: userName, Err: err})
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("User %s created successfully", userName),
	}
}

// accountComment renders the GECOS comment; useradd rejects colons there
func accountComment(now time.Time) string {
	return strings.ReplaceAll(fmt.Sprintf(AccountComment, now.Format(DateLayout)), ":", "-")
}
