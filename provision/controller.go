package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"ssh-access-granting-service/internal/osplugins"
	"ssh-access-granting-service/types"
)

// FallbackAccount receives the key when the requested account cannot be written.
// Its credential directory is expected on a memory-backed filesystem.
type FallbackAccount struct {
	UserName string
	KeysFile string
}

// Dependencies wires a Controller
type Dependencies struct {
	Keys        KeySource
	System      System
	Provisioner *AccountProvisioner
	Writer      *KeyWriter
	Enforcer    *RevocationEnforcer
	Gate        *NetworkGate
	Remote      DelegationTarget
	Fallback    FallbackAccount
	Logger      *logrus.Logger
}

// Controller runs grant and revoke requests
type Controller struct {
	keys        KeySource
	system      System
	provisioner *AccountProvisioner
	writer      *KeyWriter
	enforcer    *RevocationEnforcer
	gate        *NetworkGate
	remote      DelegationTarget
	fallback    FallbackAccount
	now         func() time.Time
	logger      *logrus.Logger
}

func NewController(deps Dependencies) *Controller {
	return &Controller{
		keys:        deps.Keys,
		system:      deps.System,
		provisioner: deps.Provisioner,
		writer:      deps.Writer,
		enforcer:    deps.Enforcer,
		gate:        deps.Gate,
		remote:      deps.Remote,
		fallback:    deps.Fallback,
		now:         time.Now,
		logger:      deps.Logger,
	}
}

// Execute dispatches req to Grant or Revoke
func (c *Controller) Execute(ctx context.Context, req types.AccessRequest) error {
	c.logger.WithFields(logrus.Fields{
		"command":     req.Command,
		"username":    req.UserName,
		"remote_host": req.RemoteHost,
		"keep_local":  req.KeepLocal,
	}).Info("🚀 Executing access request")

	switch req.Command {
	case types.CommandGrant:
		return c.Grant(ctx, req)
	case types.CommandRevoke:
		return c.Revoke(ctx, req)
	default:
		return fmt.Errorf("unknown command %q", req.Command)
	}
}

// Grant installs the user's current key locally, falling back to the fallback
// account when the user's own credential file cannot be written, then grants
// on the remote host if one was requested.
func (c *Controller) Grant(ctx context.Context, req types.AccessRequest) error {
	key, err := c.keys.Fetch(ctx, req.UserName)
	if err != nil {
		return err
	}

	c.report("ensure_account", req.UserName, c.provisioner.Ensure(ctx, req.UserName))

	if err := c.installLocal(ctx, req.UserName, key); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"username":      req.UserName,
			"fallback_user": c.fallback.UserName,
		}).Warn("⚠️ Installing for user failed, granting access through fallback account")

		if err := c.writer.Install(ctx, c.fallback.UserName, c.fallback.KeysFile, key, ""); err != nil {
			return err
		}
	}

	if req.RemoteHost == "" {
		return nil
	}
	return c.delegate(ctx, types.CommandGrant, req.UserName, req.RemoteHost)
}

func (c *Controller) installLocal(ctx context.Context, userName string, key PublicKey) error {
	account, err := c.system.LookupAccount(userName)
	if err != nil {
		return &InstallError{UserName: userName, Err: err}
	}

	if err := c.writer.Install(ctx, account.Name, KeysFilePath(*account), key, ""); err != nil {
		return err
	}

	c.report("welcome_banner", userName, c.writer.WriteBanner(ctx, *account, WelcomeMessage, c.now()))
	return nil
}

// Revoke disables the user's key locally unless KeepLocal is set, then revokes
// on the remote host if one was requested. A missing local account is not an error.
func (c *Controller) Revoke(ctx context.Context, req types.AccessRequest) error {
	if !req.KeepLocal {
		account, err := c.system.LookupAccount(req.UserName)
		switch {
		case errors.Is(err, osplugins.ErrAccountNotFound):
			c.logger.WithField("username", req.UserName).Info("User does not exist locally, nothing to revoke")
		case err != nil:
			return err
		default:
			key, err := c.keys.Fetch(ctx, req.UserName)
			if err != nil {
				return err
			}
			if err := c.enforcer.Revoke(ctx, *account, key); err != nil {
				return err
			}
		}
	}

	if req.RemoteHost == "" {
		return nil
	}
	return c.delegate(ctx, types.CommandRevoke, req.UserName, req.RemoteHost)
}

func (c *Controller) delegate(ctx context.Context, command types.Command, userName, host string) error {
	if err := c.gate.Check(ctx, host); err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"command":     command,
		"username":    userName,
		"remote_host": host,
	}).Info("📡 Delegating to remote host")

	if err := c.remote.Delegate(ctx, command, userName, host); err != nil {
		return &DelegationError{Host: host, Command: command, Err: err}
	}
	return nil
}

// report logs the outcome of a best-effort step; it never fails the request
func (c *Controller) report(step, userName string, result Result) {
	logger := c.logger.WithFields(logrus.Fields{
		"step":     step,
		"username": userName,
	})
	if !result.Success {
		logger.WithField("error", result.Error).Warn("Best-effort step failed, continuing")
		return
	}
	logger.Debug(result.Message)
}
