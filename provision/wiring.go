package provision

import (
	"fmt"
	"net"
	"os"

	"github.com/sirupsen/logrus"

	"ssh-access-granting-service/internal/delegate"
	"ssh-access-granting-service/internal/jwt"
	"ssh-access-granting-service/internal/osplugins"
	"ssh-access-granting-service/types"
)

// NewControllerFromConfig builds a Controller for the detected operating system
func NewControllerFromConfig(cfg *types.Config, logger *logrus.Logger) (*Controller, error) {
	system := osplugins.Detect(cfg.DryRun, logger)

	var tokens TokenSource
	if cfg.KeyPath != "" {
		manager, err := NewTokenManager(cfg, logger)
		if err != nil {
			return nil, err
		}
		tokens = manager
	}

	remote := delegate.NewSSHDelegate(cfg.RemoteUser, cfg.RemoteIdentityFiles, logger)
	return NewControllerWithSystem(cfg, system, NewFetcher(cfg.ServiceURL, tokens, logger), remote, net.DefaultResolver, logger), nil
}

// NewControllerWithSystem builds a Controller on explicit collaborators
func NewControllerWithSystem(cfg *types.Config, system System, keys KeySource, remote DelegationTarget, resolver Resolver, logger *logrus.Logger) *Controller {
	writer := NewKeyWriter(system, cfg.TempDir, logger)

	return NewController(Dependencies{
		Keys:        keys,
		System:      system,
		Provisioner: NewAccountProvisioner(system, cfg.UserGroups, cfg.DefaultShell, logger),
		Writer:      writer,
		Enforcer:    NewRevocationEnforcer(system, writer, NewSessionTerminator(system, logger), logger),
		Gate:        NewNetworkGate(resolver, cfg.AllowedNetworks, logger),
		Remote:      remote,
		Fallback: FallbackAccount{
			UserName: cfg.FallbackUser,
			KeysFile: cfg.FallbackKeysFile,
		},
		Logger: logger,
	})
}

// NewTokenManager loads the signing keys from cfg.KeyPath
func NewTokenManager(cfg *types.Config, logger *logrus.Logger) (*jwt.Manager, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to get hostname: %w", err)
	}

	manager := jwt.NewManager(hostname, cfg.HostID, logger)
	if err := manager.LoadKey(cfg.KeyPath); err != nil {
		return nil, fmt.Errorf("failed to load JWT keys: %w", err)
	}
	return manager, nil
}
