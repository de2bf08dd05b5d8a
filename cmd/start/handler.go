package start

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ssh-access-granting-service/internal/client"
	"ssh-access-granting-service/internal/config"
	"ssh-access-granting-service/internal/logging"
	"ssh-access-granting-service/provision"
)

// auditIdent tags agent audit records in the system authentication log
const auditIdent = "ssh-access-granting-service"

// NewStartCommand creates the start command
func NewStartCommand(verbose *bool, configPath *string) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the access agent connected to the tunnel host",
		Long: `Connect to the configured tunnel host over WebSocket and execute grant and
revoke requests forwarded through it, one at a time, with the same validation
and behavior as the command line.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), *verbose, *configPath, dryRun)
		},
	}

	cmd.Flags().StringVarP(configPath, "config", "c", config.DefaultConfigPath, "Path to configuration file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log OS commands but don't execute them (safe testing mode)")

	return cmd
}

func runStart(ctx context.Context, verbose bool, configPath string, dryRun bool) error {
	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return err
	}
	if dryRun {
		cfg.DryRun = true
	}
	if err := config.ValidateAgent(cfg); err != nil {
		return err
	}

	logger := logging.SetupLoggerFromConfig(verbose, cfg)

	tokens, err := provision.NewTokenManager(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to load signing keys")
		if strings.Contains(err.Error(), "failed to load JWT key") {
			logger.Error("🔑 Keys not found or invalid! Generate them first:")
			logger.Errorf("   1. Generate keys: ssh-access-granting-service keygen --key-path %s", cfg.KeyPath)
			logger.Error("   2. Register the public key with the tunnel backend")
			logger.Error("   3. Run the agent again")
		}
		return err
	}

	controller, err := provision.NewControllerFromConfig(cfg, logger)
	if err != nil {
		return err
	}

	agent, err := client.New(cfg, controller, tokens, logging.NewAuditor(auditIdent, logger), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logrus.Fields{
		"client_id":   cfg.GetClientID(),
		"tunnel_host": cfg.TunnelHost,
		"key_path":    cfg.KeyPath,
		"service_url": cfg.ServiceURL,
		"dry_run":     cfg.DryRun,
	}).Info("Starting SSH access agent")

	if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("SSH access agent stopped with error")
		return err
	}

	logger.Info("SSH access agent stopped")
	return nil
}
