package token

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ssh-access-granting-service/internal/config"
	"ssh-access-granting-service/internal/jwt"
	"ssh-access-granting-service/internal/logging"
	"ssh-access-granting-service/provision"
)

// NewTokenCommand creates the token command
func NewTokenCommand(verbose *bool, configPath *string) *cobra.Command {
	var (
		audience   string
		expiration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed JWT for manual requests",
		Long: `Print a JWT signed with this host's key, as attached to key service requests.
Useful for debugging the key service or the tunnel with curl or websocat.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			logger := logging.SetupLoggerFromConfig(*verbose, cfg)

			if audience == "" {
				audience = cfg.ServiceURL
			}
			return runToken(cmd.OutOrStdout(), logger, cfg.KeyPath, audience, expiration, func() (*jwt.Manager, error) {
				return provision.NewTokenManager(cfg, logger)
			})
		},
	}

	cmd.Flags().StringVarP(configPath, "config", "c", config.DefaultConfigPath, "Path to configuration file")
	cmd.Flags().StringVar(&audience, "audience", "", "Token audience (defaults to the key service URL)")
	cmd.Flags().DurationVar(&expiration, "expiration", jwt.DefaultTTL, "Token lifetime")

	return cmd
}

func runToken(out io.Writer, logger *logrus.Logger, keyPath, audience string, expiration time.Duration, load func() (*jwt.Manager, error)) error {
	if keyPath == "" {
		return fmt.Errorf("key_path is not configured, run keygen first")
	}
	if expiration <= 0 {
		return fmt.Errorf("expiration must be positive, got %s", expiration)
	}

	manager, err := load()
	if err != nil {
		return err
	}

	token, err := manager.CreateJWT(audience, expiration)
	if err != nil {
		return fmt.Errorf("failed to create JWT: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"audience":   audience,
		"expires_at": time.Now().Add(expiration).Format(time.RFC3339),
	}).Info("🔐 JWT token generated")

	fmt.Fprintln(out, token)
	return nil
}
