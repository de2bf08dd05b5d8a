package keygen

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ssh-access-granting-service/internal/config"
	"ssh-access-granting-service/internal/jwt"
	"ssh-access-granting-service/internal/logging"
)

// NewKeygenCommand creates the keygen command
func NewKeygenCommand(verbose *bool, configPath *string) *cobra.Command {
	var (
		keyPath string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the JWT keypair used to sign service requests",
		Long: `Generate an ES384 JWT keypair for this host. The public key must be registered
with the key service and the tunnel backend; the private key signs every request
this host makes to them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(cmd.Context(), cmd.OutOrStdout(), *verbose, *configPath, keyPath, force)
		},
	}

	cmd.Flags().StringVarP(configPath, "config", "c", config.DefaultConfigPath, "Path to configuration file")
	cmd.Flags().StringVar(&keyPath, "key-path", "", "Directory to store JWT key files")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing keys")

	return cmd
}

func runKeygen(ctx context.Context, out io.Writer, verbose bool, configPath, keyPath string, force bool) error {
	logger := logging.SetupLogger(verbose, "info", "")

	if keyPath == "" {
		cfg, err := config.Load(ctx, configPath)
		if err != nil {
			logger.WithError(err).Debug("No usable configuration, key path defaults to current directory")
		} else {
			keyPath = cfg.KeyPath
		}
	}
	if keyPath == "" {
		keyPath = "."
	}

	privateKeyPath := filepath.Join(keyPath, jwt.PrivateKeyFile)
	publicKeyPath := filepath.Join(keyPath, jwt.PublicKeyFile)

	if !force {
		if _, err := os.Stat(privateKeyPath); err == nil {
			logger.WithField("path", privateKeyPath).Error("Private key already exists")
			logger.Error("Use --force to overwrite existing keys")
			logger.Error("⚠️  WARNING: Overwriting keys will break existing registrations!")
			return fmt.Errorf("keys already exist at %s", keyPath)
		}
	} else if err := os.Remove(privateKeyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing private key: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %w", err)
	}

	manager := jwt.NewManager(hostname, "", logger)
	if err := manager.GenerateKeyPair(keyPath); err != nil {
		logger.WithError(err).Error("Failed to generate keypair")
		return err
	}

	publicKey, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return fmt.Errorf("failed to read generated public key: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"private_key": privateKeyPath,
		"public_key":  publicKeyPath,
	}).Info("🔑 JWT keypair generated")

	fmt.Fprintf(out, "Private Key: %s\n", privateKeyPath)
	fmt.Fprintf(out, "Public Key:  %s\n", publicKeyPath)
	fmt.Fprintln(out, "\nPublic Key for Registration:")
	fmt.Fprintln(out, string(publicKey))
	fmt.Fprintln(out, "Register the public key with the key service, then set key_path in the configuration.")

	return nil
}
