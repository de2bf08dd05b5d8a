package showconfig

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ssh-access-granting-service/internal/config"
	"ssh-access-granting-service/types"
)

// NewConfigCommand creates the config command
func NewConfigCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Load the configuration the way grant and revoke do (file, else instance
metadata), apply defaults and validation, and print the result as YAML.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			return writeConfig(cmd.OutOrStdout(), cfg)
		},
	}

	cmd.Flags().StringVarP(configPath, "config", "c", config.DefaultConfigPath, "Path to configuration file")

	return cmd
}

func writeConfig(out io.Writer, cfg *types.Config) error {
	encoder := yaml.NewEncoder(out)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	return encoder.Close()
}
