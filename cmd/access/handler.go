package access

import (
	"context"

	"github.com/spf13/cobra"

	"ssh-access-granting-service/internal/config"
	"ssh-access-granting-service/internal/logging"
	"ssh-access-granting-service/provision"
	"ssh-access-granting-service/types"
)

// ExecuteFunc runs a validated access request
type ExecuteFunc func(ctx context.Context, req types.AccessRequest) error

// NewGrantCommand creates the grant-ssh-access command
func NewGrantCommand(execute ExecuteFunc) *cobra.Command {
	var remoteHost string

	cmd := &cobra.Command{
		Use:   string(types.CommandGrant) + " <name>",
		Short: "Grant SSH access to a user",
		Long: `Fetch the user's public key from the key service and install it for the
local account, creating the account if necessary. With --remote-host the grant
is repeated on the remote host.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := provision.NewAccessRequest(types.CommandGrant, args[0], remoteHost, false)
			if err != nil {
				return err
			}
			return execute(cmd.Context(), req)
		},
	}

	cmd.Flags().StringVar(&remoteHost, "remote-host", "", "Remote host to add user on")

	return cmd
}

// NewRevokeCommand creates the revoke-ssh-access command
func NewRevokeCommand(execute ExecuteFunc) *cobra.Command {
	var (
		remoteHost string
		keepLocal  bool
	)

	cmd := &cobra.Command{
		Use:   string(types.CommandRevoke) + " <name>",
		Short: "Revoke SSH access from a user",
		Long: `Replace the user's service-generated key entry with one whose forced command
only prints a revocation notice, and terminate the user's sessions. With
--remote-host the revocation is repeated on the remote host.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := provision.NewAccessRequest(types.CommandRevoke, args[0], remoteHost, keepLocal)
			if err != nil {
				return err
			}
			return execute(cmd.Context(), req)
		},
	}

	cmd.Flags().StringVar(&remoteHost, "remote-host", "", "Remote host to remove user from")
	cmd.Flags().BoolVar(&keepLocal, "keep-local", false, "Keep local SSH access, only remove on remote host")

	return cmd
}

// ExecuteWithConfig loads the fixed configuration file and runs requests
// through a controller built for the detected operating system
func ExecuteWithConfig(verbose *bool) ExecuteFunc {
	return ExecuteWithLoader(verbose, config.NewLoader(), config.DefaultConfigPath)
}

func ExecuteWithLoader(verbose *bool, loader *config.Loader, configPath string) ExecuteFunc {
	return func(ctx context.Context, req types.AccessRequest) error {
		cfg, err := loader.Load(ctx, configPath)
		if err != nil {
			return err
		}

		logger := logging.SetupLoggerFromConfig(*verbose, cfg)

		controller, err := provision.NewControllerFromConfig(cfg, logger)
		if err != nil {
			return err
		}

		return controller.Execute(ctx, req)
	}
}
