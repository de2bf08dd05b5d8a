package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"ssh-access-granting-service/cmd/access"
	"ssh-access-granting-service/cmd/keygen"
	"ssh-access-granting-service/cmd/showconfig"
	"ssh-access-granting-service/cmd/start"
	"ssh-access-granting-service/cmd/status"
	"ssh-access-granting-service/cmd/token"
	"ssh-access-granting-service/cmd/version"
	"ssh-access-granting-service/internal/logging"
	"ssh-access-granting-service/types"
)

var errMissingCommand = errors.New("missing command argument")

// Recorder writes the audit record of an invocation
type Recorder interface {
	Record(argv []string)
}

func newRootCommand(execute access.ExecuteFunc, verbose *bool) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "ssh-access-granting-service",
		Short:   "Grant and revoke SSH access from a central key service",
		Version: version.GetVersion(),
		Long: `Installs a user's public key from the key service as a service-generated
authorized_keys entry, or replaces it with a revocation notice and terminates
the user's sessions. Intended to run as an SSH forced command; the invocation is
taken from SSH_ORIGINAL_COMMAND when it is set.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SetOut(cmd.ErrOrStderr())
			_ = cmd.Usage()
			return errMissingCommand
		},
	}

	rootCmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(access.NewGrantCommand(execute))
	rootCmd.AddCommand(access.NewRevokeCommand(execute))
	rootCmd.AddCommand(start.NewStartCommand(verbose, &configPath))
	rootCmd.AddCommand(keygen.NewKeygenCommand(verbose, &configPath))
	rootCmd.AddCommand(token.NewTokenCommand(verbose, &configPath))
	rootCmd.AddCommand(status.NewStatusCommand(verbose, &configPath))
	rootCmd.AddCommand(showconfig.NewConfigCommand(&configPath))
	rootCmd.AddCommand(version.NewVersionCommand())

	return rootCmd
}

// run executes one invocation and returns the process exit code. A non-empty
// originalCommand replaces args and may only name an access command.
func run(ctx context.Context, args []string, originalCommand string, stdout, stderr io.Writer, auditor Recorder, execute access.ExecuteFunc, verbose *bool) int {
	if originalCommand != "" {
		args = strings.Fields(originalCommand)
	}
	if args == nil {
		args = []string{}
	}

	if len(args) > 0 {
		auditor.Record(args)
	}

	if originalCommand != "" && len(args) > 0 && !isAccessCommand(args[0]) {
		fmt.Fprintf(stderr, "ERROR: command %q is not allowed\n", args[0])
		return 1
	}

	rootCmd := newRootCommand(execute, verbose)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errMissingCommand) {
			fmt.Fprintln(stderr, "Missing command argument")
			return 1
		}
		fmt.Fprintf(stderr, "ERROR: %s\n", singleLine(err.Error()))
		return 1
	}
	return 0
}

func isAccessCommand(name string) bool {
	return name == string(types.CommandGrant) || name == string(types.CommandRevoke)
}

func singleLine(msg string) string {
	return strings.Join(strings.Fields(msg), " ")
}

func main() {
	logger := logging.SetupLogger(false, "", "")
	auditor := logging.NewAuditor(filepath.Base(os.Args[0]), logger)

	verbose := false
	code := run(context.Background(), os.Args[1:], os.Getenv("SSH_ORIGINAL_COMMAND"),
		os.Stdout, os.Stderr, auditor, access.ExecuteWithConfig(&verbose), &verbose)
	os.Exit(code)
}
