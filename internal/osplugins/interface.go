package osplugins

import (
	"context"
	"errors"

	"github.com/spf13/afero"

	"ssh-access-granting-service/types"
)

// ErrAccountNotFound is returned by LookupAccount when no such local account exists
var ErrAccountNotFound = errors.New("account not found")

// Signal selects how user processes are terminated
type Signal string

const (
	SignalTerm Signal = "TERM"
	SignalKill Signal = "KILL"
)

// OSPlugin defines the interface for operating system specific implementations.
// All mutating operations run with elevated privileges.
type OSPlugin interface {
	// GetName returns the name of the OS plugin (e.g., "nixos", "linux")
	GetName() string

	// Detect checks if this plugin should be used for the current system
	Detect() bool

	// DefaultShell returns the login shell for created accounts
	DefaultShell() string

	// GetSystemInfo returns OS-specific system information
	GetSystemInfo() map[string]string

	// LookupAccount returns the account or ErrAccountNotFound
	LookupAccount(name string) (*types.Account, error)

	// CreateAccount creates a local account with a home directory
	CreateAccount(ctx context.Context, spec types.AccountSpec) error

	// PrepareCredentialDir creates dir, owned by owner with mode 0700
	PrepareCredentialDir(ctx context.Context, dir, owner string) error

	// ReplaceCredentialFile overwrites dest with the content of src, then sets owner and mode 0600
	ReplaceCredentialFile(ctx context.Context, src, dest, owner string) error

	// ReadCredentialFile returns the file content; a missing file yields an error wrapping fs.ErrNotExist
	ReadCredentialFile(ctx context.Context, path string) ([]byte, error)

	// AppendProfile appends a line to a shell startup file owned by owner
	AppendProfile(ctx context.Context, path, owner, line string) error

	// SignalUserProcesses signals all processes of user and waits for them to exit
	SignalUserProcesses(ctx context.Context, user string, signal Signal) error

	// StagingFs is the filesystem holding process-local temporary files
	StagingFs() afero.Fs
}
