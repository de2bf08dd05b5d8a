package provision

import (
	"context"
	"net/netip"

	"github.com/spf13/afero"

	"ssh-access-granting-service/internal/osplugins"
	"ssh-access-granting-service/types"
)

// AccountStore looks up and creates local accounts
type AccountStore interface {
	LookupAccount(name string) (*types.Account, error)
	CreateAccount(ctx context.Context, spec types.AccountSpec) error
}

// CredentialStore holds authorized_keys files and shell startup files
type CredentialStore interface {
	PrepareCredentialDir(ctx context.Context, dir, owner string) error
	ReplaceCredentialFile(ctx context.Context, src, dest, owner string) error
	ReadCredentialFile(ctx context.Context, path string) ([]byte, error)
	AppendProfile(ctx context.Context, path, owner, line string) error
	StagingFs() afero.Fs
}

type ProcessManager interface {
	SignalUserProcesses(ctx context.Context, user string, signal osplugins.Signal) error
}

// System bundles every host operation the controller needs; osplugins.OSPlugin satisfies it
type System interface {
	AccountStore
	CredentialStore
	ProcessManager
}

// DelegationTarget sends an access command for user to a peer host
type DelegationTarget interface {
	Delegate(ctx context.Context, command types.Command, user, host string) error
}

// Resolver resolves host names; *net.Resolver satisfies it
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// KeySource returns the current public key of a user
type KeySource interface {
	Fetch(ctx context.Context, userName string) (PublicKey, error)
}

// TokenSource issues bearer tokens for outgoing key requests
type TokenSource interface {
	Token(audience string) (string, error)
}

// Result reports the outcome of a best-effort step
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func failed(err error) Result {
	return Result{Success: false, Error: err.Error()}
}
