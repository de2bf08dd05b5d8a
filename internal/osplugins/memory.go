package osplugins

import (
	"context"
	"fmt"
	"os"
	"path"
	"sync"

	"github.com/spf13/afero"

	"ssh-access-granting-service/types"
)

// Operation names a MemoryPlugin operation for failure injection
type Operation string

const (
	OpCreateAccount Operation = "create-account"
	OpPrepareDir    Operation = "prepare-dir"
	OpReplace       Operation = "replace"
	OpRead          Operation = "read"
	OpAppendProfile Operation = "append-profile"
	OpSignal        Operation = "signal"
)

// SignalRecord is one SignalUserProcesses call seen by a MemoryPlugin
type SignalRecord struct {
	User   string
	Signal Signal
}

// MemoryPlugin is an OSPlugin keeping accounts and files in memory. It needs no
// privileges and is used to exercise the access flow in isolation.
type MemoryPlugin struct {
	mu       sync.Mutex
	fs       afero.Fs
	accounts map[string]types.Account
	owners   map[string]string
	failures map[Operation]map[string]error

	Created []types.AccountSpec
	Signals []SignalRecord
	Writes  int
}

// NewMemoryPlugin creates an empty in-memory system
func NewMemoryPlugin() *MemoryPlugin {
	return &MemoryPlugin{
		fs:       afero.NewMemMapFs(),
		accounts: make(map[string]types.Account),
		owners:   make(map[string]string),
		failures: make(map[Operation]map[string]error),
	}
}

// Fs returns the backing filesystem
func (p *MemoryPlugin) Fs() afero.Fs {
	return p.fs
}

// AddAccount registers an existing account with its home directory
func (p *MemoryPlugin) AddAccount(name, homeDir string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[name] = types.Account{Name: name, HomeDir: homeDir}
	_ = p.fs.MkdirAll(homeDir, 0o755)
	p.owners[homeDir] = name
}

// Owner returns the owner recorded for name
func (p *MemoryPlugin) Owner(name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.owners[name]
}

// Fail makes op fail with err for target; an empty target matches every target
func (p *MemoryPlugin) Fail(op Operation, target string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures[op] == nil {
		p.failures[op] = make(map[string]error)
	}
	p.failures[op][target] = err
}

func (p *MemoryPlugin) failure(op Operation, target string) error {
	if err, ok := p.failures[op][target]; ok {
		return err
	}
	return p.failures[op][""]
}

func (p *MemoryPlugin) GetName() string {
	return "memory"
}

func (p *MemoryPlugin) Detect() bool {
	return false
}

func (p *MemoryPlugin) DefaultShell() string {
	return "/bin/bash"
}

func (p *MemoryPlugin) GetSystemInfo() map[string]string {
	return map[string]string{"os": "memory"}
}

func (p *MemoryPlugin) LookupAccount(name string) (*types.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	account, ok := p.accounts[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrAccountNotFound)
	}
	return &account, nil
}

func (p *MemoryPlugin) CreateAccount(_ context.Context, spec types.AccountSpec) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.failure(OpCreateAccount, spec.Name); err != nil {
		return err
	}
	if _, exists := p.accounts[spec.Name]; exists {
		return fmt.Errorf("useradd: user '%s' already exists", spec.Name)
	}

	homeDir := path.Join("/home", spec.Name)
	if err := p.fs.MkdirAll(homeDir, 0o755); err != nil {
		return err
	}
	p.accounts[spec.Name] = types.Account{Name: spec.Name, HomeDir: homeDir}
	p.owners[homeDir] = spec.Name
	p.Created = append(p.Created, spec)
	return nil
}

func (p *MemoryPlugin) PrepareCredentialDir(_ context.Context, dir, owner string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.failure(OpPrepareDir, dir); err != nil {
		return err
	}
	if err := p.fs.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := p.fs.Chmod(dir, os.ModeDir|0o700); err != nil {
		return err
	}
	p.owners[dir] = owner
	return nil
}

func (p *MemoryPlugin) ReplaceCredentialFile(_ context.Context, src, dest, owner string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.failure(OpReplace, dest); err != nil {
		return err
	}
	if _, err := p.fs.Stat(path.Dir(dest)); err != nil {
		return fmt.Errorf("sh: cannot create %s: %w", dest, err)
	}

	content, err := afero.ReadFile(p.fs, src)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(p.fs, dest, content, 0o600); err != nil {
		return err
	}
	if err := p.fs.Chmod(dest, 0o600); err != nil {
		return err
	}
	p.owners[dest] = owner
	p.Writes++
	return nil
}

func (p *MemoryPlugin) ReadCredentialFile(_ context.Context, name string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.failure(OpRead, name); err != nil {
		return nil, err
	}
	return afero.ReadFile(p.fs, name)
}

func (p *MemoryPlugin) AppendProfile(_ context.Context, name, owner, line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.failure(OpAppendProfile, name); err != nil {
		return err
	}

	f, err := p.fs.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return err
	}
	p.owners[name] = owner
	return nil
}

func (p *MemoryPlugin) SignalUserProcesses(_ context.Context, user string, signal Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Signals = append(p.Signals, SignalRecord{User: user, Signal: signal})
	return p.failure(OpSignal, user)
}

func (p *MemoryPlugin) StagingFs() afero.Fs {
	return p.fs
}
