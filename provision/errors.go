package provision

import (
	"fmt"

	"ssh-access-granting-service/types"
)

// KeySourceError is returned when the key service cannot deliver a key
type KeySourceError struct {
	UserName   string
	URL        string
	StatusCode int
	Err        error
}

func (e *KeySourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to download public key for %q from %s: %v", e.UserName, e.URL, e.Err)
	}
	return fmt.Sprintf("failed to download public key for %q from %s: server returned status %d", e.UserName, e.URL, e.StatusCode)
}

func (e *KeySourceError) Unwrap() error {
	return e.Err
}

// InvalidKeyError is returned for key text that cannot go into authorized_keys
type InvalidKeyError struct {
	UserName string
	Reason   string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid SSH public key for %q: %s", e.UserName, e.Reason)
}

type AccountCreationError struct {
	UserName string
	Err      error
}

func (e *AccountCreationError) Error() string {
	return fmt.Sprintf("failed to create user %q: %v", e.UserName, e.Err)
}

func (e *AccountCreationError) Unwrap() error {
	return e.Err
}

// InstallError is returned when a credential file could not be written
type InstallError struct {
	UserName string
	Path     string
	Err      error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("failed to install authorized keys for %q at %s: %v", e.UserName, e.Path, e.Err)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

// NotOwnedError protects credential files this service did not write
type NotOwnedError struct {
	UserName string
	Path     string
}

func (e *NotOwnedError) Error() string {
	return fmt.Sprintf("cannot revoke SSH access from user %q: %s was not generated by the SSH access granting service", e.UserName, e.Path)
}

type UnauthorizedHostError struct {
	Host string
	Err  error
}

func (e *UnauthorizedHostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote host %q is not in one of the allowed networks: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("remote host %q is not in one of the allowed networks", e.Host)
}

func (e *UnauthorizedHostError) Unwrap() error {
	return e.Err
}

type DelegationError struct {
	Host    string
	Command types.Command
	Err     error
}

func (e *DelegationError) Error() string {
	return fmt.Sprintf("%s on remote host %q failed: %v", e.Command, e.Host, e.Err)
}

func (e *DelegationError) Unwrap() error {
	return e.Err
}
