package provision

import (
	"fmt"
	"regexp"

	"ssh-access-granting-service/types"
)

var (
	userNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]{0,31}$`)
	hostNamePattern = regexp.MustCompile(`^[a-z0-9.-]{0,255}$`)
)

func ValidateUserName(name string) error {
	if !userNamePattern.MatchString(name) {
		return fmt.Errorf("invalid user name %q", name)
	}
	return nil
}

// ValidateHostName accepts the empty string, which means no remote host
func ValidateHostName(host string) error {
	if !hostNamePattern.MatchString(host) {
		return fmt.Errorf("invalid host name %q", host)
	}
	return nil
}

// NewAccessRequest validates its arguments and builds an AccessRequest
func NewAccessRequest(command types.Command, userName, remoteHost string, keepLocal bool) (types.AccessRequest, error) {
	switch command {
	case types.CommandGrant:
		if keepLocal {
			return types.AccessRequest{}, fmt.Errorf("keep-local is only valid for %s", types.CommandRevoke)
		}
	case types.CommandRevoke:
	default:
		return types.AccessRequest{}, fmt.Errorf("unknown command %q", command)
	}

	if err := ValidateUserName(userName); err != nil {
		return types.AccessRequest{}, err
	}
	if err := ValidateHostName(remoteHost); err != nil {
		return types.AccessRequest{}, err
	}

	return types.AccessRequest{
		Command:    command,
		UserName:   userName,
		RemoteHost: remoteHost,
		KeepLocal:  keepLocal,
	}, nil
}
