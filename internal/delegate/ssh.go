package delegate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"ssh-access-granting-service/types"
)

const (
	DefaultPort    = "22"
	ConnectTimeout = 10 * time.Second
)

// DefaultIdentityFiles are tried when no identity file is configured
var DefaultIdentityFiles = []string{"~/.ssh/id_ed25519", "~/.ssh/id_ecdsa", "~/.ssh/id_rsa"}

// SSHDelegate runs access commands on peer hosts, where they hit the peer's
// forced command. Host keys are not verified.
type SSHDelegate struct {
	User          string
	Port          string
	IdentityFiles []string
	Signers       []ssh.Signer
	Timeout       time.Duration
	logger        *logrus.Logger
}

// NewSSHDelegate connects as user, authenticating with identityFiles and the SSH agent
func NewSSHDelegate(user string, identityFiles []string, logger *logrus.Logger) *SSHDelegate {
	if len(identityFiles) == 0 {
		identityFiles = DefaultIdentityFiles
	}
	return &SSHDelegate{
		User:          user,
		Port:          DefaultPort,
		IdentityFiles: identityFiles,
		Timeout:       ConnectTimeout,
		logger:        logger,
	}
}

// RemoteCommand is the command line sent to the peer
func RemoteCommand(command types.Command, userName string) string {
	return shellquote.Join(string(command), userName)
}

func (d *SSHDelegate) Delegate(ctx context.Context, command types.Command, userName, host string) error {
	signers, closeAgent := d.signers()
	defer closeAgent()

	if len(signers) == 0 {
		return fmt.Errorf("no SSH identity available for %s", d.User)
	}

	config := &ssh.ClientConfig{
		User:            d.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signers...)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.Timeout,
	}

	addr := net.JoinHostPort(host, d.Port)
	client, err := d.dial(ctx, addr, config)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	remoteCommand := RemoteCommand(command, userName)
	d.logger.WithFields(logrus.Fields{
		"host":    addr,
		"user":    d.User,
		"command": remoteCommand,
	}).Debug("Running remote command")

	output, err := session.CombinedOutput(remoteCommand)
	if err != nil {
		if out := strings.TrimSpace(string(output)); out != "" {
			return fmt.Errorf("%w: %s", err, out)
		}
		return err
	}

	return nil
}

func (d *SSHDelegate) dial(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	if d.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(d.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), nil
}

// signers collects the static signers, the agent's keys and the readable
// identity files. The returned func releases the agent connection.
func (d *SSHDelegate) signers() ([]ssh.Signer, func()) {
	signers := append([]ssh.Signer{}, d.Signers...)
	release := func() {}

	if socket := os.Getenv("SSH_AUTH_SOCK"); socket != "" {
		if conn, err := net.Dial("unix", socket); err == nil {
			release = func() { conn.Close() }
			if agentSigners, err := agent.NewClient(conn).Signers(); err == nil {
				signers = append(signers, agentSigners...)
			} else {
				d.logger.WithError(err).Debug("Failed to list SSH agent keys")
			}
		} else {
			d.logger.WithError(err).Debug("SSH agent not reachable")
		}
	}

	for _, file := range d.IdentityFiles {
		signer, err := loadIdentity(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			d.logger.WithError(err).WithField("identity", file).Warn("Skipping unusable SSH identity")
			continue
		}
		signers = append(signers, signer)
	}

	return signers, release
}

func loadIdentity(path string) (ssh.Signer, error) {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, rest)
	}

	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return signer, nil
}
