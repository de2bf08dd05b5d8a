package delegate

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"ssh-access-granting-service/types"
)

type execRecord struct {
	user    string
	command string
}

// startSSHServer accepts any client key and answers every exec request with exitCode
func startSSHServer(t *testing.T, exitCode uint32, output string) (string, <-chan execRecord) {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
			return &ssh.Permissions{}, nil
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	records := make(chan execRecord, 4)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, config, exitCode, output, records)
		}
	}()

	_, port, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	return port, records
}

func serveConn(conn net.Conn, config *ssh.ServerConfig, exitCode uint32, output string, records chan<- execRecord) {
	defer conn.Close()
	srv, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer srv.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		for req := range requests {
			if req.Type != "exec" {
				if req.WantReply {
					req.Reply(false, nil)
				}
				continue
			}
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			records <- execRecord{user: srv.User(), command: payload.Command}
			ch.Write([]byte(output))
			ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{exitCode}))
			ch.Close()
			go ssh.DiscardRequests(requests)
			break
		}
	}
}

func newTestDelegate(t *testing.T, port string) *SSHDelegate {
	t.Helper()
	t.Setenv("SSH_AUTH_SOCK", "")

	_, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(clientPriv)
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	d := NewSSHDelegate("granting-service", nil, logger)
	d.IdentityFiles = nil
	d.Signers = []ssh.Signer{signer}
	d.Port = port
	d.Timeout = 5 * time.Second
	return d
}

func TestDelegateRunsAccessCommand(t *testing.T) {
	port, records := startSSHServer(t, 0, "")
	d := newTestDelegate(t, port)

	err := d.Delegate(context.Background(), types.CommandRevoke, "alice", "127.0.0.1")
	require.NoError(t, err)

	select {
	case rec := <-records:
		assert.Equal(t, "granting-service", rec.user)
		assert.Equal(t, "revoke-ssh-access alice", rec.command)
	case <-time.After(5 * time.Second):
		t.Fatal("remote command was not executed")
	}
}

func TestDelegateReportsRemoteFailure(t *testing.T) {
	port, _ := startSSHServer(t, 1, "ERROR: remote host \"x\" is not in one of the allowed networks\n")
	d := newTestDelegate(t, port)

	err := d.Delegate(context.Background(), types.CommandGrant, "alice", "127.0.0.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allowed networks")
}

func TestDelegateWithoutIdentity(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	logger, _ := test.NewNullLogger()

	d := NewSSHDelegate("granting-service", []string{t.TempDir() + "/missing"}, logger)
	err := d.Delegate(context.Background(), types.CommandGrant, "alice", "127.0.0.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no SSH identity")
}

func TestRemoteCommand(t *testing.T) {
	assert.Equal(t, "grant-ssh-access bob", RemoteCommand(types.CommandGrant, "bob"))
}
