package access

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssh-access-granting-service/internal/config"
	"ssh-access-granting-service/types"
)

type recorder struct {
	requests []types.AccessRequest
	err      error
}

func (r *recorder) execute(_ context.Context, req types.AccessRequest) error {
	r.requests = append(r.requests, req)
	return r.err
}

func TestGrantCommand(t *testing.T) {
	rec := &recorder{}
	cmd := NewGrantCommand(rec.execute)
	cmd.SetArgs([]string{"alice", "--remote-host", "peer.internal"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, []types.AccessRequest{{
		Command:    types.CommandGrant,
		UserName:   "alice",
		RemoteHost: "peer.internal",
	}}, rec.requests)
}

func TestRevokeCommand(t *testing.T) {
	rec := &recorder{}
	cmd := NewRevokeCommand(rec.execute)
	cmd.SetArgs([]string{"alice", "--keep-local", "--remote-host", "peer.internal"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, []types.AccessRequest{{
		Command:    types.CommandRevoke,
		UserName:   "alice",
		RemoteHost: "peer.internal",
		KeepLocal:  true,
	}}, rec.requests)
}

func TestAccessCommandsRejectInvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		cmd  func(ExecuteFunc) *cobra.Command
		args []string
	}{
		{"bad user", NewGrantCommand, []string{"Alice"}},
		{"injection in user", NewRevokeCommand, []string{"alice;reboot"}},
		{"bad host", NewGrantCommand, []string{"alice", "--remote-host", "Peer_1"}},
		{"keep-local on grant", NewGrantCommand, []string{"alice", "--keep-local"}},
		{"missing name", NewRevokeCommand, []string{}},
		{"config flag", NewGrantCommand, []string{"alice", "--config", "/tmp/evil.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			cmd := tt.cmd(rec.execute)
			cmd.SetArgs(tt.args)
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			assert.Error(t, cmd.ExecuteContext(context.Background()))
			assert.Empty(t, rec.requests)
		})
	}
}

func TestAccessCommandPropagatesFailure(t *testing.T) {
	rec := &recorder{err: errors.New("boom")}
	cmd := NewGrantCommand(rec.execute)
	cmd.SetArgs([]string{"alice"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	assert.EqualError(t, cmd.ExecuteContext(context.Background()), "boom")
}

func TestExecuteWithLoaderReportsConfigErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/sags.yaml", []byte("allowed_remote_networks: []\n"), 0644))

	verbose := false
	execute := ExecuteWithLoader(&verbose, &config.Loader{Fs: fs}, "/etc/sags.yaml")

	err := execute(context.Background(), types.AccessRequest{Command: types.CommandGrant, UserName: "alice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ssh_access_granting_service_url is required")
}
