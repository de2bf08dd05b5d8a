package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/sourcegraph/jsonrpc2"
	jsonrpc2websocket "github.com/sourcegraph/jsonrpc2/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssh-access-granting-service/types"
)

type staticTokens string

func (s staticTokens) Token(string) (string, error) {
	return string(s), nil
}

type fakeExecutor struct {
	mu       sync.Mutex
	requests []types.AccessRequest
	err      error
}

func (e *fakeExecutor) Execute(_ context.Context, req types.AccessRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	return e.err
}

// tunnel is a fake tunnel backend answering setClientId
type tunnel struct {
	server    *httptest.Server
	conns     chan *jsonrpc2.Conn
	clientIDs chan string
	auth      chan string
}

func newTunnel(t *testing.T, status int) *tunnel {
	t.Helper()

	tn := &tunnel{
		conns:     make(chan *jsonrpc2.Conn, 1),
		clientIDs: make(chan string, 8),
		auth:      make(chan string, 8),
	}
	upgrader := websocket.Upgrader{}

	tn.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tn.auth <- r.Header.Get("Authorization")
		if status != http.StatusSwitchingProtocols {
			w.WriteHeader(status)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := jsonrpc2.NewConn(context.Background(), jsonrpc2websocket.NewObjectStream(ws), jsonrpc2.HandlerWithError(
			func(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
				if req.Method == "setClientId" {
					var body types.SetClientIDRequest
					if req.Params != nil {
						_ = json.Unmarshal(*req.Params, &body)
					}
					tn.clientIDs <- body.ClientID
				}
				return map[string]string{"status": "ok"}, nil
			}))
		tn.conns <- conn
		<-conn.DisconnectNotify()
	}))
	t.Cleanup(tn.server.Close)
	return tn
}

func (tn *tunnel) url() string {
	return "ws" + strings.TrimPrefix(tn.server.URL, "http")
}

type auditLog struct {
	mu      sync.Mutex
	records [][]string
}

func (a *auditLog) Record(argv []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, argv)
}

func newTestClient(t *testing.T, tunnelURL string, executor Executor) *Client {
	t.Helper()
	return newAuditedTestClient(t, tunnelURL, executor, &auditLog{})
}

func newAuditedTestClient(t *testing.T, tunnelURL string, executor Executor, auditor Recorder) *Client {
	t.Helper()
	logger, _ := test.NewNullLogger()
	cfg := &types.Config{TunnelHost: tunnelURL, HostID: "host-1", HeartbeatIntervalSeconds: 60}
	c, err := New(cfg, executor, staticTokens("tunnel-token"), auditor, logger)
	require.NoError(t, err)
	return c
}

func TestClientForwardsAccessRequests(t *testing.T) {
	tn := newTunnel(t, http.StatusSwitchingProtocols)
	executor := &fakeExecutor{}
	audit := &auditLog{}
	c := newAuditedTestClient(t, tn.url(), executor, audit)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	var server *jsonrpc2.Conn
	select {
	case server = <-tn.conns:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not connect")
	}
	assert.Equal(t, "Bearer tunnel-token", <-tn.auth)
	assert.Equal(t, "host-1:ssh-access", <-tn.clientIDs)

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()

	var resp types.ForwardedResponse
	require.NoError(t, server.Call(callCtx, "call", types.ForwardedRequest{
		Method: "POST",
		Path:   "/",
		Data: map[string]interface{}{
			"command":    "revoke-ssh-access",
			"userName":   "alice",
			"remoteHost": "peer.internal",
			"keepLocal":  true,
		},
	}, &resp))
	assert.Equal(t, http.StatusOK, resp.Status)

	require.NoError(t, server.Call(callCtx, "call", types.ForwardedRequest{
		Data: map[string]interface{}{"command": "grant-ssh-access", "userName": "Robert'); DROP"},
	}, &resp))
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	executor.mu.Lock()
	assert.Equal(t, []types.AccessRequest{{
		Command:    types.CommandRevoke,
		UserName:   "alice",
		RemoteHost: "peer.internal",
		KeepLocal:  true,
	}}, executor.requests)
	executor.mu.Unlock()

	audit.mu.Lock()
	assert.Equal(t, [][]string{
		{"revoke-ssh-access", "alice", "--remote-host", "peer.internal", "--keep-local"},
		{"grant-ssh-access", "Robert'); DROP"},
	}, audit.records, "rejected requests are audited too")
	audit.mu.Unlock()

	assert.False(t, c.GetLastHeartbeat().IsZero())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop")
	}
}

func TestClientReportsExecutionFailure(t *testing.T) {
	executor := &fakeExecutor{err: errors.New("remote host \"x\" is not in one of the allowed networks")}
	c := newTestClient(t, "ws://unused", executor)

	result, err := c.handleCallMethod(context.Background(), []byte(`{"data":{"command":"grant-ssh-access","userName":"alice"}}`))
	require.NoError(t, err)

	resp := result.(types.ForwardedResponse)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, false, data["success"])
	assert.Contains(t, data["error"], "allowed networks")
}

func TestClientExitsOnAuthenticationFailure(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		tn := newTunnel(t, status)
		c := newTestClient(t, tn.url(), &fakeExecutor{})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.Run(ctx)
		cancel()

		var authErr *AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, status, authErr.StatusCode)
	}
}
