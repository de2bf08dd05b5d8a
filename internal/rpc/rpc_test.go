package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	jsonrpc2websocket "github.com/sourcegraph/jsonrpc2/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backend accepts one WebSocket and exposes the server side of the JSON-RPC connection
type backend struct {
	server *httptest.Server
	conns  chan *jsonrpc2.Conn
}

func newBackend(t *testing.T, handler jsonrpc2.Handler) *backend {
	t.Helper()

	b := &backend{conns: make(chan *jsonrpc2.Conn, 1)}
	upgrader := websocket.Upgrader{}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := jsonrpc2.NewConn(context.Background(), jsonrpc2websocket.NewObjectStream(ws), handler)
		b.conns <- conn
		<-conn.DisconnectNotify()
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *backend) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(b.server.URL, "http"), nil)
	require.NoError(t, err)
	return ws
}

func (b *backend) accept(t *testing.T) *jsonrpc2.Conn {
	t.Helper()
	select {
	case conn := <-b.conns:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("backend did not accept a connection")
		return nil
	}
}

type recordingHandler struct {
	methods chan string
}

func (h *recordingHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	h.methods <- req.Method
	conn.Reply(ctx, req.ID, map[string]string{"status": "ok"})
}

func TestClientServesRegisteredMethods(t *testing.T) {
	b := newBackend(t, &recordingHandler{methods: make(chan string, 1)})

	client := NewClient()
	client.AddMethod("call", func(_ context.Context, params json.RawMessage) (interface{}, error) {
		var in map[string]string
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, err
		}
		if in["userName"] == "" {
			return nil, errors.New("userName is required")
		}
		return map[string]string{"granted": in["userName"]}, nil
	})
	require.NoError(t, client.ConnectWebSocketWithContext(context.Background(), b.dial(t)))
	defer client.Close()

	server := b.accept(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out map[string]string
	require.NoError(t, server.Call(ctx, "call", map[string]string{"userName": "alice"}, &out))
	assert.Equal(t, "alice", out["granted"])

	err := server.Call(ctx, "call", map[string]string{}, &out)
	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(jsonrpc2.CodeInternalError), rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "userName is required")

	err = server.Call(ctx, "unknown", nil, &out)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(jsonrpc2.CodeMethodNotFound), rpcErr.Code)
}

func TestClientCallAndDisconnect(t *testing.T) {
	handler := &recordingHandler{methods: make(chan string, 1)}
	b := newBackend(t, handler)

	client := NewClient()
	_, err := client.Call(context.Background(), "setClientId", nil)
	assert.Error(t, err, "calls fail before connecting")

	require.NoError(t, client.ConnectWebSocketWithContext(context.Background(), b.dial(t)))
	b.accept(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := client.Call(ctx, "setClientId", map[string]string{"clientId": "host-1:ssh-access"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(result))
	assert.Equal(t, "setClientId", <-handler.methods)

	disconnected := client.DisconnectNotify()
	require.NoError(t, client.Close())

	select {
	case <-disconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect was not signalled")
	}

	select {
	case <-client.DisconnectNotify():
	default:
		t.Fatal("closed client must report disconnected")
	}
}
