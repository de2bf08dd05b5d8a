package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	jsonrpc2websocket "github.com/sourcegraph/jsonrpc2/websocket"
)

type MethodHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Client is a bidirectional JSON-RPC 2.0 endpoint over a WebSocket. Incoming
// requests are handled on their own goroutines so that responses to our own
// calls are still read while a handler runs; handlers serialize themselves.
type Client struct {
	mu      sync.RWMutex
	methods map[string]MethodHandler
	conn    *jsonrpc2.Conn
	wsConn  *websocket.Conn
}

func NewClient() *Client {
	return &Client{
		methods: make(map[string]MethodHandler),
	}
}

// ConnectWebSocketWithContext starts serving wsConn; any previous connection is closed
func (c *Client) ConnectWebSocketWithContext(ctx context.Context, wsConn *websocket.Conn) error {
	if wsConn == nil {
		return fmt.Errorf("nil websocket connection")
	}

	c.Close()

	stream := jsonrpc2websocket.NewObjectStream(wsConn)
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(c))

	c.mu.Lock()
	c.conn = conn
	c.wsConn = wsConn
	c.mu.Unlock()

	return nil
}

// DisconnectNotify is closed when the current connection ends
func (c *Client) DisconnectNotify() <-chan struct{} {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return conn.DisconnectNotify()
}

func (c *Client) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Method == "" || req.Notif {
		return
	}

	c.mu.RLock()
	handler, exists := c.methods[req.Method]
	c.mu.RUnlock()

	if !exists {
		conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: fmt.Sprintf("method %q not found", req.Method),
		})
		return
	}

	var params json.RawMessage
	if req.Params != nil {
		params = *req.Params
	}

	result, err := handler(ctx, params)
	if err != nil {
		conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeInternalError,
			Message: err.Error(),
		})
		return
	}

	conn.Reply(ctx, req.ID, result)
}

func (c *Client) AddMethod(method string, handler MethodHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.methods[method] = handler
}

func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	var result json.RawMessage
	if err := conn.Call(ctx, method, params, &result); err != nil {
		return nil, fmt.Errorf("RPC call failed: %w", err)
	}

	return result, nil
}

// Close ends the current connection; the client can be connected again
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}

	if c.wsConn != nil {
		c.wsConn.Close()
		c.wsConn = nil
	}

	return err
}
