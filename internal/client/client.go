package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"ssh-access-granting-service/internal/backoff"
	"ssh-access-granting-service/internal/rpc"
	"ssh-access-granting-service/provision"
	"ssh-access-granting-service/types"
)

// AuthenticationError represents an authentication failure that should cause immediate exit
type AuthenticationError struct {
	StatusCode int
	Message    string
}

func (e *AuthenticationError) Error() string {
	return e.Message
}

const (
	DefaultBackoffStart = 1 * time.Second
	DefaultBackoffMax   = 30 * time.Second

	handshakeTimeout = 10 * time.Second
	callTimeout      = 10 * time.Second
)

// Executor runs a validated access request; *provision.Controller satisfies it
type Executor interface {
	Execute(ctx context.Context, req types.AccessRequest) error
}

// TokenSource issues the bearer token presented to the tunnel
type TokenSource interface {
	Token(audience string) (string, error)
}

// Recorder writes the audit record of an access request
type Recorder interface {
	Record(argv []string)
}

// Client keeps a WebSocket to the tunnel host open and answers access
// requests forwarded through it.
type Client struct {
	config    *types.Config
	logger    *logrus.Logger
	tokens    TokenSource
	executor  Executor
	auditor   Recorder
	rpcClient *rpc.Client
	backoff   *backoff.Backoff
	dialer    *websocket.Dialer
	now       func() time.Time

	execMu        sync.Mutex
	lastHeartbeat time.Time
	heartbeatMu   sync.RWMutex
}

func New(config *types.Config, executor Executor, tokens TokenSource, auditor Recorder, logger *logrus.Logger) (*Client, error) {
	backoffInstance, err := backoff.New(DefaultBackoffStart, DefaultBackoffMax)
	if err != nil {
		return nil, fmt.Errorf("failed to create backoff: %w", err)
	}

	client := &Client{
		config:    config,
		logger:    logger,
		tokens:    tokens,
		executor:  executor,
		auditor:   auditor,
		rpcClient: rpc.NewClient(),
		backoff:   backoffInstance,
		dialer:    &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment},
		now:       time.Now,
	}

	client.rpcClient.AddMethod("call", client.handleCallMethod)

	return client, nil
}

// Run connects and serves until ctx is cancelled or the tunnel rejects the credentials
func (c *Client) Run(ctx context.Context) error {
	defer c.rpcClient.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		disconnected, err := c.connectOnce(ctx)
		if err != nil {
			var authErr *AuthenticationError
			if errors.As(err, &authErr) {
				c.logger.WithFields(logrus.Fields{
					"status_code": authErr.StatusCode,
					"error":       authErr.Message,
				}).Error("💀 Authentication failed - exiting for systemd restart management")
				return authErr
			}

			wait := c.backoff.Next()
			c.logger.WithError(err).WithField("retry_in", wait).Warn("Connection failed, retrying...")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}

		c.backoff.Reset()
		c.serve(ctx, disconnected)
	}
}

func (c *Client) connectOnce(ctx context.Context) (<-chan struct{}, error) {
	tunnelURL := c.config.TunnelHost
	if tunnelURL == "" {
		return nil, fmt.Errorf("tunnel host URL not configured")
	}

	token, err := c.tokens.Token(tunnelURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)

	c.logger.WithField("url", tunnelURL).Debug("Attempting WebSocket connection")

	conn, resp, err := c.dialer.DialContext(ctx, tunnelURL, headers)
	if err != nil {
		if resp != nil {
			return nil, handshakeError(resp)
		}
		return nil, fmt.Errorf("failed to dial WebSocket: %w", err)
	}

	if err := c.rpcClient.ConnectWebSocketWithContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect JSON-RPC client: %w", err)
	}

	if err := c.setClientID(ctx); err != nil {
		c.rpcClient.Close()
		return nil, fmt.Errorf("failed to set client ID: %w", err)
	}

	c.logger.WithField("client_id", c.config.GetClientID()).Info("WebSocket connection established")
	return c.rpcClient.DisconnectNotify(), nil
}

func handshakeError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return &AuthenticationError{
			StatusCode: resp.StatusCode,
			Message:    "authentication failed - JWT token rejected by server",
		}
	case http.StatusForbidden:
		return &AuthenticationError{
			StatusCode: resp.StatusCode,
			Message:    "forbidden - client ID may not be authorized",
		}
	default:
		return fmt.Errorf("WebSocket handshake failed: HTTP %s", resp.Status)
	}
}

// serve runs the heartbeat until the connection drops or ctx ends
func (c *Client) serve(ctx context.Context, disconnected <-chan struct{}) {
	interval := c.config.GetHeartbeatInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.WithField("interval", interval).Debug("🫀 Starting heartbeat monitor")

	for {
		select {
		case <-ticker.C:
			if err := c.setClientID(ctx); err != nil {
				c.logger.WithError(err).Warn("💔 Heartbeat failed - reconnecting")
				c.rpcClient.Close()
				return
			}
			c.logger.Debug("💚 Heartbeat successful")
		case <-disconnected:
			c.logger.Warn("🔄 Connection lost - reconnecting")
			return
		case <-ctx.Done():
			c.rpcClient.Close()
			return
		}
	}
}

func (c *Client) setClientID(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	if _, err := c.rpcClient.Call(callCtx, "setClientId", types.SetClientIDRequest{
		ClientID: c.config.GetClientID(),
	}); err != nil {
		return err
	}

	c.heartbeatMu.Lock()
	c.lastHeartbeat = c.now()
	c.heartbeatMu.Unlock()
	return nil
}

func (c *Client) GetLastHeartbeat() time.Time {
	c.heartbeatMu.RLock()
	defer c.heartbeatMu.RUnlock()
	return c.lastHeartbeat
}

func (c *Client) handleCallMethod(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var request types.ForwardedRequest
	if err := json.Unmarshal(params, &request); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ForwardedRequest: %w", err)
	}

	logHeaders := make(map[string]interface{})
	for key, value := range request.Headers {
		if strings.ToLower(key) != "authorization" {
			logHeaders[key] = value
		}
	}

	c.logger.WithFields(logrus.Fields{
		"method":    request.Method,
		"path":      request.Path,
		"headers":   logHeaders,
		"client_id": c.config.GetClientID(),
		"dry_run":   c.config.DryRun,
	}).Info("📥 Received access request")

	raw, err := decodeAccessRequest(request.Data)
	if err != nil {
		return c.response(http.StatusBadRequest, "", err), nil
	}
	c.auditor.Record(requestArgv(raw))

	req, err := provision.NewAccessRequest(raw.Command, raw.UserName, raw.RemoteHost, raw.KeepLocal)
	if err != nil {
		return c.response(http.StatusBadRequest, "", err), nil
	}

	if request.Options != nil && request.Options.TimeoutMillis != nil && *request.Options.TimeoutMillis > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*request.Options.TimeoutMillis)*time.Millisecond)
		defer cancel()
	}

	c.execMu.Lock()
	err = c.executor.Execute(ctx, req)
	c.execMu.Unlock()

	if err != nil {
		return c.response(http.StatusInternalServerError, req.Command, err), nil
	}
	return c.response(http.StatusOK, req.Command, nil), nil
}

// requestArgv renders req as the command line that would perform it locally
func requestArgv(req types.AccessRequest) []string {
	argv := []string{string(req.Command), req.UserName}
	if req.RemoteHost != "" {
		argv = append(argv, "--remote-host", req.RemoteHost)
	}
	if req.KeepLocal {
		argv = append(argv, "--keep-local")
	}
	return argv
}

func decodeAccessRequest(data interface{}) (types.AccessRequest, error) {
	if data == nil {
		return types.AccessRequest{}, fmt.Errorf("request carries no access command")
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return types.AccessRequest{}, fmt.Errorf("failed to read request data: %w", err)
	}

	var req types.AccessRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return types.AccessRequest{}, fmt.Errorf("failed to read request data: %w", err)
	}

	return req, nil
}

func (c *Client) response(status int, command types.Command, err error) types.ForwardedResponse {
	data := map[string]interface{}{
		"success":   err == nil,
		"client_id": c.config.GetClientID(),
		"command":   command,
		"timestamp": c.now().UTC().Format(time.RFC3339),
	}

	logger := c.logger.WithFields(logrus.Fields{
		"status":  status,
		"command": command,
	})

	if err != nil {
		data["status"] = "failed"
		data["error"] = err.Error()
		logger.WithError(err).Error("❌ Access request failed")
	} else {
		data["status"] = "completed"
		data["message"] = fmt.Sprintf("%s completed", command)
		logger.Info("✅ Access request completed")
	}

	return types.ForwardedResponse{
		Headers:    map[string]interface{}{"content-type": "application/json"},
		Status:     status,
		StatusText: http.StatusText(status),
		Data:       data,
	}
}
