package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"
)

// SocketTransport is a Transport backed by a single net.Conn, framing
// envelopes with encoding/json's stream decoder the way the teacher's
// original one-shot daemon connection did, generalised here to a
// long-lived, multiplexed connection.
type SocketTransport struct {
	conn    net.Conn
	decoder *json.Decoder
	encoder *json.Encoder
}

// NewSocketTransport wraps an established connection.
func NewSocketTransport(conn net.Conn) *SocketTransport {
	return &SocketTransport{conn: conn, decoder: json.NewDecoder(conn), encoder: json.NewEncoder(conn)}
}

// DialUnix connects to a Unix domain socket and returns a SocketTransport.
func DialUnix(socketPath string, timeout time.Duration) (*SocketTransport, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to control-plane socket: %w", err)
	}
	return NewSocketTransport(conn), nil
}

func (t *SocketTransport) Send(env Envelope) error {
	if err := t.encoder.Encode(env); err != nil {
		return fmt.Errorf("failed to send envelope: %w", err)
	}
	return nil
}

func (t *SocketTransport) Recv() (Envelope, error) {
	var env Envelope
	if err := t.decoder.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("failed to receive envelope: %w", err)
	}
	return env, nil
}

func (t *SocketTransport) Close() error {
	return t.conn.Close()
}

// ListenUnix removes any stale socket at path and listens for incoming
// control-plane connections, mirroring the teacher daemon's stale-socket
// cleanup.
func ListenUnix(socketPath string) (net.Listener, error) {
	_ = os.Remove(socketPath)
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", socketPath, err)
	}
	return listener, nil
}

// ClientConfig configures a Client's dial behaviour.
type ClientConfig struct {
	SocketPath string
	Timeout    time.Duration
}

// DefaultClientConfig mirrors the control plane's own default timeout.
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{SocketPath: socketPath, Timeout: DefaultTimeout}
}

// Client is a typed convenience wrapper around a ControlPlane dialed over
// a Unix socket: one connection, one ControlPlane, one Run loop, exposing
// Search/GlobalSearch/Status/Ping as regular Go methods instead of raw
// Call(method, params) pairs.
type Client struct {
	cfg ClientConfig
	cp  *ControlPlane
}

// Dial connects to the control-plane socket and starts its receive loop.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	transport, err := DialUnix(cfg.SocketPath, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	cp := New(transport, Config{DefaultTimeout: cfg.Timeout, MaxConcurrentOperations: DefaultMaxConcurrentOperations}, nil)
	go func() { _ = cp.Run(ctx) }()
	return &Client{cfg: cfg, cp: cp}, nil
}

// Close shuts down the underlying control plane and connection.
func (c *Client) Close() error {
	return c.cp.Close()
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	result, err := c.cp.Call(ctx, method, params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// Ping checks that the execution domain is responsive.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, MethodPing, nil, &PingResult{})
}

// Search issues a single-collection search request.
func (c *Client) Search(ctx context.Context, params SearchParams) ([]SearchResultItem, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	var results []SearchResultItem
	if err := c.call(ctx, MethodSearch, params, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// GlobalSearch issues a cross-collection search request.
func (c *Client) GlobalSearch(ctx context.Context, params SearchParams) ([]SearchResultItem, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	var results []SearchResultItem
	if err := c.call(ctx, MethodGlobalSearch, params, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// Status retrieves execution-domain health.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var status StatusResult
	if err := c.call(ctx, MethodStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
