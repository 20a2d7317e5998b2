package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// defaultCallTimeout bounds a request when the server config sets none.
const defaultCallTimeout = 30 * time.Second

// Conn is the byte stream the client speaks JSON-RPC over. Production wraps a
// subprocess's stdin/stdout; tests wire an in-memory pipe.
type Conn interface {
	io.Reader
	io.Writer
	Close() error
}

// Client drives one MCP server connection. Requests are matched to responses
// by id, so callers may issue them concurrently.
type Client struct {
	server  string
	conn    Conn
	timeout time.Duration
	logger  *slog.Logger

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan *rpcResponse

	nextID atomic.Int64
	ready  atomic.Bool
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	serverInfo ServerInfo
}

// NewClient wraps the connection and starts the read loop. Call Initialize
// before issuing tool calls.
func NewClient(server string, conn Conn, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		server:  server,
		conn:    conn,
		timeout: timeout,
		logger:  logger.With("mcp_server", server),
		pending: make(map[int64]chan *rpcResponse),
		closed:  make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readLoop()
	return c
}

// Initialize performs the MCP handshake and records the server identity.
func (c *Client) Initialize(ctx context.Context) error {
	params, _ := json.Marshal(map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "adze", "version": "1.0.0"},
	})
	result, err := c.call(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	var init InitializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}
	c.serverInfo = init.ServerInfo
	if err := c.notify("notifications/initialized"); err != nil {
		c.logger.Warn("initialized notification failed", "error", err)
	}
	c.ready.Store(true)
	c.logger.Info("mcp server ready", "name", init.ServerInfo.Name, "version", init.ServerInfo.Version, "protocol", init.ProtocolVersion)
	return nil
}

// ServerInfo returns the identity reported during initialize.
func (c *Client) ServerInfo() ServerInfo {
	return c.serverInfo
}

// Ready reports whether initialize has completed.
func (c *Client) Ready() bool {
	return c.ready.Load()
}

// ListTools fetches the server's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	result, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	var out struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("parse tools/list result: %w", err)
	}
	return out.Tools, nil
}

// CallTool invokes one server tool with raw JSON arguments.
func (c *Client) CallTool(ctx context.Context, tool string, args json.RawMessage) (*ToolResult, error) {
	if !c.ready.Load() {
		return nil, fmt.Errorf("server %s is not initialized", c.server)
	}
	payload := struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments,omitempty"`
	}{Name: tool, Arguments: args}
	params, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal arguments: %w", err)
	}
	result, err := c.call(ctx, "tools/call", params)
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", tool, err)
	}
	var out ToolResult
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("parse tools/call result: %w", err)
	}
	return &out, nil
}

// Close tears down the connection and unblocks pending calls.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	c.wg.Wait()
	return err
}

func (c *Client) call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	respCh := make(chan *rpcResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("no response after %v", c.timeout)
	case <-c.closed:
		return nil, fmt.Errorf("connection closed")
	}
}

func (c *Client) notify(method string) error {
	return c.write(rpcRequest{JSONRPC: "2.0", Method: method})
}

func (c *Client) write(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.conn.Write(append(data, '\n'))
	return err
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("malformed server message", "error", err)
			continue
		}
		if resp.ID == nil {
			// Server notification; this client has no subscriptions.
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[*resp.ID]
		if ok {
			delete(c.pending, *resp.ID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- &resp
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case <-c.closed:
		default:
			c.logger.Warn("server stream ended", "error", err)
		}
	}
}
