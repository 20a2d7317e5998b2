// Package mcp implements the slice of the Model Context Protocol that the
// use_mcp_tool call needs: line-delimited JSON-RPC 2.0 over a server
// subprocess's stdio, the initialize handshake, and tools/call.
package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// protocolVersion is the MCP revision this client speaks.
const protocolVersion = "2024-11-05"

// ServerConfig describes one configured MCP server.
type ServerConfig struct {
	Name    string            `yaml:"name" json:"name"`
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args" json:"args,omitempty"`
	Env     map[string]string `yaml:"env" json:"env,omitempty"`
	WorkDir string            `yaml:"workdir" json:"workdir,omitempty"`
	Timeout time.Duration     `yaml:"timeout" json:"timeout,omitempty"`
}

// Validate checks the fields a stdio server needs.
func (c *ServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("server name is required")
	}
	if c.Command == "" {
		return fmt.Errorf("server %s: command is required", c.Name)
	}
	return nil
}

// ServerInfo identifies the remote server after initialize.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the initialize response payload.
type InitializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      ServerInfo `json:"serverInfo"`
}

// Tool is one entry of a tools/list response.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolResult is a tools/call response payload.
type ToolResult struct {
	Content []ContentPart `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ContentPart is one piece of tool result content.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Text joins the textual parts of the result. Non-text parts are summarized
// by type so the caller still sees they were there.
func (r *ToolResult) Text() string {
	var parts []string
	for _, p := range r.Content {
		if p.Type == "text" && p.Text != "" {
			parts = append(parts, p.Text)
		} else if p.Type != "text" {
			parts = append(parts, fmt.Sprintf("(%s content)", p.Type))
		}
	}
	return strings.Join(parts, "\n")
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
