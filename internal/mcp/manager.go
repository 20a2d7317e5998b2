package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Manager holds the configured servers and connects to each lazily on first
// use. Connections are cached until Close.
type Manager struct {
	logger *slog.Logger
	dial   func(ctx context.Context, cfg ServerConfig, logger *slog.Logger) (*Client, error)

	mu      sync.Mutex
	configs map[string]ServerConfig
	clients map[string]*Client
}

// NewManager indexes the configured servers. Duplicate names are rejected.
func NewManager(configs []ServerConfig, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger:  logger,
		dial:    Dial,
		configs: make(map[string]ServerConfig, len(configs)),
		clients: make(map[string]*Client),
	}
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, dup := m.configs[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate mcp server name %q", cfg.Name)
		}
		m.configs[cfg.Name] = cfg
	}
	return m, nil
}

// Servers returns the configured server names, sorted.
func (m *Manager) Servers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.configs))
	for name := range m.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CallTool routes a call to the named server, connecting it first if needed.
func (m *Manager) CallTool(ctx context.Context, server, tool string, args json.RawMessage) (*ToolResult, error) {
	client, err := m.client(ctx, server)
	if err != nil {
		return nil, err
	}
	return client.CallTool(ctx, tool, args)
}

// ListTools returns the named server's tool catalog.
func (m *Manager) ListTools(ctx context.Context, server string) ([]Tool, error) {
	client, err := m.client(ctx, server)
	if err != nil {
		return nil, err
	}
	return client.ListTools(ctx)
}

func (m *Manager) client(ctx context.Context, server string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.clients[server]; ok {
		return client, nil
	}
	cfg, ok := m.configs[server]
	if !ok {
		return nil, fmt.Errorf("unknown mcp server %q", server)
	}
	client, err := m.dial(ctx, cfg, m.logger)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", server, err)
	}
	m.clients[server] = client
	return client, nil
}

// Close disconnects every connected server.
func (m *Manager) Close() {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.clients = make(map[string]*Client)
	m.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}
