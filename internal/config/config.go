// Package config loads, composes, and validates the agent's configuration.
// Files are YAML or JSON5, may pull in other files via $include, and are
// checked against an embedded JSON schema before decoding. Secrets never
// live in config: the file names environment variables, not key material.
package config

import (
	"fmt"
	"strings"
)

// Config is the full runtime configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm" json:"llm"`
	Agent     AgentConfig     `yaml:"agent" json:"agent"`
	Workspace WorkspaceConfig `yaml:"workspace" json:"workspace"`
	Web       WebConfig       `yaml:"web" json:"web"`
	MCP       MCPConfig       `yaml:"mcp" json:"mcp"`
	RAG       RAGConfig       `yaml:"rag" json:"rag"`
	Plugins   PluginsConfig   `yaml:"plugins" json:"plugins"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Log       LogConfig       `yaml:"log" json:"log"`

	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`

	// TraceEndpoint, when set, exports OTLP spans to this gRPC endpoint.
	TraceEndpoint string `yaml:"trace_endpoint" json:"trace_endpoint"`
}

// LLMConfig selects the model provider. APIKeyEnv names the environment
// variable holding the key; the key itself never appears in config files.
type LLMConfig struct {
	Provider  string `yaml:"provider" json:"provider"`
	Model     string `yaml:"model" json:"model"`
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
	BaseURL   string `yaml:"base_url" json:"base_url"`
	MaxTokens int    `yaml:"max_tokens" json:"max_tokens"`
}

// AgentConfig tunes the conversation loop.
type AgentConfig struct {
	MaxRounds   int `yaml:"max_rounds" json:"max_rounds"`
	TokenBudget int `yaml:"token_budget" json:"token_budget"`
	// RetryBudget is the stream retry cap; -1 means unlimited.
	RetryBudget         int `yaml:"retry_budget" json:"retry_budget"`
	RetryBackoffSeconds int `yaml:"retry_backoff_seconds" json:"retry_backoff_seconds"`
	SubagentWorkers     int `yaml:"subagent_workers" json:"subagent_workers"`
}

// WorkspaceConfig roots the agent in a directory tree.
type WorkspaceConfig struct {
	Root                  string   `yaml:"root" json:"root"`
	StateDir              string   `yaml:"state_dir" json:"state_dir"`
	Ignore                []string `yaml:"ignore" json:"ignore"`
	CommandTimeoutSeconds int      `yaml:"command_timeout_seconds" json:"command_timeout_seconds"`
}

// WebConfig configures search and crawl.
type WebConfig struct {
	SearchBackend  string                `yaml:"search_backend" json:"search_backend"`
	SearXNGURL     string                `yaml:"searxng_url" json:"searxng_url"`
	BraveAPIKeyEnv string                `yaml:"brave_api_key_env" json:"brave_api_key_env"`
	MaxResults     int                   `yaml:"max_results" json:"max_results"`
	CrawlProviders []CrawlProviderConfig `yaml:"crawl_providers" json:"crawl_providers"`
}

// CrawlProviderConfig is one page-reader endpoint.
type CrawlProviderConfig struct {
	Name      string `yaml:"name" json:"name"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
}

// MCPConfig lists the MCP servers to launch.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers" json:"servers"`
}

// MCPServerConfig describes one stdio MCP server subprocess.
type MCPServerConfig struct {
	Name           string            `yaml:"name" json:"name"`
	Command        string            `yaml:"command" json:"command"`
	Args           []string          `yaml:"args" json:"args"`
	Env            map[string]string `yaml:"env" json:"env"`
	WorkDir        string            `yaml:"workdir" json:"workdir"`
	TimeoutSeconds int               `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// RAGConfig locates the retrieval service.
type RAGConfig struct {
	BaseURL    string `yaml:"base_url" json:"base_url"`
	APIKeyEnv  string `yaml:"api_key_env" json:"api_key_env"`
	MaxResults int    `yaml:"max_results" json:"max_results"`
}

// PluginsConfig toggles the interception chain.
type PluginsConfig struct {
	Disabled          bool     `yaml:"disabled" json:"disabled"`
	DisableShellguard bool     `yaml:"disable_shellguard" json:"disable_shellguard"`
	DisableRedact     bool     `yaml:"disable_redact" json:"disable_redact"`
	RedactPatterns    []string `yaml:"redact_patterns" json:"redact_patterns"`
}

// StoreConfig selects conversation persistence.
type StoreConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	Path   string `yaml:"path" json:"path"`
}

// LogConfig tunes structured logging.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero-valued fields after decoding.
func (c *Config) applyDefaults() {
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o"
	}
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Agent.MaxRounds == 0 {
		c.Agent.MaxRounds = 25
	}
	if c.Agent.TokenBudget == 0 {
		c.Agent.TokenBudget = 64000
	}
	if c.Agent.RetryBudget == 0 {
		c.Agent.RetryBudget = 3
	}
	if c.Agent.RetryBackoffSeconds == 0 {
		c.Agent.RetryBackoffSeconds = 10
	}
	if c.Agent.SubagentWorkers == 0 {
		c.Agent.SubagentWorkers = 3
	}
	if c.Web.SearchBackend == "" {
		c.Web.SearchBackend = "duckduckgo"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate checks cross-field rules the schema cannot express.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "anthropic", "gemini", "google":
	default:
		return fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider)
	}
	if c.Agent.RetryBudget < -1 {
		return fmt.Errorf("agent.retry_budget must be >= -1, got %d", c.Agent.RetryBudget)
	}
	switch strings.ToLower(c.Store.Driver) {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}

	seen := map[string]bool{}
	for _, srv := range c.MCP.Servers {
		if srv.Name == "" {
			return fmt.Errorf("mcp server name is required")
		}
		if srv.Command == "" {
			return fmt.Errorf("mcp server %s: command is required", srv.Name)
		}
		if seen[srv.Name] {
			return fmt.Errorf("mcp server name %q is duplicated", srv.Name)
		}
		seen[srv.Name] = true
	}

	for _, p := range c.Web.CrawlProviders {
		if p.Name == "" {
			return fmt.Errorf("crawl provider name is required")
		}
		if p.Endpoint == "" {
			return fmt.Errorf("crawl provider %s: endpoint is required", p.Name)
		}
	}
	return nil
}
