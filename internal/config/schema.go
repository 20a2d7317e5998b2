package config

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// configSchema is the structural contract a config file must meet before
// decoding. Cross-field rules live in Config.Validate.
const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "llm": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "provider": {"type": "string"},
        "model": {"type": "string"},
        "api_key_env": {"type": "string"},
        "base_url": {"type": "string"},
        "max_tokens": {"type": "integer", "minimum": 0}
      }
    },
    "agent": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "max_rounds": {"type": "integer", "minimum": 1},
        "token_budget": {"type": "integer", "minimum": 1},
        "retry_budget": {"type": "integer", "minimum": -1},
        "retry_backoff_seconds": {"type": "integer", "minimum": 0},
        "subagent_workers": {"type": "integer", "minimum": 1}
      }
    },
    "workspace": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "root": {"type": "string"},
        "state_dir": {"type": "string"},
        "ignore": {"type": "array", "items": {"type": "string"}},
        "command_timeout_seconds": {"type": "integer", "minimum": 1}
      }
    },
    "web": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "search_backend": {"type": "string", "enum": ["searxng", "duckduckgo", "brave"]},
        "searxng_url": {"type": "string"},
        "brave_api_key_env": {"type": "string"},
        "max_results": {"type": "integer", "minimum": 1},
        "crawl_providers": {
          "type": "array",
          "items": {
            "type": "object",
            "additionalProperties": false,
            "properties": {
              "name": {"type": "string"},
              "endpoint": {"type": "string"},
              "api_key_env": {"type": "string"}
            },
            "required": ["name", "endpoint"]
          }
        }
      }
    },
    "mcp": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "servers": {
          "type": "array",
          "items": {
            "type": "object",
            "additionalProperties": false,
            "properties": {
              "name": {"type": "string"},
              "command": {"type": "string"},
              "args": {"type": "array", "items": {"type": "string"}},
              "env": {"type": "object", "additionalProperties": {"type": "string"}},
              "workdir": {"type": "string"},
              "timeout_seconds": {"type": "integer", "minimum": 1}
            },
            "required": ["name", "command"]
          }
        }
      }
    },
    "rag": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "base_url": {"type": "string"},
        "api_key_env": {"type": "string"},
        "max_results": {"type": "integer", "minimum": 1}
      }
    },
    "plugins": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "disabled": {"type": "boolean"},
        "disable_shellguard": {"type": "boolean"},
        "disable_redact": {"type": "boolean"},
        "redact_patterns": {"type": "array", "items": {"type": "string"}}
      }
    },
    "store": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "driver": {"type": "string", "enum": ["memory", "sqlite"]},
        "path": {"type": "string"}
      }
    },
    "log": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
        "format": {"type": "string", "enum": ["json", "text"]}
      }
    },
    "metrics_addr": {"type": "string"},
    "trace_endpoint": {"type": "string"}
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("adze_config", configSchema)
	})
	return schema, schemaErr
}

// validateRaw checks the merged raw document against the embedded schema.
// The map is round-tripped through JSON so yaml-native types validate the
// same as json5 input.
func validateRaw(raw map[string]any) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("serialize config: %w", err)
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return err
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
