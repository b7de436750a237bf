// Package toolregistry is the process-wide map of name -> {callable,
// json_schema}: the single source of truth the tool executor and
// function-call router consult to resolve a tool call.
package toolregistry

import (
	"context"
	"encoding/json"
)

// Tool is the unified interface for everything the registry can hold. An
// MCP-proxy-backed tool and any other future callable both implement this.
type Tool interface {
	// Name returns the tool identifier (the LLM uses this name to invoke it).
	Name() string

	// Description returns a natural-language description for tool-definition
	// generation.
	Description() string

	// InputSchema returns a JSON-Schema object describing the tool's
	// parameters. Compatible with MCP and OpenAI function calling.
	InputSchema() json.RawMessage

	// Execute runs the tool with JSON-encoded arguments.
	Execute(ctx context.Context, args json.RawMessage) (ToolResult, error)

	// Init prepares tool resources (e.g. confirming the backing MCP proxy
	// is reachable). Tools with no setup may return nil.
	Init(ctx context.Context) error

	// Close releases tool resources.
	Close() error
}

// ToolResult encapsulates a tool execution result.
type ToolResult struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// SchemaParam describes a single parameter for the BuildSchema helper.
type SchemaParam struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // "string", "integer", "boolean", "number"
	Description string   `json:"description"`
	Required    bool     `json:"-"`
	Enum        []string `json:"enum,omitempty"`
}

// BuildSchema generates a standard JSON Schema object from a list of
// SchemaParams, so callers avoid hand-writing JSON strings.
func BuildSchema(params ...SchemaParam) json.RawMessage {
	properties := make(map[string]any)
	var required []string

	for _, p := range params {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	data, _ := json.Marshal(schema)
	return data
}

// ValidateSchema enforces the registration contract: the schema must be a
// JSON-Schema object type with a "properties" member, and any "required"
// entry must reference a declared property.
func ValidateSchema(schema json.RawMessage) error {
	if len(schema) == 0 {
		return errSchema("schema is empty")
	}
	var doc map[string]any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return errSchema("schema is not a JSON object: " + err.Error())
	}
	if t, _ := doc["type"].(string); t != "object" {
		return errSchema(`schema "type" must be "object"`)
	}
	props, ok := doc["properties"].(map[string]any)
	if !ok {
		return errSchema(`schema must have a "properties" object`)
	}
	if reqRaw, present := doc["required"]; present {
		reqList, ok := reqRaw.([]any)
		if !ok {
			return errSchema(`schema "required" must be a list`)
		}
		for _, r := range reqList {
			name, ok := r.(string)
			if !ok {
				return errSchema(`schema "required" entries must be strings`)
			}
			if _, declared := props[name]; !declared {
				return errSchema("required field " + name + " is not declared in properties")
			}
		}
	}
	return nil
}

type schemaError string

func (e schemaError) Error() string { return string(e) }

func errSchema(msg string) error { return schemaError(msg) }
