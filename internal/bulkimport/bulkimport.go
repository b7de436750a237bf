// Package bulkimport parses and renders the mcpServers.yaml bulk server
// definition format: a single document describing many MCP children at
// once as a named map of definitions, the shape mcp.json-style client
// configs already use. It backs POST /api/servers/import and
// GET /api/servers/export.
package bulkimport

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/fluidmcp/gateway/internal/errs"
	"github.com/fluidmcp/gateway/internal/model"
)

// serverDef is one entry under "mcpServers" -- the flat launch-spec shape,
// not the nested mcp_config wrapper the persistence layer uses internally.
type serverDef struct {
	Name             string                     `yaml:"name,omitempty"`
	Description      string                     `yaml:"description,omitempty"`
	Command          string                     `yaml:"command"`
	Args             []string                   `yaml:"args,omitempty"`
	Env              map[string]model.EnvValue  `yaml:"env,omitempty"`
	WorkingDir       string                     `yaml:"working_dir,omitempty"`
	RestartPolicy    model.RestartPolicy        `yaml:"restart_policy,omitempty"`
	RestartWindowSec int                        `yaml:"restart_window_sec,omitempty"`
	MaxRestarts      int                        `yaml:"max_restarts,omitempty"`
	Enabled          *bool                      `yaml:"enabled,omitempty"`
}

// document is the top-level mcpServers.yaml shape.
type document struct {
	MCPServers map[string]serverDef `yaml:"mcpServers"`
}

// Parse decodes a bulk mcpServers.yaml document (also accepts plain JSON,
// which is valid YAML) into ServerConfig values keyed by id. createdBy is
// stamped onto every resulting config's audit field.
func Parse(data []byte, createdBy string) ([]model.ServerConfig, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errs.Wrap(errs.Validation, err, "parse mcpServers document")
	}
	if len(doc.MCPServers) == 0 {
		return nil, errs.New(errs.Validation, "mcpServers document has no server definitions")
	}

	now := true
	cfgs := make([]model.ServerConfig, 0, len(doc.MCPServers))
	for id, def := range doc.MCPServers {
		if def.Command == "" {
			return nil, errs.New(errs.Validation, fmt.Sprintf("server %q: command is required", id))
		}
		enabled := now
		if def.Enabled != nil {
			enabled = *def.Enabled
		}
		restartPolicy := def.RestartPolicy
		if restartPolicy == "" {
			restartPolicy = model.RestartOnFailure
		}
		restartWindow := def.RestartWindowSec
		if restartWindow <= 0 {
			restartWindow = 300
		}
		name := def.Name
		if name == "" {
			name = id
		}
		cfgs = append(cfgs, model.ServerConfig{
			ID:               id,
			Name:             name,
			Description:      def.Description,
			Enabled:          enabled,
			Command:          def.Command,
			Args:             def.Args,
			Env:              def.Env,
			WorkingDir:       def.WorkingDir,
			RestartPolicy:    restartPolicy,
			RestartWindowSec: restartWindow,
			MaxRestarts:      def.MaxRestarts,
			CreatedBy:        createdBy,
		})
	}
	return cfgs, nil
}

// Render encodes cfgs back into an mcpServers.yaml document, the inverse of
// Parse, used by the export path.
func Render(cfgs []model.ServerConfig) ([]byte, error) {
	doc := document{MCPServers: make(map[string]serverDef, len(cfgs))}
	for _, cfg := range cfgs {
		enabled := cfg.Enabled
		doc.MCPServers[cfg.ID] = serverDef{
			Name:             cfg.Name,
			Description:      cfg.Description,
			Command:          cfg.Command,
			Args:             cfg.Args,
			Env:              cfg.Env,
			WorkingDir:       cfg.WorkingDir,
			RestartPolicy:    cfg.RestartPolicy,
			RestartWindowSec: cfg.RestartWindowSec,
			MaxRestarts:      cfg.MaxRestarts,
			Enabled:          &enabled,
		}
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errs.Wrap(errs.Unknown, err, "render mcpServers document")
	}
	return out, nil
}

// Result summarizes one bulk import, reported back to the caller so a
// partially-applied import is visible rather than silently dropped.
type Result struct {
	Imported []string          `json:"imported"`
	Skipped  map[string]string `json:"skipped,omitempty"`
}
