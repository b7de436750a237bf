package store

import (
	"time"

	"github.com/fluidmcp/gateway/internal/model"
)

// serverDoc is the nested storage shape of a ServerConfig: `mcp_config:
// {command, args, env}` rather than those fields sitting at the document's
// top level. The flat wire format always wins on read, and the two shapes
// are distinct types so an untyped map never crosses a storage boundary.
type ServerDoc = serverDoc

type serverDoc struct {
	ID          string `bson:"_id"`
	Name        string `bson:"name"`
	Description string `bson:"description"`
	Enabled     bool   `bson:"enabled"`

	MCPConfig mcpConfigDoc `bson:"mcp_config"`

	WorkingDir string `bson:"working_dir,omitempty"`

	RestartPolicy    model.RestartPolicy `bson:"restart_policy"`
	RestartWindowSec int                 `bson:"restart_window_sec"`
	MaxRestarts      int                 `bson:"max_restarts"`

	Provenance *model.GithubProvenance `bson:"provenance,omitempty"`

	CreatedBy string    `bson:"created_by,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`

	Tools []model.ToolInfo `bson:"tools,omitempty"`
}

type mcpConfigDoc struct {
	Command string                     `bson:"command"`
	Args    []string                   `bson:"args"`
	Env     map[string]model.EnvValue  `bson:"env"`
}

// ToStorageDoc converts the wire-format ServerConfig into the nested
// storage shape.
func ToStorageDoc(cfg model.ServerConfig) serverDoc { return toStorageDoc(cfg) }

func toStorageDoc(cfg model.ServerConfig) serverDoc {
	return serverDoc{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Description: cfg.Description,
		Enabled:     cfg.Enabled,
		MCPConfig: mcpConfigDoc{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     cfg.Env,
		},
		WorkingDir:       cfg.WorkingDir,
		RestartPolicy:    cfg.RestartPolicy,
		RestartWindowSec: cfg.RestartWindowSec,
		MaxRestarts:      cfg.MaxRestarts,
		Provenance:       cfg.Provenance,
		CreatedBy:        cfg.CreatedBy,
		CreatedAt:        cfg.CreatedAt,
		UpdatedAt:        cfg.UpdatedAt,
		Tools:            cfg.Tools,
	}
}

// FromStorageDoc converts the nested storage shape back into the flat
// ServerConfig the process-launch path and HTTP API use.
func FromStorageDoc(doc serverDoc) model.ServerConfig { return fromStorageDoc(doc) }

func fromStorageDoc(doc serverDoc) model.ServerConfig {
	return model.ServerConfig{
		ID:               doc.ID,
		Name:             doc.Name,
		Description:      doc.Description,
		Enabled:          doc.Enabled,
		Command:          doc.MCPConfig.Command,
		Args:             doc.MCPConfig.Args,
		Env:              doc.MCPConfig.Env,
		WorkingDir:       doc.WorkingDir,
		RestartPolicy:    doc.RestartPolicy,
		RestartWindowSec: doc.RestartWindowSec,
		MaxRestarts:      doc.MaxRestarts,
		Provenance:       doc.Provenance,
		CreatedBy:        doc.CreatedBy,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
		Tools:            doc.Tools,
	}
}
