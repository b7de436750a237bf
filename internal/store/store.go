// Package store defines the Persistence Repository: a polymorphic interface
// over the four entities in package model, with two selectable
// implementations (store/memory, store/mongostore).
package store

import (
	"context"

	"github.com/fluidmcp/gateway/internal/model"
)

// ServerRepo persists ServerConfig documents.
type ServerRepo interface {
	SaveServer(ctx context.Context, cfg model.ServerConfig) error
	GetServer(ctx context.Context, id string) (model.ServerConfig, error)
	ListServers(ctx context.Context, enabledOnly bool) ([]model.ServerConfig, error)
	DeleteServer(ctx context.Context, id string) error
}

// InstanceRepo persists ServerInstance documents.
type InstanceRepo interface {
	// SaveInstance writes inst. When expectedPID is non-nil, the write only
	// applies if the currently stored PID still equals *expectedPID -- a
	// check-and-set guarding against a stale writer from a crashed child
	// clobbering a freshly restarted one.
	SaveInstance(ctx context.Context, inst model.ServerInstance, expectedPID *int) error
	GetInstance(ctx context.Context, serverID string) (model.ServerInstance, error)
}

// LogRepo persists LogEntry documents.
type LogRepo interface {
	AppendLog(ctx context.Context, entry model.LogEntry) error
	TailLogs(ctx context.Context, serverID string, n int) ([]model.LogEntry, error)
}

// ModelRepo persists LLMModel documents.
type ModelRepo interface {
	SaveModel(ctx context.Context, m model.LLMModel) error
	GetModel(ctx context.Context, modelID string) (model.LLMModel, error)
	ListModels(ctx context.Context, typeFilter model.LLMModelType) ([]model.LLMModel, error)
	UpdateModel(ctx context.Context, modelID string, patch func(*model.LLMModel)) error
	DeleteModel(ctx context.Context, modelID string) error
}

// Repository is the full polymorphic store. Both implementations expose
// identical method sets so callers never need a type switch.
type Repository interface {
	ServerRepo
	InstanceRepo
	LogRepo
	ModelRepo

	// Health reports whether the backing store is reachable, for GET /health.
	Health(ctx context.Context) error
	// LogBufferStats reports the in-memory retry buffer's health.
	LogBufferStats() LogBufferStats
}

// ErrNotFound is returned by Get*/Delete* operations when the id is unknown.
var ErrNotFound = newSentinel("not found")

// ErrConflict is returned by Save* operations on a duplicate create.
var ErrConflict = newSentinel("conflict")

type sentinelErr struct{ msg string }

func (e *sentinelErr) Error() string { return e.msg }

func newSentinel(msg string) error { return &sentinelErr{msg} }
