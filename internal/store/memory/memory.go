// Package memory is the in-memory Persistence Repository: a zero-dependency
// store.Repository for tests, local development, and FMCP_MONGO_URI-unset
// deployments. Its method set matches store.Repository exactly, so callers
// never need to know which backend they hold.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fluidmcp/gateway/internal/model"
	"github.com/fluidmcp/gateway/internal/store"
)

// Store is a sync.RWMutex-guarded in-memory Repository, one mutex per
// collection so unrelated concerns never share a lock.
type Store struct {
	serversMu sync.RWMutex
	servers   map[string]model.ServerConfig

	instancesMu sync.RWMutex
	instances   map[string]model.ServerInstance

	logsMu  sync.RWMutex
	logs    []model.LogEntry
	maxLogs int

	modelsMu sync.RWMutex
	models   map[string]model.LLMModel

	logBuf *store.RetryBuffer
}

// New creates an empty in-memory Store. maxLogs bounds the capped log
// collection (FMCP_MAX_MEMORY_LOGS); <=0 means unbounded.
func New(maxLogs int) *Store {
	s := &Store{
		servers:   make(map[string]model.ServerConfig),
		instances: make(map[string]model.ServerInstance),
		models:    make(map[string]model.LLMModel),
		maxLogs:   maxLogs,
	}
	s.logBuf = store.NewRetryBuffer(directLogRepo{s}, maxLogs)
	return s
}

// directLogRepo exposes Store's unbuffered log methods as a store.LogRepo so
// RetryBuffer can wrap them; the in-memory backend never actually fails a
// write, but wrapping keeps the health-check surface identical across both
// Repository implementations.
type directLogRepo struct{ s *Store }

func (d directLogRepo) AppendLog(ctx context.Context, entry model.LogEntry) error {
	return d.s.appendLogDirect(ctx, entry)
}
func (d directLogRepo) TailLogs(ctx context.Context, serverID string, n int) ([]model.LogEntry, error) {
	return d.s.tailLogsDirect(ctx, serverID, n)
}

// --- ServerRepo ---

func (s *Store) SaveServer(ctx context.Context, cfg model.ServerConfig) error {
	s.serversMu.Lock()
	defer s.serversMu.Unlock()
	s.servers[cfg.ID] = cfg
	return nil
}

func (s *Store) GetServer(ctx context.Context, id string) (model.ServerConfig, error) {
	s.serversMu.RLock()
	defer s.serversMu.RUnlock()
	cfg, ok := s.servers[id]
	if !ok {
		return model.ServerConfig{}, store.ErrNotFound
	}
	return cfg, nil
}

func (s *Store) ListServers(ctx context.Context, enabledOnly bool) ([]model.ServerConfig, error) {
	s.serversMu.RLock()
	defer s.serversMu.RUnlock()
	out := make([]model.ServerConfig, 0, len(s.servers))
	for _, cfg := range s.servers {
		if enabledOnly && !cfg.Enabled {
			continue
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteServer(ctx context.Context, id string) error {
	s.serversMu.Lock()
	defer s.serversMu.Unlock()
	if _, ok := s.servers[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.servers, id)
	return nil
}

// --- InstanceRepo ---

func (s *Store) SaveInstance(ctx context.Context, inst model.ServerInstance, expectedPID *int) error {
	s.instancesMu.Lock()
	defer s.instancesMu.Unlock()
	if expectedPID != nil {
		if existing, ok := s.instances[inst.ServerID]; ok && existing.PID != *expectedPID {
			// Stale writer: a crashed-and-restarted child's old goroutine is
			// trying to clobber the freshly restarted instance's record.
			return nil
		}
	}
	s.instances[inst.ServerID] = inst
	return nil
}

func (s *Store) GetInstance(ctx context.Context, serverID string) (model.ServerInstance, error) {
	s.instancesMu.RLock()
	defer s.instancesMu.RUnlock()
	inst, ok := s.instances[serverID]
	if !ok {
		return model.ServerInstance{}, store.ErrNotFound
	}
	return inst, nil
}

// --- LogRepo (buffered through RetryBuffer) ---

func (s *Store) AppendLog(ctx context.Context, entry model.LogEntry) error {
	return s.logBuf.AppendLog(ctx, entry)
}

func (s *Store) TailLogs(ctx context.Context, serverID string, n int) ([]model.LogEntry, error) {
	return s.logBuf.TailLogs(ctx, serverID, n)
}

func (s *Store) appendLogDirect(ctx context.Context, entry model.LogEntry) error {
	s.logsMu.Lock()
	defer s.logsMu.Unlock()
	s.logs = append(s.logs, entry)
	if s.maxLogs > 0 && len(s.logs) > s.maxLogs {
		s.logs = s.logs[len(s.logs)-s.maxLogs:]
	}
	return nil
}

func (s *Store) tailLogsDirect(ctx context.Context, serverID string, n int) ([]model.LogEntry, error) {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	var matched []model.LogEntry
	for _, e := range s.logs {
		if e.ServerID == serverID {
			matched = append(matched, e)
		}
	}
	if n <= 0 || n > len(matched) {
		n = len(matched)
	}
	return append([]model.LogEntry(nil), matched[len(matched)-n:]...), nil
}

// --- ModelRepo ---

func (s *Store) SaveModel(ctx context.Context, m model.LLMModel) error {
	s.modelsMu.Lock()
	defer s.modelsMu.Unlock()
	if _, exists := s.models[m.ModelID]; exists {
		return store.ErrConflict
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.UpdatedAt = m.CreatedAt
	m.Version = 1
	s.models[m.ModelID] = m
	return nil
}

func (s *Store) GetModel(ctx context.Context, modelID string) (model.LLMModel, error) {
	s.modelsMu.RLock()
	defer s.modelsMu.RUnlock()
	m, ok := s.models[modelID]
	if !ok {
		return model.LLMModel{}, store.ErrNotFound
	}
	return m, nil
}

func (s *Store) ListModels(ctx context.Context, typeFilter model.LLMModelType) ([]model.LLMModel, error) {
	s.modelsMu.RLock()
	defer s.modelsMu.RUnlock()
	out := make([]model.LLMModel, 0, len(s.models))
	for _, m := range s.models {
		if typeFilter != "" && m.Type != typeFilter {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out, nil
}

func (s *Store) UpdateModel(ctx context.Context, modelID string, patch func(*model.LLMModel)) error {
	s.modelsMu.Lock()
	defer s.modelsMu.Unlock()
	m, ok := s.models[modelID]
	if !ok {
		return store.ErrNotFound
	}
	patch(&m)
	m.ModelID = modelID
	m.UpdatedAt = time.Now()
	m.Version++
	s.models[modelID] = m
	return nil
}

func (s *Store) DeleteModel(ctx context.Context, modelID string) error {
	s.modelsMu.Lock()
	defer s.modelsMu.Unlock()
	if _, ok := s.models[modelID]; !ok {
		return store.ErrNotFound
	}
	delete(s.models, modelID)
	return nil
}

// --- Repository (health + buffer stats) ---

// Health always succeeds: there is no backing connection to lose.
func (s *Store) Health(ctx context.Context) error { return nil }

func (s *Store) LogBufferStats() store.LogBufferStats {
	return s.logBuf.Stats()
}

var _ store.Repository = (*Store)(nil)
