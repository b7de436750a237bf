package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fluidmcp/gateway/internal/bulkimport"
	"github.com/fluidmcp/gateway/internal/errs"
	"github.com/fluidmcp/gateway/internal/githubimport"
	"github.com/fluidmcp/gateway/internal/model"
	"github.com/fluidmcp/gateway/internal/store"
	"github.com/fluidmcp/gateway/internal/telemetry"
)

// serverView is the wire shape for a server config: command/args/env sit at
// the top level alongside the metadata fields. Requests may instead nest
// them under "mcp_config" (the storage-preferred shape); when both are
// present the flat fields win, which is the "wire format always wins on
// read" rule applied to inbound bodies.
type serverView struct {
	ID          string                     `json:"id"`
	Name        string                     `json:"name"`
	Description string                     `json:"description,omitempty"`
	Enabled     bool                       `json:"enabled"`
	Command     string                     `json:"command"`
	Args        []string                   `json:"args"`
	Env         map[string]model.EnvValue  `json:"env"`
	WorkingDir  string                     `json:"working_dir,omitempty"`

	// MCPConfig is accepted on input only; responses always use the flat
	// fields above.
	MCPConfig *mcpConfigView `json:"mcp_config,omitempty"`

	RestartPolicy    model.RestartPolicy `json:"restart_policy"`
	RestartWindowSec int                 `json:"restart_window_sec"`
	MaxRestarts      int                 `json:"max_restarts"`

	Provenance *model.GithubProvenance `json:"provenance,omitempty"`
	Tools      []model.ToolInfo        `json:"tools,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toServerView(cfg model.ServerConfig) serverView {
	return serverView{
		ID:               cfg.ID,
		Name:             cfg.Name,
		Description:      cfg.Description,
		Enabled:          cfg.Enabled,
		Command:          cfg.Command,
		Args:             cfg.Args,
		Env:              cfg.Env,
		WorkingDir:       cfg.WorkingDir,
		RestartPolicy:    cfg.RestartPolicy,
		RestartWindowSec: cfg.RestartWindowSec,
		MaxRestarts:      cfg.MaxRestarts,
		Provenance:       cfg.Provenance,
		Tools:            cfg.Tools,
		CreatedAt:        cfg.CreatedAt,
		UpdatedAt:        cfg.UpdatedAt,
	}
}

// mcpConfigView is the nested launch-spec shape some clients send on create.
type mcpConfigView struct {
	Command string                    `json:"command"`
	Args    []string                  `json:"args"`
	Env     map[string]model.EnvValue `json:"env"`
}

func (v serverView) toConfig() model.ServerConfig {
	cfg := model.ServerConfig{
		ID:               v.ID,
		Name:             v.Name,
		Description:      v.Description,
		Enabled:          v.Enabled,
		Command:          v.Command,
		Args:             v.Args,
		Env:              v.Env,
		WorkingDir:       v.WorkingDir,
		RestartPolicy:    v.RestartPolicy,
		RestartWindowSec: v.RestartWindowSec,
		MaxRestarts:      v.MaxRestarts,
	}
	if v.MCPConfig != nil {
		if cfg.Command == "" {
			cfg.Command = v.MCPConfig.Command
		}
		if cfg.Args == nil {
			cfg.Args = v.MCPConfig.Args
		}
		if cfg.Env == nil {
			cfg.Env = v.MCPConfig.Env
		}
	}
	return cfg
}

// handleListServers serves GET /api/servers.
func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	cfgs, err := s.manager.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]serverView, len(cfgs))
	for i, c := range cfgs {
		views[i] = toServerView(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": views})
}

// handleAddServer serves POST /api/servers: registers a new config without
// starting it.
func (s *Server) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var v serverView
	if err := decodeJSON(r, &v); err != nil {
		writeError(w, err)
		return
	}
	cfg := v.toConfig()
	if cfg.RestartPolicy == "" {
		cfg.RestartPolicy = model.RestartOnFailure
	}
	if err := s.manager.Add(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toServerView(cfg))
}

// fromGithubRequest is the wire shape for POST /api/servers/from-github.
type fromGithubRequest struct {
	GithubRepo       string `json:"github_repo"`
	GithubBranch     string `json:"github_branch,omitempty"`
	GithubServerName string `json:"github_server_name,omitempty"`
	GithubToken      string `json:"github_token,omitempty"`
}

// handleServerFromGithub serves POST /api/servers/from-github: delegates to
// githubimport.Import for the clone-and-extract work, then shares the exact
// same Manager.Add validation path every other creation route uses. The
// token comes from the X-GitHub-Token header (preferred, keeps it out of
// request bodies and their logs) or the github_token body field.
func (s *Server) handleServerFromGithub(w http.ResponseWriter, r *http.Request) {
	var req fromGithubRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if headerToken := r.Header.Get("X-GitHub-Token"); headerToken != "" {
		req.GithubToken = headerToken
	}

	cfg, err := githubimportFunc(githubimport.Request{
		Repo:        req.GithubRepo,
		Branch:      req.GithubBranch,
		ServerName:  req.GithubServerName,
		GithubToken: req.GithubToken,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if cfg.RestartPolicy == "" {
		cfg.RestartPolicy = model.RestartOnFailure
	}

	if err := s.manager.Add(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toServerView(cfg))
}

// handleImportServers serves POST /api/servers/import: a bulk
// mcpServers.yaml (or equivalent JSON) document describing many servers at
// once. Each definition goes through the same Manager.Add validation path
// as a single POST /api/servers. A document that fails to parse (including
// any definition without a command) is rejected as a whole; once parsed, a
// definition that Manager.Add refuses does not abort the rest, and the
// response reports exactly what happened to each id.
func (s *Server) handleImportServers(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, errs.Wrap(errs.Validation, err, "read request body"))
		return
	}

	cfgs, err := bulkimport.Parse(body, "bulk-import")
	if err != nil {
		writeError(w, err)
		return
	}

	result := bulkimport.Result{Skipped: map[string]string{}}
	for _, cfg := range cfgs {
		if err := s.manager.Add(r.Context(), cfg); err != nil {
			result.Skipped[cfg.ID] = err.Error()
			continue
		}
		result.Imported = append(result.Imported, cfg.ID)
	}

	status := http.StatusOK
	if len(result.Imported) == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, result)
}

// handleExportServers serves GET /api/servers/export: renders every
// persisted ServerConfig back into an mcpServers.yaml document, the inverse
// of the import path, suitable for backup or sharing between gateways.
func (s *Server) handleExportServers(w http.ResponseWriter, r *http.Request) {
	cfgs, err := s.manager.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	doc, err := bulkimport.Render(cfgs)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// handleGetServer serves GET /api/servers/{id}.
func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cfg, err := s.repo.GetServer(r.Context(), id)
	if err != nil {
		writeError(w, notFoundOrWrap(err, "server", id))
		return
	}
	writeJSON(w, http.StatusOK, toServerView(cfg))
}

// handleUpdateServer serves PUT /api/servers/{id}: a partial update applied
// by merging only the fields present in the request body.
func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var raw map[string]json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		writeError(w, err)
		return
	}

	err := s.manager.Update(r.Context(), id, func(cfg *model.ServerConfig) {
		applyServerPatch(cfg, raw)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	cfg, err := s.repo.GetServer(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toServerView(cfg))
}

func applyServerPatch(cfg *model.ServerConfig, raw map[string]json.RawMessage) {
	if v, ok := raw["name"]; ok {
		_ = json.Unmarshal(v, &cfg.Name)
	}
	if v, ok := raw["description"]; ok {
		_ = json.Unmarshal(v, &cfg.Description)
	}
	if v, ok := raw["enabled"]; ok {
		_ = json.Unmarshal(v, &cfg.Enabled)
	}
	if v, ok := raw["command"]; ok {
		_ = json.Unmarshal(v, &cfg.Command)
	}
	if v, ok := raw["args"]; ok {
		_ = json.Unmarshal(v, &cfg.Args)
	}
	if v, ok := raw["env"]; ok {
		_ = json.Unmarshal(v, &cfg.Env)
	}
	if v, ok := raw["working_dir"]; ok {
		_ = json.Unmarshal(v, &cfg.WorkingDir)
	}
	if v, ok := raw["restart_policy"]; ok {
		_ = json.Unmarshal(v, &cfg.RestartPolicy)
	}
	if v, ok := raw["restart_window_sec"]; ok {
		_ = json.Unmarshal(v, &cfg.RestartWindowSec)
	}
	if v, ok := raw["max_restarts"]; ok {
		_ = json.Unmarshal(v, &cfg.MaxRestarts)
	}
}

// handleDeleteServer serves DELETE /api/servers/{id}.
func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.Remove(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStartServer serves POST /api/servers/{id}/start.
func (s *Server) handleStartServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cfg, err := s.repo.GetServer(r.Context(), id)
	if err != nil {
		writeError(w, notFoundOrWrap(err, "server", id))
		return
	}

	ctx, span := s.tracer.Start(r.Context(), telemetry.SpanServerSpawn, attribute.String(telemetry.AttrServerID, id))
	defer span.End()

	start := time.Now()
	_, err = s.manager.Start(ctx, cfg)
	telemetry.MarkResult(span, err)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordServerStart(id, time.Since(start).Seconds())
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// handleStopServer serves POST /api/servers/{id}/stop.
func (s *Server) handleStopServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.Stop(r.Context(), id, 0); err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordServerStop(id, "requested")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

type statusView struct {
	ServerID         string     `json:"server_id"`
	State            string     `json:"state"`
	PID              int        `json:"pid,omitempty"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	RestartCount     int        `json:"restart_count"`
	LifetimeRestarts int        `json:"lifetime_restarts"`
	RestartsLast1h   int        `json:"restarts_last_1h"`
	RestartsLast24h  int        `json:"restarts_last_24h"`
}

// handleServerStatus serves GET /api/servers/{id}/status.
func (s *Server) handleServerStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.repo.GetServer(r.Context(), id); err != nil {
		writeError(w, notFoundOrWrap(err, "server", id))
		return
	}

	inst, stats, _ := s.manager.Status(id)
	writeJSON(w, http.StatusOK, statusView{
		ServerID:         id,
		State:            string(inst.State),
		PID:              inst.PID,
		StartTime:        inst.StartTime,
		LastError:        inst.LastError,
		RestartCount:     inst.RestartCount,
		LifetimeRestarts: stats.LifetimeRestarts,
		RestartsLast1h:   stats.Recent1h,
		RestartsLast24h:  stats.Recent24h,
	})
}

// handleServerLogs serves GET /api/servers/{id}/logs?lines=100&stream=stdout
// (the shorter ?n= form is accepted too). It prefers the running handle's
// live ring buffer and falls back to the Persistence Repository's tail for a
// stopped server.
func (s *Server) handleServerLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.repo.GetServer(r.Context(), id); err != nil {
		writeError(w, notFoundOrWrap(err, "server", id))
		return
	}

	n := 200
	raw := r.URL.Query().Get("lines")
	if raw == "" {
		raw = r.URL.Query().Get("n")
	}
	if raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}

	entries := s.manager.Logs(id, n)
	if entries == nil {
		var err error
		entries, err = s.repo.TailLogs(r.Context(), id, n)
		if err != nil {
			writeError(w, errs.Wrap(errs.Unknown, err, "tail logs for %q", id))
			return
		}
	}

	if streamFilter := r.URL.Query().Get("stream"); streamFilter != "" {
		filtered := entries[:0:0]
		for _, e := range entries {
			if string(e.Stream) == streamFilter {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"server_id": id, "logs": entries})
}

// runToolRequest is the wire shape for POST /api/servers/{id}/tools/{tool}/run.
type runToolRequest struct {
	Arguments map[string]any `json:"arguments"`
}

// handleRunTool serves POST /api/servers/{id}/tools/{tool}/run: the direct
// tool invocation path, bypassing the Function-Call Router and talking to
// the child's mcpproxy.Proxy through the Server Manager, starting the
// server on demand if it isn't already running.
func (s *Server) handleRunTool(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tool := r.PathValue("tool")

	var req runToolRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	ctx, span := s.tracer.Start(r.Context(), telemetry.SpanToolCall,
		attribute.String(telemetry.AttrServerID, id), attribute.String(telemetry.AttrToolName, tool))
	defer span.End()

	start := time.Now()
	proxy, err := s.manager.AcquireProxy(ctx, id, true, 0)
	if err != nil {
		telemetry.MarkResult(span, err)
		writeError(w, err)
		return
	}

	result, err := proxy.CallTool(ctx, tool, req.Arguments)
	telemetry.MarkResult(span, err)
	if s.metrics != nil {
		outcome := "ok"
		if err != nil || result.IsError {
			outcome = "error"
		}
		s.metrics.RecordToolCall(id, tool, outcome, time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errs.Wrap(errs.Timeout, err, "tool %q on %q timed out", tool, id)
		}
		writeError(w, err)
		return
	}

	if result.RPCErr != nil {
		// The HTTP call succeeded, the tool call failed: the child's
		// JSON-RPC error object travels back verbatim inside a success
		// response rather than through writeError's {error, detail} shape.
		writeJSON(w, statusForKind(errs.ChildError), map[string]any{
			"is_error": true,
			"error":    result.RPCErr,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"is_error": result.IsError,
		"content":  result.Content,
		"text":     result.Text(),
	})
}

func notFoundOrWrap(err error, kind, id string) error {
	if err == store.ErrNotFound {
		return errs.New(errs.NotFound, fmt.Sprintf("%s %q not found", kind, id))
	}
	return errs.Wrap(errs.Unknown, err, "load %s %q", kind, id)
}
