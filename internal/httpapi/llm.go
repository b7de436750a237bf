package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fluidmcp/gateway/internal/errs"
	"github.com/fluidmcp/gateway/internal/llm"
	"github.com/fluidmcp/gateway/internal/model"
	"github.com/fluidmcp/gateway/internal/router"
	"github.com/fluidmcp/gateway/internal/store"
)

// llmModelView is the wire shape for a registered LLM backend. APIKey is
// always the unexpanded "${ENV_VAR}" placeholder -- the resolved secret
// never round-trips through the Persistence Repository or this API.
type llmModelView struct {
	ModelID       string              `json:"model_id"`
	Type          model.LLMModelType  `json:"type"`
	Endpoints     model.LLMEndpoints  `json:"endpoints"`
	APIKey        string              `json:"api_key,omitempty"`
	DefaultParams map[string]any      `json:"default_params,omitempty"`
	TimeoutSec    int                 `json:"timeout_sec,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

func toModelView(m model.LLMModel) llmModelView {
	return llmModelView{
		ModelID:       m.ModelID,
		Type:          m.Type,
		Endpoints:     m.Endpoints,
		APIKey:        m.APIKey,
		DefaultParams: m.DefaultParams,
		TimeoutSec:    m.TimeoutSec,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// handleListModels serves GET /api/llm/models.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.repo.ListModels(r.Context(), "")
	if err != nil {
		writeError(w, errs.Wrap(errs.Unknown, err, "list models"))
		return
	}
	views := make([]llmModelView, len(models))
	for i, m := range models {
		views[i] = toModelView(m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": views})
}

// handleRegisterModel serves POST /api/llm/models. A literal (non-"${...}")
// api_key is rejected so no plaintext credential is ever persisted.
func (s *Server) handleRegisterModel(w http.ResponseWriter, r *http.Request) {
	var v llmModelView
	if err := decodeJSON(r, &v); err != nil {
		writeError(w, err)
		return
	}
	if v.ModelID == "" {
		writeError(w, errs.New(errs.Validation, "model_id is required"))
		return
	}
	if v.APIKey != "" && !(strings.HasPrefix(v.APIKey, "${") && strings.HasSuffix(v.APIKey, "}")) {
		writeError(w, errs.New(errs.Validation, `api_key must be a "${ENV_VAR}" placeholder, not a literal secret`))
		return
	}

	now := timeNow()
	m := model.LLMModel{
		ModelID:       v.ModelID,
		Type:          v.Type,
		Endpoints:     v.Endpoints,
		APIKey:        v.APIKey,
		DefaultParams: v.DefaultParams,
		TimeoutSec:    v.TimeoutSec,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
	if err := s.repo.SaveModel(r.Context(), m); err != nil {
		if err == store.ErrConflict {
			// Registration is create-only; a duplicate is a caller input
			// error (400), not a 409 -- updates go through the update path.
			writeError(w, errs.New(errs.Validation, fmt.Sprintf("model %q is already registered", v.ModelID)))
			return
		}
		writeError(w, errs.Wrap(errs.Unknown, err, "save model %q", v.ModelID))
		return
	}
	writeJSON(w, http.StatusOK, toModelView(m))
}

// handleDeleteModel serves DELETE /api/llm/models/{id}.
func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.repo.DeleteModel(r.Context(), id); err != nil {
		writeError(w, notFoundOrWrap(err, "model", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// chatCompletionRequest mirrors the OpenAI chat/completions request shape.
type chatCompletionRequest struct {
	Messages   []llm.Message `json:"messages"`
	Stream     bool          `json:"stream,omitempty"`
	Tools      []chatToolDef `json:"tools,omitempty"`
	ToolChoice string        `json:"tool_choice,omitempty"`
}

// chatToolDef is one OpenAI-style tool entry:
// {"type":"function","function":{"name",...,"parameters":{...}}}.
type chatToolDef struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

// resolveRequestTools converts the request's tool entries to the dispatch
// shape. An entry that names a registered tool but carries no parameters
// schema is filled in from the registry, so callers can offer a gateway
// tool by name alone without restating its schema.
func (s *Server) resolveRequestTools(defs []chatToolDef) []llm.ToolDefinition {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]llm.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		def := llm.ToolDefinition{
			Name:        d.Function.Name,
			Description: d.Function.Description,
			Parameters:  d.Function.Parameters,
		}
		if len(def.Parameters) == 0 && s.registry != nil {
			if t, ok := s.registry.Get(def.Name); ok {
				if def.Description == "" {
					def.Description = t.Description()
				}
				def.Parameters = t.InputSchema()
			}
		}
		tools = append(tools, def)
	}
	return tools
}

type chatCompletionResponse struct {
	Model   string      `json:"model"`
	Message llm.Message `json:"message"`
}

// handleChatCompletions serves POST /api/llm/{model_id}/v1/chat/completions.
// The function-calling path engages only when the request supplies tools
// AND tool_choice is not "none"; everything else is a plain completion
// against the backend.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	modelID := r.PathValue("model_id")

	var req chatCompletionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, errs.New(errs.Validation, "messages is required"))
		return
	}

	choice := router.ToolChoiceAuto
	if req.ToolChoice == string(router.ToolChoiceNone) {
		choice = router.ToolChoiceNone
	}
	tools := s.resolveRequestTools(req.Tools)

	start := time.Now()
	if req.Stream {
		s.streamChatCompletion(w, r, modelID, req.Messages)
		return
	}

	var msg llm.Message
	var err error
	if len(tools) > 0 && choice != router.ToolChoiceNone {
		msg, err = s.dispatch.ChatWithTools(r.Context(), modelID, req.Messages, tools, choice)
	} else {
		msg, err = s.dispatch.Completions(r.Context(), modelID, req.Messages)
	}
	s.recordLLMOutcome(modelID, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatCompletionResponse{Model: modelID, Message: msg})
}

// completionRequest is the legacy /v1/completions shape: a single prompt
// wrapped into one user message before dispatch.
type completionRequest struct {
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream,omitempty"`
}

// handleCompletions serves POST /api/llm/{model_id}/v1/completions.
func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	modelID := r.PathValue("model_id")

	var req completionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, errs.New(errs.Validation, "prompt is required"))
		return
	}
	messages := []llm.Message{{Role: llm.RoleUser, Content: req.Prompt}}

	start := time.Now()
	if req.Stream {
		s.streamChatCompletion(w, r, modelID, messages)
		return
	}

	msg, err := s.dispatch.Completions(r.Context(), modelID, messages)
	s.recordLLMOutcome(modelID, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatCompletionResponse{Model: modelID, Message: msg})
}

func (s *Server) recordLLMOutcome(modelID string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.RecordLLMRequest(modelID, "", outcome, time.Since(start).Seconds())
}

var timeNow = time.Now
