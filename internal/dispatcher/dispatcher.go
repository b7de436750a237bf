// Package dispatcher resolves a model_id from the registry into a live
// llm.LLMProvider, expanding ${ENV_VAR} secret placeholders at call time so
// plaintext credentials never sit in the Persistence Repository, and routes
// tool-enabled requests through the Function-Call Router.
package dispatcher

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fluidmcp/gateway/internal/errs"
	"github.com/fluidmcp/gateway/internal/llm"
	"github.com/fluidmcp/gateway/internal/llmbackend/openaicompat"
	"github.com/fluidmcp/gateway/internal/llmbackend/replicate"
	"github.com/fluidmcp/gateway/internal/model"
	"github.com/fluidmcp/gateway/internal/router"
	"github.com/fluidmcp/gateway/internal/store"
	"github.com/fluidmcp/gateway/internal/toolexec"
	"github.com/fluidmcp/gateway/internal/toolregistry"
)

// Dispatcher is the single entry point /api/llm/{model_id}/v1/* handlers
// call to reach a backend.
type Dispatcher struct {
	models   store.ModelRepo
	registry *toolregistry.Registry
}

// New creates a Dispatcher over models, with registry supplying the tools
// available to any model that opts into function calling.
func New(models store.ModelRepo, registry *toolregistry.Registry) *Dispatcher {
	return &Dispatcher{models: models, registry: registry}
}

// resolveBackend loads modelID's registration and builds the concrete
// llm.LLMProvider for its type, expanding its api_key placeholder against
// the gateway's own process environment.
func (d *Dispatcher) resolveBackend(ctx context.Context, modelID string) (llm.LLMProvider, model.LLMModel, error) {
	m, err := d.models.GetModel(ctx, modelID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, model.LLMModel{}, errs.New(errs.NotFound, fmt.Sprintf("model %q is not registered", modelID))
		}
		return nil, model.LLMModel{}, errs.Wrap(errs.Unknown, err, "load model %q", modelID)
	}

	apiKey, ok := expandPlaceholder(m.APIKey)
	if !ok {
		return nil, m, errs.New(errs.BackendAuth, fmt.Sprintf("model %q is misconfigured: api key placeholder %q is not set in the environment", modelID, m.APIKey))
	}

	switch m.Type {
	case model.LLMVLLM, model.LLMOllama, model.LLMHTTPOpenAI:
		backend, err := openaicompat.New(m, apiKey)
		if err != nil {
			return nil, m, errs.Wrap(errs.Unknown, err, "build backend for %q", modelID)
		}
		return backend, m, nil
	case model.LLMReplicate:
		if apiKey == "" {
			return nil, m, errs.New(errs.BackendAuth, fmt.Sprintf("model %q has no resolvable api token", modelID))
		}
		backend, err := replicate.New(m, apiKey)
		if err != nil {
			return nil, m, errs.Wrap(errs.Unknown, err, "build backend for %q", modelID)
		}
		return backend, m, nil
	default:
		return nil, m, errs.New(errs.Validation, fmt.Sprintf("model %q has unknown type %q", modelID, m.Type))
	}
}

// expandPlaceholder expands a single "${ENV_VAR}" placeholder against the
// process environment. Values that are not placeholders pass through
// unchanged (supports legacy configs with a literal key, though the HTTP
// layer rejects new registrations that don't use the placeholder form). ok
// is false only when v names a placeholder whose environment variable is
// unset -- the misconfigured-model condition the caller reports as
// BackendAuth.
func expandPlaceholder(v string) (string, bool) {
	if v == "" {
		return "", true
	}
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		name := strings.TrimSuffix(strings.TrimPrefix(v, "${"), "}")
		val, set := os.LookupEnv(name)
		return val, set
	}
	return v, true
}

// Completions runs a plain (non-tool) chat completion against modelID.
func (d *Dispatcher) Completions(ctx context.Context, modelID string, messages []llm.Message) (llm.Message, error) {
	backend, _, err := d.resolveBackend(ctx, modelID)
	if err != nil {
		return llm.Message{}, err
	}
	return backend.CallLLM(ctx, messages)
}

// CompletionsStream runs a streaming chat completion against modelID.
func (d *Dispatcher) CompletionsStream(ctx context.Context, modelID string, messages []llm.Message, onChunk llm.StreamCallback) (llm.Message, error) {
	backend, _, err := d.resolveBackend(ctx, modelID)
	if err != nil {
		return llm.Message{}, err
	}
	return backend.CallLLMStream(ctx, messages, onChunk)
}

// ChatWithTools runs a tool-enabled completion against modelID via the
// function-calling loop, offering exactly the tools the caller supplied --
// never the whole registry behind the caller's back. If the resolved
// backend does not support tool calling (e.g. Replicate), the request
// degrades to a plain completion.
func (d *Dispatcher) ChatWithTools(ctx context.Context, modelID string, messages []llm.Message, tools []llm.ToolDefinition, choice router.ToolChoice) (llm.Message, error) {
	backend, _, err := d.resolveBackend(ctx, modelID)
	if err != nil {
		return llm.Message{}, err
	}
	if !backend.IsToolCallingEnabled() {
		return backend.CallLLM(ctx, messages)
	}

	executor := toolexec.New(d.registry, modelID, toolexec.DefaultConfig())
	r := router.New(d.registry, executor, router.DefaultConfig())
	return r.HandleCompletion(ctx, backend, messages, tools, choice)
}
