// Package model defines the four first-class entities the gateway persists
// and operates on: ServerConfig, ServerInstance, LLMModel, and LogEntry.
package model

import "time"

// RestartPolicy controls whether the Server Manager restarts a child after
// it exits.
type RestartPolicy string

const (
	RestartNever     RestartPolicy = "never"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartAlways    RestartPolicy = "always"
)

// InstanceState is a node in the per-server lifecycle state machine.
type InstanceState string

const (
	StateStopped  InstanceState = "stopped"
	StateStarting InstanceState = "starting"
	StateRunning  InstanceState = "running"
	StateStopping InstanceState = "stopping"
	StateFailed   InstanceState = "failed"
)

// GithubProvenance records where a server config was imported from, when it
// was registered via the from-github flow rather than created directly.
type GithubProvenance struct {
	Source           string `json:"source,omitempty" bson:"source,omitempty"`
	GithubRepo       string `json:"github_repo,omitempty" bson:"github_repo,omitempty"`
	GithubBranch     string `json:"github_branch,omitempty" bson:"github_branch,omitempty"`
	GithubServerName string `json:"github_server_name,omitempty" bson:"github_server_name,omitempty"`
}

// EnvValue is one entry of ServerConfig.Env. It accepts both the simple
// string form and the structured {value, description} form; Description is
// metadata only and stripped before the value reaches a child process's
// environment.
type EnvValue struct {
	Value       string `json:"value" bson:"value"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`
}

// ToolInfo is a cached, non-authoritative snapshot of one tool a server
// exposed the last time list_tools succeeded.
type ToolInfo struct {
	Name        string `json:"name" bson:"name"`
	Description string `json:"description" bson:"description"`
	InputSchema []byte `json:"input_schema" bson:"input_schema"`
}

// ServerConfig is the desired state of one MCP child.
type ServerConfig struct {
	ID          string `json:"id" bson:"_id"`
	Name        string `json:"name" bson:"name"`
	Description string `json:"description" bson:"description"`
	Enabled     bool   `json:"enabled" bson:"enabled"`

	Command    string              `json:"command" bson:"command"`
	Args       []string            `json:"args" bson:"args"`
	Env        map[string]EnvValue `json:"env" bson:"env"`
	WorkingDir string              `json:"working_dir,omitempty" bson:"working_dir,omitempty"`

	RestartPolicy    RestartPolicy `json:"restart_policy" bson:"restart_policy"`
	RestartWindowSec int           `json:"restart_window_sec" bson:"restart_window_sec"`
	MaxRestarts      int           `json:"max_restarts" bson:"max_restarts"`

	Provenance *GithubProvenance `json:"provenance,omitempty" bson:"provenance,omitempty"`

	CreatedBy string    `json:"created_by,omitempty" bson:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`

	Tools []ToolInfo `json:"tools,omitempty" bson:"tools,omitempty"`
}

// LastExit describes a child's most recent exit, as observed by the
// watchdog.
type LastExit struct {
	Code      int       `json:"code" bson:"code"`
	Signal    string    `json:"signal,omitempty" bson:"signal,omitempty"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// ServerInstance is the runtime state of one child.
type ServerInstance struct {
	ServerID string        `json:"server_id" bson:"server_id"`
	State    InstanceState `json:"state" bson:"state"`
	PID      int           `json:"pid,omitempty" bson:"pid,omitempty"`

	StartTime *time.Time `json:"start_time,omitempty" bson:"start_time,omitempty"`
	StopTime  *time.Time `json:"stop_time,omitempty" bson:"stop_time,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty" bson:"exit_code,omitempty"`
	LastError string     `json:"last_error,omitempty" bson:"last_error,omitempty"`

	RestartCount        int        `json:"restart_count" bson:"restart_count"`
	LastHealthCheck     *time.Time `json:"last_health_check,omitempty" bson:"last_health_check,omitempty"`
	HealthCheckFailures int        `json:"health_check_failures" bson:"health_check_failures"`

	Host string `json:"host,omitempty" bson:"host,omitempty"`
	Port int    `json:"port,omitempty" bson:"port,omitempty"`

	StartedBy string    `json:"started_by,omitempty" bson:"started_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// LLMModelType selects which backend strategy the Dispatcher uses.
type LLMModelType string

const (
	LLMReplicate   LLMModelType = "replicate"
	LLMVLLM        LLMModelType = "vllm"
	LLMOllama      LLMModelType = "ollama"
	LLMHTTPOpenAI  LLMModelType = "http_openai"
)

// LLMEndpoints holds the network location of a registered inference
// backend.
type LLMEndpoints struct {
	BaseURL string `json:"base_url" bson:"base_url"`
}

// LLMModel is a registered inference backend handle.
type LLMModel struct {
	ModelID string       `json:"model_id" bson:"_id"`
	Type    LLMModelType `json:"type" bson:"type"`

	Endpoints LLMEndpoints `json:"endpoints" bson:"endpoints"`
	// APIKey is stored as an unexpanded placeholder, e.g. "${REPLICATE_TOKEN}".
	APIKey string `json:"api_key,omitempty" bson:"api_key,omitempty"`

	DefaultParams map[string]any `json:"default_params,omitempty" bson:"default_params,omitempty"`

	TimeoutSec int       `json:"timeout_sec" bson:"timeout_sec"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" bson:"updated_at"`
	Version    int       `json:"version" bson:"version"`
}

// LogStream identifies which child file descriptor a LogEntry came from.
type LogStream string

const (
	StreamStdout LogStream = "stdout"
	StreamStderr LogStream = "stderr"
)

// LogEntry is one streamed line from a child's stdout/stderr.
type LogEntry struct {
	ServerID  string    `json:"server_id" bson:"server_id"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Stream    LogStream `json:"stream" bson:"stream"`
	Content   string    `json:"content" bson:"content"`
}
