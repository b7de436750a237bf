// Package githubimport turns a GitHub repo into a validated ServerConfig:
// it clones the repo to a temp directory with go-git, looks for an
// mcp.json / fluidmcp.json server definition, and runs it through the same
// structural id and env-var-name validation as any other config mutation
// path.
package githubimport

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/fluidmcp/gateway/internal/errs"
	"github.com/fluidmcp/gateway/internal/model"
)

// candidateConfigFiles is the ordered list of filenames probed inside a
// cloned repo for an MCP server definition.
var candidateConfigFiles = []string{"mcp.json", "fluidmcp.json", ".mcp/server.json"}

var envVarPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Request describes one from-github import.
type Request struct {
	Repo        string // e.g. "https://github.com/owner/name" or "owner/name"
	Branch      string // optional; defaults to the repo's default branch
	ServerName  string // optional; selects one entry when the repo defines several servers
	GithubToken string // optional; required for private repos
}

// rawServerDef is the shape of one entry inside mcp.json's "mcpServers"
// map.
type rawServerDef struct {
	Command string                     `json:"command"`
	Args    []string                   `json:"args"`
	Env     map[string]model.EnvValue  `json:"env"`
}

type rawMCPFile struct {
	MCPServers map[string]rawServerDef `json:"mcpServers"`
}

// Import clones req.Repo, locates a server definition, validates it, and
// returns a ServerConfig with Provenance populated. It does not register or
// persist the config -- the HTTP handler does that through the normal
// servermgr.Manager.Add path so every creation route shares one validation
// and audit trail.
func Import(req Request) (model.ServerConfig, error) {
	if strings.TrimSpace(req.Repo) == "" {
		return model.ServerConfig{}, errs.New(errs.Validation, "github_repo is required")
	}

	dir, err := os.MkdirTemp("", "fmcp-github-import-*")
	if err != nil {
		return model.ServerConfig{}, errs.Wrap(errs.Unknown, err, "create temp clone dir")
	}
	defer os.RemoveAll(dir)

	cloneOpts := &git.CloneOptions{
		URL:   normalizeRepoURL(req.Repo),
		Depth: 1,
	}
	if req.Branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(req.Branch)
		cloneOpts.SingleBranch = true
	}
	if req.GithubToken != "" {
		cloneOpts.Auth = &http.BasicAuth{Username: "x-access-token", Password: req.GithubToken}
	}

	if _, err := git.PlainClone(dir, false, cloneOpts); err != nil {
		return model.ServerConfig{}, errs.Wrap(errs.Validation, err, "clone %q", req.Repo)
	}
	log.Printf("[GithubImport] cloned %q into %s", req.Repo, dir)

	def, name, err := findServerDefinition(dir, req.ServerName)
	if err != nil {
		return model.ServerConfig{}, err
	}

	cfg, err := toServerConfig(name, def)
	if err != nil {
		return model.ServerConfig{}, err
	}
	cfg.Provenance = &model.GithubProvenance{
		Source:           "github",
		GithubRepo:       req.Repo,
		GithubBranch:     req.Branch,
		GithubServerName: name,
	}
	return cfg, nil
}

func normalizeRepoURL(repo string) string {
	if strings.HasPrefix(repo, "http://") || strings.HasPrefix(repo, "https://") || strings.HasPrefix(repo, "git@") {
		return repo
	}
	return "https://github.com/" + strings.TrimPrefix(repo, "/")
}

// findServerDefinition looks for the first candidate config file in dir and
// returns the selected server entry (by name, or the sole entry if there is
// only one and the caller did not ask for a specific name).
func findServerDefinition(dir, wantName string) (rawServerDef, string, error) {
	for _, candidate := range candidateConfigFiles {
		path := filepath.Join(dir, candidate)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var file rawMCPFile
		if err := json.Unmarshal(data, &file); err != nil {
			return rawServerDef{}, "", errs.Wrap(errs.Validation, err, "parse %s", candidate)
		}
		if len(file.MCPServers) == 0 {
			continue
		}
		if wantName != "" {
			def, ok := file.MCPServers[wantName]
			if !ok {
				return rawServerDef{}, "", errs.New(errs.NotFound, fmt.Sprintf("server %q not defined in %s", wantName, candidate))
			}
			return def, wantName, nil
		}
		if len(file.MCPServers) == 1 {
			for name, def := range file.MCPServers {
				return def, name, nil
			}
		}
		names := make([]string, 0, len(file.MCPServers))
		for name := range file.MCPServers {
			names = append(names, name)
		}
		return rawServerDef{}, "", errs.New(errs.Validation, fmt.Sprintf("%s defines multiple servers %v, specify github_server_name", candidate, names))
	}
	return rawServerDef{}, "", errs.New(errs.Validation, "no mcp server definition found (looked for "+strings.Join(candidateConfigFiles, ", ")+")")
}

// toServerConfig validates a raw definition before it becomes a
// ServerConfig the rest of the gateway treats as trusted.
func toServerConfig(name string, def rawServerDef) (model.ServerConfig, error) {
	if strings.TrimSpace(def.Command) == "" {
		return model.ServerConfig{}, errs.New(errs.Validation, "missing required field: command")
	}
	if def.Args == nil {
		def.Args = []string{}
	}
	for key := range def.Env {
		if !envVarPattern.MatchString(key) {
			return model.ServerConfig{}, errs.New(errs.Validation, fmt.Sprintf("invalid env var name %q", key))
		}
	}

	id := slugify(name)
	return model.ServerConfig{
		ID:      id,
		Name:    name,
		Command: def.Command,
		Args:    def.Args,
		Env:     def.Env,
		Enabled: true,
	}, nil
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9-]+`)

func slugify(name string) string {
	s := strings.ToLower(name)
	s = nonSlugChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "imported-server"
	}
	return s
}
