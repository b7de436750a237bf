package githubimport

import (
	"testing"

	"github.com/fluidmcp/gateway/internal/errs"
	"github.com/fluidmcp/gateway/internal/model"
)

func TestNormalizeRepoURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"owner/name", "https://github.com/owner/name"},
		{"/owner/name", "https://github.com/owner/name"},
		{"https://github.com/owner/name", "https://github.com/owner/name"},
		{"http://git.internal/owner/name", "http://git.internal/owner/name"},
		{"git@github.com:owner/name.git", "git@github.com:owner/name.git"},
	}
	for _, c := range cases {
		if got := normalizeRepoURL(c.in); got != c.want {
			t.Errorf("normalizeRepoURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Weather Server", "weather-server"},
		{"already-good", "already-good"},
		{"Under_Score", "under-score"},
		{"!!!", "imported-server"},
		{"  trimmed  ", "trimmed"},
	}
	for _, c := range cases {
		if got := slugify(c.in); got != c.want {
			t.Errorf("slugify(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestToServerConfig(t *testing.T) {
	cfg, err := toServerConfig("Weather Server", rawServerDef{
		Command: "npx",
		Args:    []string{"-y", "weather"},
		Env:     map[string]model.EnvValue{"API_KEY": {Value: "${WEATHER_KEY}"}},
	})
	if err != nil {
		t.Fatalf("toServerConfig: %v", err)
	}
	if cfg.ID != "weather-server" {
		t.Errorf("ID = %q", cfg.ID)
	}
	if !cfg.Enabled {
		t.Error("imported configs should default to enabled")
	}
	if cfg.Command != "npx" || len(cfg.Args) != 2 {
		t.Errorf("launch spec = %+v", cfg)
	}
}

func TestToServerConfig_MissingCommand(t *testing.T) {
	_, err := toServerConfig("x", rawServerDef{})
	if errs.As(err) != errs.Validation {
		t.Errorf("kind = %v, want Validation for missing command", errs.As(err))
	}
}

func TestToServerConfig_BadEnvVarName(t *testing.T) {
	_, err := toServerConfig("x", rawServerDef{
		Command: "npx",
		Env:     map[string]model.EnvValue{"BAD-NAME": {Value: "v"}},
	})
	if errs.As(err) != errs.Validation {
		t.Errorf("kind = %v, want Validation for an invalid env var name", errs.As(err))
	}
}

func TestToServerConfig_NilArgsBecomeEmpty(t *testing.T) {
	cfg, err := toServerConfig("x", rawServerDef{Command: "npx"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Args == nil {
		t.Error("Args should be an empty slice, not nil")
	}
}
