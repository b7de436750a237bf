package bulkimport

import (
	"strings"
	"testing"

	"github.com/fluidmcp/gateway/internal/errs"
	"github.com/fluidmcp/gateway/internal/model"
)

const sampleDoc = `
mcpServers:
  mem:
    command: npx
    args: ["-y", "@modelcontextprotocol/server-memory"]
  fs:
    name: Filesystem
    command: node
    args: [server.js]
    env:
      ROOT: /data
      TOKEN:
        value: "${FS_TOKEN}"
        description: auth token for the backing store
    restart_policy: always
    restart_window_sec: 120
    max_restarts: 5
    enabled: false
`

func TestParse(t *testing.T) {
	cfgs, err := Parse([]byte(sampleDoc), "tester")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfgs) != 2 {
		t.Fatalf("parsed %d configs, want 2", len(cfgs))
	}

	byID := map[string]model.ServerConfig{}
	for _, c := range cfgs {
		byID[c.ID] = c
	}

	mem := byID["mem"]
	if mem.Command != "npx" || len(mem.Args) != 2 {
		t.Errorf("mem = %+v", mem)
	}
	if mem.Name != "mem" {
		t.Errorf("mem.Name = %q, want defaulted to the id", mem.Name)
	}
	if !mem.Enabled {
		t.Error("mem.Enabled should default to true")
	}
	if mem.RestartPolicy != model.RestartOnFailure {
		t.Errorf("mem.RestartPolicy = %q, want defaulted on-failure", mem.RestartPolicy)
	}
	if mem.RestartWindowSec != 300 {
		t.Errorf("mem.RestartWindowSec = %d, want defaulted 300", mem.RestartWindowSec)
	}
	if mem.CreatedBy != "tester" {
		t.Errorf("mem.CreatedBy = %q", mem.CreatedBy)
	}

	fs := byID["fs"]
	if fs.Name != "Filesystem" || fs.Enabled {
		t.Errorf("fs = %+v", fs)
	}
	if fs.RestartPolicy != model.RestartAlways || fs.RestartWindowSec != 120 || fs.MaxRestarts != 5 {
		t.Errorf("fs restart spec = %+v", fs)
	}
	if fs.Env["ROOT"].Value != "/data" {
		t.Errorf("scalar env = %+v", fs.Env["ROOT"])
	}
	if fs.Env["TOKEN"].Value != "${FS_TOKEN}" || fs.Env["TOKEN"].Description == "" {
		t.Errorf("structured env = %+v", fs.Env["TOKEN"])
	}
}

func TestParse_MissingCommand(t *testing.T) {
	_, err := Parse([]byte("mcpServers:\n  broken:\n    args: [x]\n"), "")
	if err == nil {
		t.Fatal("expected error for a definition without a command")
	}
	if errs.As(err) != errs.Validation {
		t.Errorf("kind = %v, want Validation", errs.As(err))
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error %q should name the bad server", err)
	}
}

func TestParse_EmptyDocument(t *testing.T) {
	for _, doc := range []string{"", "mcpServers: {}\n", "unrelated: true\n"} {
		if _, err := Parse([]byte(doc), ""); errs.As(err) != errs.Validation {
			t.Errorf("Parse(%q) kind = %v, want Validation", doc, errs.As(err))
		}
	}
}

func TestParse_AcceptsJSON(t *testing.T) {
	doc := `{"mcpServers":{"mem":{"command":"npx"}}}`
	cfgs, err := Parse([]byte(doc), "")
	if err != nil {
		t.Fatalf("Parse(json): %v", err)
	}
	if len(cfgs) != 1 || cfgs[0].Command != "npx" {
		t.Errorf("cfgs = %+v", cfgs)
	}
}

func TestRenderParseRoundTrip(t *testing.T) {
	in := []model.ServerConfig{{
		ID:               "mem",
		Name:             "Memory",
		Command:          "npx",
		Args:             []string{"-y", "pkg"},
		Env:              map[string]model.EnvValue{"K": {Value: "v"}},
		Enabled:          true,
		RestartPolicy:    model.RestartNever,
		RestartWindowSec: 60,
		MaxRestarts:      1,
	}}

	data, err := Render(in)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	out, err := Parse(data, "")
	if err != nil {
		t.Fatalf("Parse(Render()): %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("round trip produced %d configs", len(out))
	}
	got := out[0]
	if got.ID != "mem" || got.Name != "Memory" || got.Command != "npx" || !got.Enabled {
		t.Errorf("round trip = %+v", got)
	}
	if got.RestartPolicy != model.RestartNever || got.RestartWindowSec != 60 || got.MaxRestarts != 1 {
		t.Errorf("restart spec lost in round trip: %+v", got)
	}
	if got.Env["K"].Value != "v" {
		t.Errorf("env lost in round trip: %+v", got.Env)
	}
}
