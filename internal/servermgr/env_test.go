package servermgr

import (
	"strings"
	"testing"

	"github.com/fluidmcp/gateway/internal/model"
)

func TestBuildChildEnv_DeclaredOverridesSystem(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")

	env, err := buildChildEnv(map[string]model.EnvValue{
		"PATH": {Value: "/custom/bin"},
	})
	if err != nil {
		t.Fatalf("buildChildEnv: %v", err)
	}

	count := 0
	for _, kv := range env {
		if strings.HasPrefix(strings.ToUpper(kv), "PATH=") {
			count++
			if kv != "PATH=/custom/bin" {
				t.Errorf("PATH = %q, want declared value to win", kv)
			}
		}
	}
	if count != 1 {
		t.Errorf("found %d PATH entries, want exactly 1", count)
	}
}

func TestBuildChildEnv_CaseInsensitiveOverride(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")

	// Declaring "Path" must override the system "PATH", never add a second
	// entry differing only in case.
	env, err := buildChildEnv(map[string]model.EnvValue{
		"Path": {Value: "/custom/bin"},
	})
	if err != nil {
		t.Fatalf("buildChildEnv: %v", err)
	}

	count := 0
	for _, kv := range env {
		name := kv[:strings.IndexByte(kv, '=')]
		if strings.EqualFold(name, "PATH") {
			count++
			if !strings.HasSuffix(kv, "=/custom/bin") {
				t.Errorf("path entry = %q, want declared value", kv)
			}
		}
	}
	if count != 1 {
		t.Errorf("found %d case-variants of PATH, want exactly 1", count)
	}
}

func TestBuildChildEnv_ExcludesUnsafeSystemVars(t *testing.T) {
	t.Setenv("AWS_SECRET_ACCESS_KEY", "hunter2")

	env, err := buildChildEnv(nil)
	if err != nil {
		t.Fatalf("buildChildEnv: %v", err)
	}
	for _, kv := range env {
		if strings.HasPrefix(kv, "AWS_SECRET_ACCESS_KEY=") {
			t.Error("unsafe system var leaked into child environment")
		}
	}
}

func TestBuildChildEnv_ForwardsCUDAVars(t *testing.T) {
	t.Setenv("CUDA_VISIBLE_DEVICES", "0,1")

	env, err := buildChildEnv(nil)
	if err != nil {
		t.Fatalf("buildChildEnv: %v", err)
	}
	found := false
	for _, kv := range env {
		if kv == "CUDA_VISIBLE_DEVICES=0,1" {
			found = true
		}
	}
	if !found {
		t.Error("CUDA_* var should be forwarded to the child")
	}
}

func TestBuildChildEnv_ExpandsPlaceholderFromDeclared(t *testing.T) {
	env, err := buildChildEnv(map[string]model.EnvValue{
		"BASE": {Value: "/opt/app"},
		"DATA": {Value: "${BASE}/data"},
	})
	if err != nil {
		t.Fatalf("buildChildEnv: %v", err)
	}
	found := false
	for _, kv := range env {
		if kv == "DATA=/opt/app/data" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected DATA=/opt/app/data in %v", env)
	}
}

func TestBuildChildEnv_UnresolvedPlaceholderFailsLaunch(t *testing.T) {
	_, err := buildChildEnv(map[string]model.EnvValue{
		"TOKEN": {Value: "${FMCP_TEST_DEFINITELY_UNSET_VAR}"},
	})
	if err == nil {
		t.Fatal("expected error for unresolved placeholder")
	}
	if !strings.Contains(err.Error(), "FMCP_TEST_DEFINITELY_UNSET_VAR") {
		t.Errorf("error %q should name the unresolved variable", err)
	}
}

func TestExpandPlaceholders(t *testing.T) {
	lookup := func(name string) (string, bool) {
		vals := map[string]string{"A": "1", "B": "2"}
		v, ok := vals[name]
		return v, ok
	}

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"plain", "plain", false},
		{"${A}", "1", false},
		{"x${A}y${B}z", "x1y2z", false},
		{"${MISSING}", "", true},
		{"unterminated ${A", "unterminated ${A", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, err := expandPlaceholders(c.in, lookup)
		if c.wantErr {
			if err == nil {
				t.Errorf("expandPlaceholders(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("expandPlaceholders(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("expandPlaceholders(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
