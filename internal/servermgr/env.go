package servermgr

import (
	"fmt"
	"os"
	"strings"

	"github.com/fluidmcp/gateway/internal/model"
)

// safeSystemVars is the allowlist of process environment variables that are
// safe to forward into a child; everything else in the gateway's own
// environment is withheld.
var safeSystemVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "TMPDIR": true,
	"LANG": true, "LC_ALL": true, "LD_LIBRARY_PATH": true,
	"PYTHONPATH": true, "VIRTUAL_ENV": true,
}

func isSafeSystemVar(name string) bool {
	if safeSystemVars[name] {
		return true
	}
	return strings.HasPrefix(name, "CUDA_")
}

// buildChildEnv assembles a child process's environment: the allowlisted
// subset of the gateway's own environment, overridden by the server's
// declared vars (compared case-insensitively so PATH and Path never both
// appear), with ${VAR} placeholders in declared values expanded against the
// combined result in a single pass. An unresolved placeholder in a declared
// value is reported as an error so the caller can fail the launch.
func buildChildEnv(declared map[string]model.EnvValue) ([]string, error) {
	resolved := make(map[string]string)
	order := make([]string, 0, len(declared)+8)
	upper := make(map[string]string) // upper(name) -> canonical name actually stored

	put := func(name, value string) {
		key := strings.ToUpper(name)
		if existing, ok := upper[key]; ok {
			resolved[existing] = value
			return
		}
		upper[key] = name
		resolved[name] = value
		order = append(order, name)
	}

	for _, kv := range os.Environ() {
		i := strings.IndexByte(kv, '=')
		if i < 0 {
			continue
		}
		name, value := kv[:i], kv[i+1:]
		if isSafeSystemVar(strings.ToUpper(name)) {
			put(name, value)
		}
	}

	// Declared vars always win over system vars of the same name.
	for name, ev := range declared {
		put(name, ev.Value)
	}

	lookup := func(name string) (string, bool) {
		if v, ok := resolved[name]; ok {
			return v, true
		}
		key := strings.ToUpper(name)
		if canon, ok := upper[key]; ok {
			return resolved[canon], true
		}
		return "", false
	}

	out := make([]string, 0, len(order))
	for _, name := range order {
		val := resolved[name]
		expanded, err := expandPlaceholders(val, lookup)
		if err != nil {
			return nil, fmt.Errorf("env var %q: %w", name, err)
		}
		out = append(out, name+"="+expanded)
	}
	return out, nil
}

// expandPlaceholders replaces every "${VAR}" occurrence in s with the value
// lookup returns. An unresolved placeholder (lookup returns false) is an
// error rather than being expanded to an empty string, so the caller can
// fail the launch instead of handing the child a silently broken value.
func expandPlaceholders(s string, lookup func(string) (string, bool)) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(s); {
		start := strings.Index(s[i:], "${")
		if start < 0 {
			sb.WriteString(s[i:])
			break
		}
		start += i
		sb.WriteString(s[i:start])
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			sb.WriteString(s[start:])
			break
		}
		end += start
		name := s[start+2 : end]
		val, ok := lookup(name)
		if !ok {
			return "", fmt.Errorf("unresolved placeholder ${%s}", name)
		}
		sb.WriteString(val)
		i = end + 1
	}
	return sb.String(), nil
}
