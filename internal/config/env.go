package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadEnv loads environment variables from a .env file.
//
// Search order (stops at the first file found):
//  1. Explicit paths passed as arguments (legacy / test use).
//  2. Directory of the running executable, walking up a few levels.
//  3. Current working directory            — fallback for `go run ./cmd/gateway`.
//
// If no .env is found anywhere, the program continues with system env vars.
func LoadEnv(paths ...string) {
	// Caller-supplied paths (legacy / test support).
	if len(paths) > 0 {
		if err := godotenv.Load(paths...); err != nil {
			log.Printf("[Config] No .env file at specified path(s), using system environment variables")
		}
		return
	}

	candidates := resolveEnvCandidates()
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			if err := godotenv.Load(p); err != nil {
				log.Printf("[Config] Failed to load .env from %s: %v", p, err)
			} else {
				log.Printf("[Config] Loaded .env from %s", p)
			}
			return
		}
	}

	log.Printf("[Config] No .env file found (searched: %v), using system environment variables", candidates)
}

// resolveEnvCandidates returns the ordered list of .env paths to probe.
// It only builds the list and opens no file; EnvFilePath probes the result.
func resolveEnvCandidates() []string {
	var candidates []string
	seen := map[string]bool{}

	add := func(p string) {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			candidates = append(candidates, p)
		}
	}

	// 1. Walk up from the executable directory (up to 3 levels), so a
	//    gateway binary installed under bin/ still finds the project-root
	//    .env without users having to place it anywhere unusual.
	if exe, err := os.Executable(); err == nil {
		if real, err := filepath.EvalSymlinks(exe); err == nil {
			exe = real
		}
		dir := filepath.Dir(exe)
		for i := 0; i <= 3; i++ {
			add(filepath.Join(dir, ".env"))
			parent := filepath.Dir(dir)
			if parent == dir {
				break // reached filesystem root
			}
			dir = parent
		}
	}

	// 2. Current working directory — fallback for `go run ./cmd/gateway`.
	if cwd, err := os.Getwd(); err == nil {
		add(filepath.Join(cwd, ".env"))
	}

	return candidates
}

// EnvFilePath returns a human-readable description of where .env will be loaded
// from. Useful for startup log messages.
func EnvFilePath() string {
	for _, p := range resolveEnvCandidates() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return fmt.Sprintf("(not found; searched %v)", resolveEnvCandidates())
}

// DefaultAllowedCommands is always allowed; FMCP_ALLOWED_COMMANDS adds to it.
var DefaultAllowedCommands = []string{"npx", "node", "python", "python3", "uv", "uvx", "docker", "deno", "bun"}

// Settings holds the FMCP_* process configuration, loaded once at startup.
type Settings struct {
	ListenAddr        string
	BearerToken       string
	SecureMode        bool
	AllowedCommands   []string
	MaxMemoryLogs     int
	ShutdownTimeout   int // seconds, graceful stop grace period for child processes
	MongoURI          string
	MongoDatabase     string
	RestartWindowSec  int
	OTELEndpoint      string
}

// LoadSettings reads FMCP_* environment variables into a Settings value,
// applying the documented defaults for anything unset.
func LoadSettings() Settings {
	s := Settings{
		ListenAddr:       getEnvOr("FMCP_LISTEN_ADDR", ":8090"),
		BearerToken:      os.Getenv("FMCP_BEARER_TOKEN"),
		SecureMode:       os.Getenv("FMCP_SECURE_MODE") == "true",
		AllowedCommands:  DefaultAllowedCommands,
		MaxMemoryLogs:    getEnvIntOr("FMCP_MAX_MEMORY_LOGS", 5000),
		ShutdownTimeout:  getEnvIntOr("FMCP_SHUTDOWN_TIMEOUT_SEC", 10),
		MongoURI:         os.Getenv("FMCP_MONGO_URI"),
		MongoDatabase:    getEnvOr("FMCP_MONGO_DATABASE", "fluidmcp"),
		RestartWindowSec: getEnvIntOr("FMCP_RESTART_WINDOW_SEC", 300),
		OTELEndpoint:     os.Getenv("FMCP_OTEL_ENDPOINT"),
	}
	if raw := os.Getenv("FMCP_ALLOWED_COMMANDS"); raw != "" {
		// FMCP_ALLOWED_COMMANDS extends the default allowlist, it does not
		// replace it.
		seen := make(map[string]bool, len(s.AllowedCommands))
		extended := append([]string(nil), s.AllowedCommands...)
		for _, c := range extended {
			seen[c] = true
		}
		for _, c := range splitCSV(raw) {
			if !seen[c] {
				seen[c] = true
				extended = append(extended, c)
			}
		}
		s.AllowedCommands = extended
	}
	return s
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func splitCSV(raw string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			item := raw[start:i]
			for len(item) > 0 && item[0] == ' ' {
				item = item[1:]
			}
			for len(item) > 0 && item[len(item)-1] == ' ' {
				item = item[:len(item)-1]
			}
			if item != "" {
				out = append(out, item)
			}
			start = i + 1
		}
	}
	return out
}
