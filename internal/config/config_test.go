package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	unsetCoreEnv(t)
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.CompletionMode != "auto" {
		t.Fatalf("CompletionMode = %q, want %q", cfg.CompletionMode, "auto")
	}
	if cfg.MemoryWindow != 200 {
		t.Fatalf("MemoryWindow = %d, want 200", cfg.MemoryWindow)
	}
	if cfg.EstimateMatchMinScore != 0.7 {
		t.Fatalf("EstimateMatchMinScore = %v, want 0.7", cfg.EstimateMatchMinScore)
	}
	if cfg.SessionInactivityTimeout != 30*time.Minute {
		t.Fatalf("SessionInactivityTimeout = %v, want 30m", cfg.SessionInactivityTimeout)
	}
	if cfg.CompletionHTTPURL != "" {
		t.Fatalf("CompletionHTTPURL = %q, want empty default", cfg.CompletionHTTPURL)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	unsetCoreEnv(t)
	chdir(t, t.TempDir())
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("COMPLETION_MODE", "HTTP")
	t.Setenv("COMPLETION_HTTP_URL", "http://localhost:7777/complete")
	t.Setenv("LOG_DEBUG", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9191")
	}
	if cfg.CompletionMode != "http" {
		t.Fatalf("CompletionMode = %q, want %q", cfg.CompletionMode, "http")
	}
	if !cfg.Log.Debug {
		t.Fatalf("Log.Debug = false, want true")
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"short inactivity", map[string]string{"APP_SESSION_INACTIVITY_TIMEOUT": "1s"}},
		{"bad mode", map[string]string{"COMPLETION_MODE": "telepathy"}},
		{"openai without key", map[string]string{"COMPLETION_MODE": "openai"}},
		{"yaml without path", map[string]string{"ESTIMATE_SOURCE": "yaml"}},
		{"score out of range", map[string]string{"ESTIMATE_MATCH_MIN_SCORE": "1.5"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			unsetCoreEnv(t)
			chdir(t, t.TempDir())
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Fatalf("Load() expected error")
			}
		})
	}
}

func TestLoadEnvFileDoesNotOverrideEnvironment(t *testing.T) {
	unsetCoreEnv(t)
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "presales.env")
	content := "APP_BIND_ADDR=:7070\nOPENAI_MODEL=gpt-test\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("OPENAI_MODEL", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":7070" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":7070")
	}
	if cfg.OpenAIModel != "from-env" {
		t.Fatalf("OpenAIModel = %q, want %q", cfg.OpenAIModel, "from-env")
	}
}

func unsetCoreEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_SESSION_PENDING_LIMIT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"MEMORY_WINDOW",
		"COMPLETION_MODE",
		"COMPLETION_TIMEOUT",
		"COMPLETION_HTTP_URL",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"OPENAI_MODEL",
		"OPENAI_TEMPERATURE",
		"OPENAI_MAX_TOKENS",
		"ESTIMATE_SOURCE",
		"ESTIMATE_CATALOG_PATH",
		"ESTIMATE_MATCH_MIN_SCORE",
		"DATABASE_URL",
		"LOG_DEBUG",
		"LOG_PRETTY",
	}
	for _, key := range keys {
		// Setenv registers the restore; envconfig treats an empty-but-set
		// variable as a value, so the key has to be removed outright.
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+): it changes the working directory
// for the duration of the test and restores it on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error = %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir(%q) error = %v", dir, err)
	}
	t.Setenv("PWD", dir)
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore Chdir(%q) error = %v", prev, err)
		}
	})
}
