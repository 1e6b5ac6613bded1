package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chatraw/chatraw/internal/logging"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func Test_Load_AppliesYAMLToEnv(t *testing.T) {
	t.Setenv("PORT", "")
	os.Unsetenv("PORT")
	t.Setenv("CHAT_API_URL", "")
	os.Unsetenv("CHAT_API_URL")

	path := writeConfig(t, `
server:
  port: 9090
models:
  chat:
    api_url: https://api.example.com/v1
    model: gpt-x
`)
	loaded, err := Load(path, logging.New())
	if err != nil {
		t.Fatal(err)
	}
	if loaded != path {
		t.Errorf("loaded path = %q, want %q", loaded, path)
	}
	if got := os.Getenv("PORT"); got != "9090" {
		t.Errorf("PORT = %q, want 9090", got)
	}
	if got := os.Getenv("CHAT_API_URL"); got != "https://api.example.com/v1" {
		t.Errorf("CHAT_API_URL = %q", got)
	}
}

func Test_Load_EnvWins(t *testing.T) {
	t.Setenv("PORT", "7777")

	path := writeConfig(t, "server:\n  port: 9090\n")
	if _, err := Load(path, logging.New()); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("PORT"); got != "7777" {
		t.Errorf("env var must win over YAML, PORT = %q", got)
	}
}

func Test_Load_MissingFileIsNotAnError(t *testing.T) {
	t.Setenv("CHATRAW_CONFIG", "")
	os.Unsetenv("CHATRAW_CONFIG")
	t.Setenv("HOME", t.TempDir())

	loaded, err := Load("", logging.New())
	if err != nil {
		t.Fatal(err)
	}
	if loaded != "" {
		t.Errorf("want empty path when no file exists, got %q", loaded)
	}
}

func Test_Load_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")
	if _, err := Load(path, logging.New()); err == nil {
		t.Error("want parse error for malformed YAML")
	}
}

func Test_resolveConfigPath_ExplicitBeatsEnv(t *testing.T) {
	explicit := writeConfig(t, "server: {}\n")
	other := writeConfig(t, "server: {}\n")
	t.Setenv("CHATRAW_CONFIG", other)

	if got := resolveConfigPath(explicit); got != explicit {
		t.Errorf("explicit path must win, got %q", got)
	}
	if got := resolveConfigPath(""); got != other {
		t.Errorf("CHATRAW_CONFIG must be next, got %q", got)
	}
}

func Test_resolveConfigPath_MissingExplicit(t *testing.T) {
	if got := resolveConfigPath(filepath.Join(t.TempDir(), "absent.yaml")); got != "" {
		t.Errorf("missing explicit path resolves to nothing, got %q", got)
	}
}

func Test_intStr_floatStr(t *testing.T) {
	t.Parallel()
	if intStr(0) != "" || intStr(8080) != "8080" {
		t.Error("intStr zero handling")
	}
	if floatStr(0) != "" || floatStr(2.5) != "2.5" {
		t.Error("floatStr zero handling")
	}
}
