package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadWithFileDefaults(t *testing.T) {
	path := writeConfigFile(t, "")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 5, cfg.Workspace.MaxConcurrentTasks)
	assert.Equal(t, 30*time.Minute, cfg.Workspace.WorkflowTimeout.Duration())
	assert.Equal(t, "main", cfg.Git.DefaultBranch)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 80.0, cfg.Testing.CoverageThreshold)
}

func TestLoadWithFileYAML(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9000
  shutdown_timeout: 5s
workspace:
  base_path: /var/lib/codeagentd
  max_concurrent_tasks: 3
  workflow_timeout: 15m
github:
  token: ghp_secret_value
  repositories:
    widget-service: https://github.com/acme/widget-service.git
llm:
  provider: anthropic
  model: claude-sonnet
`)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "/var/lib/codeagentd", cfg.Workspace.BasePath)
	assert.Equal(t, 3, cfg.Workspace.MaxConcurrentTasks)
	assert.Equal(t, 15*time.Minute, cfg.Workspace.WorkflowTimeout.Duration())
	assert.Equal(t, "ghp_secret_value", cfg.GitHub.Token.Value())
	assert.Equal(t, "https://github.com/acme/widget-service.git",
		cfg.GitHub.Repositories["widget-service"])
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-sonnet", cfg.LLM.Model)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 9000\n")
	t.Setenv("SERVER_PORT", "9100")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad port", "server:\n  port: 70000\n"},
		{"bad log format", "logging:\n  format: xml\n"},
		{"bad concurrency", "workspace:\n  max_concurrent_tasks: -1\n"},
		{"empty repo url", "github:\n  repositories:\n    svc: \"\"\n"},
		{"bad coverage", "testing:\n  coverage_threshold: 150\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.yaml)
			_, err := LoadWithFile(path)
			assert.Error(t, err)
		})
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("ghp_super_secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "ghp_super_secret", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(data))

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())

	var parsed Secret
	require.NoError(t, json.Unmarshal([]byte(`"raw-token"`), &parsed))
	assert.Equal(t, "raw-token", parsed.Value())
}
