// Package config provides configuration loading for codeagentd.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. Defaults are applied for anything left unset, then the whole
// configuration is validated.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete codeagentd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Workspace WorkspaceConfig `koanf:"workspace"`
	Git       GitConfig       `koanf:"git"`
	GitHub    GitHubConfig    `koanf:"github"`
	LLM       LLMConfig       `koanf:"llm"`
	Testing   TestingConfig   `koanf:"testing"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds log output configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// WorkspaceConfig holds task workspace and concurrency configuration.
type WorkspaceConfig struct {
	BasePath           string   `koanf:"base_path"`
	MaxConcurrentTasks int      `koanf:"max_concurrent_tasks"`
	WorkflowTimeout    Duration `koanf:"workflow_timeout"`
	TestingTimeout     Duration `koanf:"testing_timeout"`
}

// GitConfig holds commit identity and branch defaults.
type GitConfig struct {
	UserName      string `koanf:"user_name"`
	UserEmail     string `koanf:"user_email"`
	DefaultBranch string `koanf:"default_branch"`
}

// GitHubConfig holds remote repository access configuration.
// Repositories maps a target service name to its clone URL.
type GitHubConfig struct {
	Token        Secret            `koanf:"token"`
	Repositories map[string]string `koanf:"repositories"`
}

// LLMConfig holds planner model configuration.
type LLMConfig struct {
	Provider    string  `koanf:"provider"`
	Model       string  `koanf:"model"`
	APIKey      Secret  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
}

// TestingConfig holds local test execution configuration.
type TestingConfig struct {
	ServicePort       int     `koanf:"service_port"`
	CoverageThreshold float64 `koanf:"coverage_threshold"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Workspace defaults
	if cfg.Workspace.BasePath == "" {
		cfg.Workspace.BasePath = "/tmp/codeagentd"
	}
	if cfg.Workspace.MaxConcurrentTasks == 0 {
		cfg.Workspace.MaxConcurrentTasks = 5
	}
	if cfg.Workspace.WorkflowTimeout == 0 {
		cfg.Workspace.WorkflowTimeout = Duration(30 * time.Minute)
	}
	if cfg.Workspace.TestingTimeout == 0 {
		cfg.Workspace.TestingTimeout = Duration(5 * time.Minute)
	}

	// Git defaults
	if cfg.Git.UserName == "" {
		cfg.Git.UserName = "codeagentd"
	}
	if cfg.Git.UserEmail == "" {
		cfg.Git.UserEmail = "codeagentd@localhost"
	}
	if cfg.Git.DefaultBranch == "" {
		cfg.Git.DefaultBranch = "main"
	}

	// LLM defaults
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.2
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}

	// Testing defaults
	if cfg.Testing.ServicePort == 0 {
		cfg.Testing.ServicePort = 8001
	}
	if cfg.Testing.CoverageThreshold == 0 {
		cfg.Testing.CoverageThreshold = 80.0
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format %q (must be json or console)", c.Logging.Format)
	}

	if c.Workspace.MaxConcurrentTasks < 1 {
		return fmt.Errorf("max_concurrent_tasks must be >= 1, got %d", c.Workspace.MaxConcurrentTasks)
	}
	if c.Workspace.WorkflowTimeout <= 0 {
		return errors.New("workflow timeout must be positive")
	}
	if c.Workspace.TestingTimeout <= 0 {
		return errors.New("testing timeout must be positive")
	}

	for target, url := range c.GitHub.Repositories {
		if target == "" {
			return errors.New("repository mapping has empty target service name")
		}
		if url == "" {
			return fmt.Errorf("repository mapping for %q has empty URL", target)
		}
	}

	if c.Testing.ServicePort < 0 || c.Testing.ServicePort > 65535 {
		return fmt.Errorf("invalid testing service port: %d", c.Testing.ServicePort)
	}
	if c.Testing.CoverageThreshold < 0 || c.Testing.CoverageThreshold > 100 {
		return fmt.Errorf("coverage threshold must be in [0,100], got %v", c.Testing.CoverageThreshold)
	}

	return nil
}
